package audit

import (
	"encoding/json"
	"time"
)

// ActionType identifies which mutation an audit record describes
type ActionType string

const (
	ActionRoleCreated  ActionType = "role_created"
	ActionRoleUpdated  ActionType = "role_updated"
	ActionRoleDeleted  ActionType = "role_deleted"
	ActionGrantCreated ActionType = "grant_created"
	ActionGrantDeleted ActionType = "grant_deleted"
)

// Valid reports whether the action type is one of the recorded kinds
func (a ActionType) Valid() bool {
	switch a {
	case ActionRoleCreated, ActionRoleUpdated, ActionRoleDeleted,
		ActionGrantCreated, ActionGrantDeleted:
		return true
	}
	return false
}

// Record is a single append-only audit entry. The ID is assigned by the
// database on insert and breaks ordering ties between records with the
// same timestamp.
type Record struct {
	ID          int64      `json:"id"`
	ActionType  ActionType `json:"action_type"`
	EntityType  string     `json:"entity_type"`
	EntityID    string     `json:"entity_id"`
	PerformedBy string     `json:"performed_by"`
	Changes     *Changes   `json:"changes,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}

// Changes tracks before and after snapshots for updates. Creates carry only
// After, deletes only Before.
type Changes struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// ToJSON converts the record to JSON
func (r *Record) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// FromJSON parses a record from JSON
func FromJSON(data []byte) (*Record, error) {
	var record Record
	err := json.Unmarshal(data, &record)
	return &record, err
}

// QueryFilter restricts which audit records a query returns. All fields are
// optional and combine with AND.
type QueryFilter struct {
	// Time range, inclusive on both ends
	StartTime *time.Time
	EndTime   *time.Time

	// Entity filters
	EntityType string
	EntityID   string

	// Actor filter
	PerformedBy string

	// Action filters
	ActionTypes []ActionType

	// Pagination
	Limit  int
	Offset int
}

// ExportFormat selects the serialization used by Export
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson"
)

// Stats summarizes audit activity over an optional time range
type Stats struct {
	TotalRecords     int64                `json:"total_records"`
	RecordsByAction  map[ActionType]int64 `json:"records_by_action"`
	RecordsByEntity  map[string]int64     `json:"records_by_entity"`
	UniquePerformers int64                `json:"unique_performers"`
	TimeRange        *TimeRange           `json:"time_range,omitempty"`
}

// TimeRange bounds a statistics query
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
