package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// QueryService reads the audit trail. Separate from Recorder so read access
// can be wired without write access.
type QueryService struct {
	db *sql.DB
}

// NewQueryService creates a read-side audit service
func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// Query returns audit records matching the filter in chronological order.
// Ties on timestamp are broken by insert order via the serial ID.
func (q *QueryService) Query(ctx context.Context, filter QueryFilter) ([]*Record, error) {
	query := `
		SELECT id, action_type, entity_type, entity_id, performed_by, changes, timestamp
		FROM audit_records
		WHERE 1=1
	`

	args := []interface{}{}
	argCount := 1

	if filter.StartTime != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *filter.StartTime)
		argCount++
	}

	if filter.EndTime != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *filter.EndTime)
		argCount++
	}

	if filter.EntityType != "" {
		query += fmt.Sprintf(" AND entity_type = $%d", argCount)
		args = append(args, filter.EntityType)
		argCount++
	}

	if filter.EntityID != "" {
		query += fmt.Sprintf(" AND entity_id = $%d", argCount)
		args = append(args, filter.EntityID)
		argCount++
	}

	if filter.PerformedBy != "" {
		query += fmt.Sprintf(" AND performed_by = $%d", argCount)
		args = append(args, filter.PerformedBy)
		argCount++
	}

	if len(filter.ActionTypes) > 0 {
		actionTypeStrs := make([]string, len(filter.ActionTypes))
		for i, at := range filter.ActionTypes {
			actionTypeStrs[i] = string(at)
		}
		query += fmt.Sprintf(" AND action_type = ANY($%d)", argCount)
		args = append(args, pq.Array(actionTypeStrs))
		argCount++
	}

	query += " ORDER BY timestamp ASC, id ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
		argCount++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	records := make([]*Record, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit records: %w", err)
	}

	return records, nil
}

// Get retrieves a single audit record by ID, returning nil when absent
func (q *QueryService) Get(ctx context.Context, id int64) (*Record, error) {
	query := `
		SELECT id, action_type, entity_type, entity_id, performed_by, changes, timestamp
		FROM audit_records
		WHERE id = $1
	`

	record, err := scanRecord(q.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// History returns the full ordered trail for one entity
func (q *QueryService) History(ctx context.Context, entityType, entityID string) ([]*Record, error) {
	return q.Query(ctx, QueryFilter{EntityType: entityType, EntityID: entityID})
}

// GetStats retrieves audit trail statistics for an optional time range
func (q *QueryService) GetStats(ctx context.Context, startTime, endTime *time.Time) (*Stats, error) {
	stats := &Stats{
		RecordsByAction: make(map[ActionType]int64),
		RecordsByEntity: make(map[string]int64),
	}

	whereClause := "WHERE 1=1"
	args := []interface{}{}
	argCount := 1

	if startTime != nil {
		whereClause += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *startTime)
		argCount++
		if stats.TimeRange == nil {
			stats.TimeRange = &TimeRange{}
		}
		stats.TimeRange.Start = *startTime
	}

	if endTime != nil {
		whereClause += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *endTime)
		if stats.TimeRange == nil {
			stats.TimeRange = &TimeRange{}
		}
		stats.TimeRange.End = *endTime
	}

	err := q.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM audit_records %s", whereClause), args...,
	).Scan(&stats.TotalRecords)
	if err != nil {
		return nil, fmt.Errorf("failed to get total records: %w", err)
	}

	rows, err := q.db.QueryContext(ctx,
		fmt.Sprintf("SELECT action_type, COUNT(*) FROM audit_records %s GROUP BY action_type", whereClause), args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get records by action: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var actionType ActionType
		var count int64
		if err := rows.Scan(&actionType, &count); err != nil {
			return nil, err
		}
		stats.RecordsByAction[actionType] = count
	}

	rows, err = q.db.QueryContext(ctx,
		fmt.Sprintf("SELECT entity_type, COUNT(*) FROM audit_records %s GROUP BY entity_type", whereClause), args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get records by entity: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entityType string
		var count int64
		if err := rows.Scan(&entityType, &count); err != nil {
			return nil, err
		}
		stats.RecordsByEntity[entityType] = count
	}

	err = q.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(DISTINCT performed_by) FROM audit_records %s", whereClause), args...,
	).Scan(&stats.UniquePerformers)
	if err != nil {
		return nil, fmt.Errorf("failed to get unique performers: %w", err)
	}

	return stats, nil
}

// Export serializes matching records in the requested format
func (q *QueryService) Export(ctx context.Context, filter QueryFilter, format ExportFormat) ([]byte, error) {
	records, err := q.Query(ctx, filter)
	if err != nil {
		return nil, err
	}

	switch format {
	case ExportFormatCSV:
		return exportCSV(records)
	case ExportFormatNDJSON:
		return exportNDJSON(records)
	case ExportFormatJSON, "":
		return exportJSON(records)
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	record := &Record{}
	var changesJSON []byte

	err := row.Scan(
		&record.ID, &record.ActionType, &record.EntityType, &record.EntityID,
		&record.PerformedBy, &changesJSON, &record.Timestamp,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit record: %w", err)
	}

	if len(changesJSON) > 0 {
		record.Changes = &Changes{}
		if err := json.Unmarshal(changesJSON, record.Changes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal changes: %w", err)
		}
	}

	return record, nil
}
