package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Recorder appends audit records. The interface is append-only on purpose:
// there is no update or delete, records written here are permanent.
type Recorder interface {
	Record(ctx context.Context, record *Record) error
}

// DBRecorder implements audit recording to PostgreSQL
type DBRecorder struct {
	db *sql.DB
}

// NewDBRecorder creates a database-backed audit recorder
func NewDBRecorder(db *sql.DB) (*DBRecorder, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	recorder := &DBRecorder{
		db: db,
	}

	// Ensure the audit_records table exists
	if err := recorder.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_records table: %w", err)
	}

	return recorder, nil
}

// ensureTable creates the audit_records table if it doesn't exist
func (r *DBRecorder) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_records (
		id BIGSERIAL PRIMARY KEY,
		action_type VARCHAR(50) NOT NULL,
		entity_type VARCHAR(50) NOT NULL,
		entity_id VARCHAR(255) NOT NULL,
		performed_by VARCHAR(255) NOT NULL,
		changes JSONB,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL
	);

	-- Create indexes for common query patterns
	CREATE INDEX IF NOT EXISTS idx_audit_records_timestamp ON audit_records(timestamp, id);
	CREATE INDEX IF NOT EXISTS idx_audit_records_entity ON audit_records(entity_type, entity_id);
	CREATE INDEX IF NOT EXISTS idx_audit_records_performed_by ON audit_records(performed_by);
	CREATE INDEX IF NOT EXISTS idx_audit_records_action_type ON audit_records(action_type);
	`

	_, err := r.db.Exec(query)
	return err
}

// Record inserts one audit record and fills in its assigned ID
func (r *DBRecorder) Record(ctx context.Context, record *Record) error {
	if !record.ActionType.Valid() {
		return fmt.Errorf("unknown audit action type %q", record.ActionType)
	}

	var changesJSON []byte
	var err error
	if record.Changes != nil {
		changesJSON, err = json.Marshal(record.Changes)
		if err != nil {
			return fmt.Errorf("failed to marshal changes: %w", err)
		}
	}

	query := `
		INSERT INTO audit_records (
			action_type, entity_type, entity_id, performed_by, changes, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	err = r.db.QueryRowContext(ctx, query,
		record.ActionType, record.EntityType, record.EntityID,
		record.PerformedBy, changesJSON, record.Timestamp,
	).Scan(&record.ID)

	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}

	return nil
}
