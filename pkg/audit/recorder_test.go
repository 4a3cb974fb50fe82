package audit

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestNewDBRecorder(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock := setupMockDB(t)

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_records").WillReturnResult(sqlmock.NewResult(0, 0))

		recorder, err := NewDBRecorder(db)
		require.NoError(t, err)
		assert.NotNil(t, recorder)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil database", func(t *testing.T) {
		recorder, err := NewDBRecorder(nil)
		assert.Error(t, err)
		assert.Nil(t, recorder)
		assert.Contains(t, err.Error(), "database connection is required")
	})

	t.Run("table creation error", func(t *testing.T) {
		db, mock := setupMockDB(t)

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_records").WillReturnError(errors.New("permission denied"))

		recorder, err := NewDBRecorder(db)
		assert.Error(t, err)
		assert.Nil(t, recorder)
		assert.Contains(t, err.Error(), "failed to ensure audit_records table")
	})
}

func TestDBRecorder_Record(t *testing.T) {
	t.Run("assigns the serial ID", func(t *testing.T) {
		db, mock := setupMockDB(t)
		recorder := &DBRecorder{db: db}

		mock.ExpectQuery("INSERT INTO audit_records").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

		record := &Record{
			ActionType:  ActionRoleCreated,
			EntityType:  "Role",
			EntityID:    "r-1",
			PerformedBy: "admin@example.com",
			Changes: &Changes{
				After: map[string]interface{}{"name": "editor"},
			},
			Timestamp: time.Now().UTC(),
		}

		err := recorder.Record(context.Background(), record)
		require.NoError(t, err)
		assert.Equal(t, int64(42), record.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects unknown action types", func(t *testing.T) {
		db, _ := setupMockDB(t)
		recorder := &DBRecorder{db: db}

		err := recorder.Record(context.Background(), &Record{
			ActionType: ActionType("role_renamed"),
			EntityType: "Role",
			EntityID:   "r-1",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown audit action type")
	})

	t.Run("insert failure surfaces", func(t *testing.T) {
		db, mock := setupMockDB(t)
		recorder := &DBRecorder{db: db}

		mock.ExpectQuery("INSERT INTO audit_records").
			WillReturnError(errors.New("connection reset"))

		err := recorder.Record(context.Background(), &Record{
			ActionType: ActionGrantCreated,
			EntityType: "ResourceGrant",
			EntityID:   "g-1",
			Timestamp:  time.Now().UTC(),
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert audit record")
	})

	t.Run("nil changes insert without payload", func(t *testing.T) {
		db, mock := setupMockDB(t)
		recorder := &DBRecorder{db: db}

		mock.ExpectQuery("INSERT INTO audit_records").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

		err := recorder.Record(context.Background(), &Record{
			ActionType: ActionGrantDeleted,
			EntityType: "ResourceGrant",
			EntityID:   "g-1",
			Timestamp:  time.Now().UTC(),
		})
		assert.NoError(t, err)
	})
}

func TestActionType_Valid(t *testing.T) {
	valid := []ActionType{
		ActionRoleCreated, ActionRoleUpdated, ActionRoleDeleted,
		ActionGrantCreated, ActionGrantDeleted,
	}
	for _, at := range valid {
		assert.True(t, at.Valid(), "expected %s to be valid", at)
	}

	assert.False(t, ActionType("role_renamed").Valid())
	assert.False(t, ActionType("").Valid())
}
