package shared

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecer struct {
	sql  string
	args []any
}

func (e *recordingExecer) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	e.sql = sql
	e.args = args
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestAuditLoggerRecord(t *testing.T) {
	db := &recordingExecer{}
	logger := NewAuditLogger(db)

	err := logger.Record(context.Background(), AuditLog{
		ActorID:   1,
		AccountID: 10,
		Action:    "permissions.replace",
		Entity:    "membership",
		EntityID:  "7:10",
		Meta:      map[string]any{"added": []string{"view_rooms"}},
	})
	require.NoError(t, err)

	require.Len(t, db.args, 7)
	assert.Equal(t, int64(10), db.args[1])
	var meta map[string][]string
	require.NoError(t, json.Unmarshal(db.args[5].([]byte), &meta))
	assert.Equal(t, []string{"view_rooms"}, meta["added"])
	assert.Nil(t, db.args[6])
}

func TestAuditLoggerRequiresFields(t *testing.T) {
	assert.Error(t, NewAuditLogger(&recordingExecer{}).Record(context.Background(), AuditLog{Action: "x"}))

	var nilLogger *AuditLogger
	assert.Error(t, nilLogger.Record(context.Background(), AuditLog{}))
}
