package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/pollsync/internal/db"
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "ledger.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.EnsureSchema(context.Background(), database.DB))
	return New(database.DB)
}

func TestLedger_AppendAndQuery(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)

	require.NoError(t, l.Append(ctx, Entry{EventType: EventRunStarted, Tenant: "t1", RunID: "run-1"}))
	require.NoError(t, l.Append(ctx, Entry{
		EventType:  EventResourceFinished,
		Tenant:     "t1",
		RunID:      "run-1",
		ResourceID: "r1",
		Payload:    map[string]any{"result": "failed", "retry_count": 1},
	}))
	require.NoError(t, l.Append(ctx, Entry{EventType: EventRunCompleted, Tenant: "t1", RunID: "run-1"}))

	entries, err := l.GetByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, EventRunStarted, entries[0].EventType)
	assert.Equal(t, "", entries[0].ResourceID)
	assert.Equal(t, EventRunCompleted, entries[2].EventType)

	byResource, err := l.GetByResource(ctx, "t1", "r1", 10)
	require.NoError(t, err)
	require.Len(t, byResource, 1)
	assert.Equal(t, "failed", byResource[0].Payload["result"])
	assert.EqualValues(t, 1, byResource[0].Payload["retry_count"])

	byType, err := l.GetByType(ctx, EventRunCompleted, 10)
	require.NoError(t, err)
	assert.Len(t, byType, 1)
}

func TestLedger_DeleteOlderThan(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)

	require.NoError(t, l.Append(ctx, Entry{EventType: EventRunStarted, Tenant: "t1", RunID: "old", Timestamp: time.Now().Add(-48 * time.Hour)}))
	require.NoError(t, l.Append(ctx, Entry{EventType: EventRunStarted, Tenant: "t1", RunID: "new"}))

	deleted, err := l.DeleteOlderThan(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	old, err := l.GetByRun(ctx, "old")
	require.NoError(t, err)
	assert.Empty(t, old)
}
