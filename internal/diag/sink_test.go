package diag

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/pollsync/internal/db"
	"github.com/dokzlo13/pollsync/internal/ledger"
	"github.com/dokzlo13/pollsync/internal/reconcile"
	"github.com/dokzlo13/pollsync/internal/resource"
)

var info = RunInfo{RunID: "run-1", Tenant: "t1", StartedAt: time.Now()}

func TestMetricsSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewMetricsSink(reg)

	s.ResourceFinished(ResourceEvent{RunInfo: info, ResourceID: "a", Outcome: resource.OutcomeNew, Result: resource.ResultSucceeded})
	s.ResourceFinished(ResourceEvent{RunInfo: info, ResourceID: "b", Outcome: resource.OutcomeRetried, Result: resource.ResultFailed, Slow: true})
	s.DuplicateResource(info, &reconcile.DuplicateIDError{ResourceID: "d", Count: 2})
	s.RunFinished(RunSummary{RunInfo: info, Counts: reconcile.Counts{Found: 3, New: 1, Retried: 1, Errored: 1}})
	s.RunFinished(RunSummary{RunInfo: info, Err: errors.New("listing failed"), ConsecutiveFailures: 1})

	assert.Equal(t, 1.0, testutil.ToFloat64(s.resources.WithLabelValues("t1", "new", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.resources.WithLabelValues("t1", "retried", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.slow.WithLabelValues("t1", "resource")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.contractViolations.WithLabelValues("t1", "duplicate_id")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.runs.WithLabelValues("t1", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.runs.WithLabelValues("t1", "failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(s.lastRunCounts.WithLabelValues("t1", "found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.consecutiveFailures.WithLabelValues("t1")))

	expected := `
# HELP pollsync_listing_violations_total Descriptors rejected or duplicated by the lister.
# TYPE pollsync_listing_violations_total counter
pollsync_listing_violations_total{kind="duplicate_id",tenant="t1"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "pollsync_listing_violations_total"))
}

func TestLedgerSink(t *testing.T) {
	ctx := context.Background()
	database, err := db.Open(filepath.Join(t.TempDir(), "diag.sqlite"))
	require.NoError(t, err)
	defer database.Close()
	require.NoError(t, db.EnsureSchema(ctx, database.DB))

	l := ledger.New(database.DB)
	s := NewLedgerSink(l)

	banned := time.Now().Add(time.Hour)
	s.RunStarted(info)
	s.ResourceRejected(info, &reconcile.InvariantViolation{ResourceID: "bad", Err: reconcile.ErrMissingMarker})
	s.ResourceFinished(ResourceEvent{
		RunInfo: info, ResourceID: "r1", Outcome: resource.OutcomeRetried,
		Result: resource.ResultFailed, RetryCount: 3, BannedUntil: &banned, Err: errors.New("boom"),
	})
	s.RunFinished(RunSummary{RunInfo: info, Counts: reconcile.Counts{Found: 2}})

	entries, err := l.GetByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.Equal(t, ledger.EventRunStarted, entries[0].EventType)
	assert.Equal(t, ledger.EventResourceRejected, entries[1].EventType)
	assert.Equal(t, "r1", entries[2].ResourceID)
	assert.Equal(t, "failed", entries[2].Payload["result"])
	assert.Equal(t, "boom", entries[2].Payload["error"])
	assert.Contains(t, entries[2].Payload, "banned_until")
	assert.Equal(t, ledger.EventRunCompleted, entries[3].EventType)
}

func TestMultiFansOut(t *testing.T) {
	a, b := &countingSink{}, &countingSink{}
	m := Multi{a, b, Nop{}}

	m.RunStarted(info)
	m.ResourceFinished(ResourceEvent{RunInfo: info})
	m.RunFinished(RunSummary{RunInfo: info})

	for _, s := range []*countingSink{a, b} {
		assert.Equal(t, 3, s.calls)
	}
}

type countingSink struct {
	Nop
	calls int
}

func (c *countingSink) RunStarted(RunInfo)             { c.calls++ }
func (c *countingSink) ResourceFinished(ResourceEvent) { c.calls++ }
func (c *countingSink) RunFinished(RunSummary)         { c.calls++ }
