package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/pollsync/internal/config"
	"github.com/dokzlo13/pollsync/internal/ledger"
)

type fixedFailures int

func (f fixedFailures) ConsecutiveFailures() int { return int(f) }

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	base := t.TempDir()
	src := filepath.Join(base, "in")
	require.NoError(t, os.MkdirAll(src, 0o755))

	yaml := `
tenant: acme
degree_of_parallelism: 2
source:
  dir: ` + src + `
  pattern: "*.txt"
store:
  driver: sqlite
  path: ` + filepath.Join(base, "state.sqlite") + `
ledger:
  enabled: true
processors:
  - name: mirror
    type: copy
    options:
      dir: ` + filepath.Join(base, "out") + `
`
	cfg, err := config.Parse([]byte(yaml))
	require.NoError(t, err)
	return cfg
}

func TestHealthService_Endpoints(t *testing.T) {
	cfg := &config.Config{Poll: config.PollConfig{FailureThreshold: 3}}

	tests := []struct {
		name     string
		failures int
		path     string
		wantCode int
		wantBody string
	}{
		{name: "health", failures: 10, path: "/health", wantCode: http.StatusOK, wantBody: "healthy"},
		{name: "ready", failures: 2, path: "/ready", wantCode: http.StatusOK, wantBody: "ready"},
		{name: "not ready", failures: 3, path: "/ready", wantCode: http.StatusServiceUnavailable, wantBody: "failing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewHealthService(cfg, fixedFailures(tt.failures), prometheus.NewRegistry())
			rr := httptest.NewRecorder()
			svc.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantCode, rr.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tt.wantBody, body["status"])
		})
	}
}

func TestApp_RunOnce(t *testing.T) {
	cfg := testConfig(t)
	now := time.Now().Add(-time.Minute)
	for _, name := range []string{"a.txt", "b.txt", "ignored.bin"} {
		path := filepath.Join(cfg.Source.Dir, name)
		require.NoError(t, os.WriteFile(path, []byte("content of "+name), 0o644))
		require.NoError(t, os.Chtimes(path, now, now))
	}

	ctx := context.Background()
	a, err := New(ctx, cfg)
	require.NoError(t, err)
	defer a.Close()

	res, err := a.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Counts.Found)
	assert.Equal(t, int64(2), res.Counts.New)
	assert.Equal(t, int64(2), res.Stats.Succeeded)
	assert.Equal(t, 2, res.Saved)

	out := filepath.Join(filepath.Dir(cfg.Source.Dir), "out")
	data, err := os.ReadFile(filepath.Join(out, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "content of a.txt", string(data))

	res, err = a.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Counts.NothingToDo)

	entries, err := a.Services().Ledger.GetByRun(ctx, res.Info.RunID)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, ledger.EventRunStarted, entries[0].EventType)

	rr := httptest.NewRecorder()
	a.Services().Health.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "pollsync_runs_total")
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())

	a, err := New(ctx, cfg)
	require.NoError(t, err)
	defer a.Close()

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
}
