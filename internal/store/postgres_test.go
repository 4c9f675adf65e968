package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/pollsync/internal/resource"
)

// Runs only against a real server: POLLSYNC_TEST_PG_DSN=postgres://...
func TestPostgresStore_RoundTrip(t *testing.T) {
	dsn := os.Getenv("POLLSYNC_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("POLLSYNC_TEST_PG_DSN not set")
	}

	ctx := context.Background()
	pool, err := OpenPostgresPool(ctx, dsn, 4)
	require.NoError(t, err)
	defer pool.Close()

	s := NewPostgresStore[fileExt](pool, "", nil, 2)
	require.NoError(t, s.EnsureSchema(ctx))
	require.NoError(t, s.EnsureSchema(ctx))

	tenant := "test-" + time.Now().Format("20060102150405.000000000")
	at := time.Now().UTC().Truncate(time.Microsecond)

	st := sampleState(tenant, "r1", at)
	require.NoError(t, s.Save(ctx, []*resource.State[fileExt]{st, sampleState(tenant, "r2", at), sampleState(tenant, "r3", at)}))

	st.RetryCount = 2
	require.NoError(t, s.Save(ctx, []*resource.State[fileExt]{st}))

	all, err := s.Load(ctx, tenant, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	// Above the bulk threshold of 2, exercises the array parameter path
	some, err := s.Load(ctx, tenant, []string{"r1", "r2", "missing"})
	require.NoError(t, err)
	assert.Len(t, some, 2)

	byID := ByID(some)
	require.Contains(t, byID, "r1")
	assert.Equal(t, 2, byID["r1"].RetryCount)
	assert.Equal(t, fileExt{Size: 42, Mode: "0644"}, byID["r1"].Extensions)
}
