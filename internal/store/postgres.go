package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opencontainers/go-digest"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/pollsync/internal/resource"
)

// PostgresStore keeps tracking state in a Postgres table through a pgx pool.
type PostgresStore[E any] struct {
	pool          *pgxpool.Pool
	codec         Codec[E]
	table         string
	bulkThreshold int
}

// OpenPostgresPool connects a pool sized for the worker count.
func OpenPostgresPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return pool, nil
}

// NewPostgresStore creates a store. An empty schema uses the search path.
func NewPostgresStore[E any](pool *pgxpool.Pool, schema string, codec Codec[E], bulkThreshold int) *PostgresStore[E] {
	if codec == nil {
		codec = JSONCodec[E]{}
	}
	if bulkThreshold <= 0 {
		bulkThreshold = DefaultBulkThreshold
	}
	table := "resource_tracking"
	if schema != "" {
		table = pgx.Identifier{schema, table}.Sanitize()
	}
	return &PostgresStore[E]{pool: pool, codec: codec, table: table, bulkThreshold: bulkThreshold}
}

func (s *PostgresStore[E]) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			tenant TEXT NOT NULL,
			resource_id TEXT NOT NULL,
			marker TEXT NOT NULL,
			last_event_time TIMESTAMPTZ NOT NULL,
			retrieved_at TIMESTAMPTZ,
			retry_count INTEGER NOT NULL DEFAULT 0,
			checksum TEXT NOT NULL DEFAULT '',
			extensions BYTEA,
			last_failure TEXT NOT NULL DEFAULT '',
			banned_until TIMESTAMPTZ,
			version BIGINT NOT NULL DEFAULT 1,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (tenant, resource_id)
		)`, s.table))
	if err != nil {
		return fmt.Errorf("failed to create %s table: %w", s.table, err)
	}
	return nil
}

func (s *PostgresStore[E]) Load(ctx context.Context, tenant string, ids []string) ([]*resource.State[E], error) {
	query := fmt.Sprintf(`
		SELECT resource_id, marker, last_event_time, retrieved_at, retry_count,
			checksum, extensions, last_failure, banned_until
		FROM %s
		WHERE tenant = $1`, s.table)
	args := []any{tenant}

	switch {
	case ids == nil:
	case len(ids) == 0:
		return nil, nil
	case len(ids) > s.bulkThreshold:
		query += ` AND resource_id = ANY($2::text[])`
		args = append(args, ids)
	default:
		var sb strings.Builder
		for i, id := range ids {
			if i > 0 {
				sb.WriteString(",")
			}
			fmt.Fprintf(&sb, "$%d", i+2)
			args = append(args, id)
		}
		query += ` AND resource_id IN (` + sb.String() + `)`
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*resource.State[E]
	for rows.Next() {
		var (
			st         = &resource.State[E]{Tenant: tenant}
			marker     string
			checksum   string
			extensions []byte
		)
		if err := rows.Scan(&st.ResourceID, &marker, &st.LastEventTime, &st.RetrievedAt, &st.RetryCount,
			&checksum, &extensions, &st.LastFailure, &st.BannedUntil); err != nil {
			return nil, err
		}
		if st.Marker, err = decodeMarker(marker); err != nil {
			return nil, fmt.Errorf("failed to decode marker of %q: %w", st.ResourceID, err)
		}
		if st.Extensions, err = s.codec.Unmarshal(extensions); err != nil {
			return nil, fmt.Errorf("failed to decode extensions of %q: %w", st.ResourceID, err)
		}
		st.Checksum = digest.Digest(checksum)
		states = append(states, st)
	}

	return states, rows.Err()
}

func (s *PostgresStore[E]) Save(ctx context.Context, states []*resource.State[E]) error {
	if len(states) == 0 {
		return nil
	}

	upsert := fmt.Sprintf(`
		INSERT INTO %s (tenant, resource_id, marker, last_event_time, retrieved_at,
			retry_count, checksum, extensions, last_failure, banned_until)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tenant, resource_id) DO UPDATE SET
			marker = EXCLUDED.marker,
			last_event_time = EXCLUDED.last_event_time,
			retrieved_at = EXCLUDED.retrieved_at,
			retry_count = EXCLUDED.retry_count,
			checksum = EXCLUDED.checksum,
			extensions = EXCLUDED.extensions,
			last_failure = EXCLUDED.last_failure,
			banned_until = EXCLUDED.banned_until,
			version = %s.version + 1,
			updated_at = now()`, s.table, s.table)

	b := &pgx.Batch{}
	for _, st := range states {
		marker, err := encodeMarker(st.Marker)
		if err != nil {
			return fmt.Errorf("failed to encode marker of %q: %w", st.ResourceID, err)
		}
		ext, err := s.codec.Marshal(st.Extensions)
		if err != nil {
			return fmt.Errorf("failed to encode extensions of %q: %w", st.ResourceID, err)
		}
		b.Queue(upsert, st.Tenant, st.ResourceID, marker, st.LastEventTime, st.RetrievedAt,
			st.RetryCount, string(st.Checksum), ext, st.LastFailure, st.BannedUntil)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, b)
	for _, st := range states {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("failed to upsert %q: %w", st.ResourceID, err)
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Debug().Int("count", len(states)).Msg("PostgresStore.Save completed")
	return nil
}
