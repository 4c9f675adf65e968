package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/pollsync/internal/db"
	"github.com/dokzlo13/pollsync/internal/resource"
)

// SQLiteStore keeps tracking state in the resource_tracking table.
// Each row carries a version that increments on every upsert.
type SQLiteStore[E any] struct {
	db            *sql.DB
	codec         Codec[E]
	bulkThreshold int
	mu            sync.RWMutex
}

// NewSQLiteStore creates a store on an open SQLite connection.
func NewSQLiteStore[E any](conn *sql.DB, codec Codec[E], bulkThreshold int) *SQLiteStore[E] {
	if codec == nil {
		codec = JSONCodec[E]{}
	}
	if bulkThreshold <= 0 {
		bulkThreshold = DefaultBulkThreshold
	}
	return &SQLiteStore[E]{db: conn, codec: codec, bulkThreshold: bulkThreshold}
}

func (s *SQLiteStore[E]) EnsureSchema(ctx context.Context) error {
	return db.EnsureSchema(ctx, s.db)
}

const sqliteSelect = `
	SELECT resource_id, marker, last_event_time, retrieved_at, retry_count,
		checksum, extensions, last_failure, banned_until
	FROM resource_tracking
	WHERE tenant = ?`

func (s *SQLiteStore[E]) Load(ctx context.Context, tenant string, ids []string) ([]*resource.State[E], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := sqliteSelect
	args := []any{tenant}

	switch {
	case ids == nil:
	case len(ids) == 0:
		return nil, nil
	case len(ids) > s.bulkThreshold:
		// One JSON array parameter instead of thousands of placeholders
		data, err := json.Marshal(ids)
		if err != nil {
			return nil, fmt.Errorf("failed to encode id set: %w", err)
		}
		query += ` AND resource_id IN (SELECT value FROM json_each(?))`
		args = append(args, string(data))
	default:
		query += ` AND resource_id IN (` + strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",") + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*resource.State[E]
	for rows.Next() {
		var (
			st          = &resource.State[E]{Tenant: tenant}
			marker      string
			lastEvent   int64
			retrievedAt sql.NullInt64
			checksum    string
			extensions  sql.NullString
			bannedUntil sql.NullInt64
		)
		if err := rows.Scan(&st.ResourceID, &marker, &lastEvent, &retrievedAt, &st.RetryCount,
			&checksum, &extensions, &st.LastFailure, &bannedUntil); err != nil {
			return nil, err
		}

		if st.Marker, err = decodeMarker(marker); err != nil {
			return nil, fmt.Errorf("failed to decode marker of %q: %w", st.ResourceID, err)
		}
		if st.Extensions, err = s.codec.Unmarshal([]byte(extensions.String)); err != nil {
			return nil, fmt.Errorf("failed to decode extensions of %q: %w", st.ResourceID, err)
		}
		st.LastEventTime = time.Unix(0, lastEvent).UTC()
		st.RetrievedAt = nullTime(retrievedAt)
		st.BannedUntil = nullTime(bannedUntil)
		st.Checksum = digest.Digest(checksum)

		states = append(states, st)
	}

	return states, rows.Err()
}

func (s *SQLiteStore[E]) Save(ctx context.Context, states []*resource.State[E]) error {
	if len(states) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO resource_tracking (tenant, resource_id, marker, last_event_time, retrieved_at,
			retry_count, checksum, extensions, last_failure, banned_until, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(tenant, resource_id) DO UPDATE SET
			marker = excluded.marker,
			last_event_time = excluded.last_event_time,
			retrieved_at = excluded.retrieved_at,
			retry_count = excluded.retry_count,
			checksum = excluded.checksum,
			extensions = excluded.extensions,
			last_failure = excluded.last_failure,
			banned_until = excluded.banned_until,
			version = version + 1,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC().Unix()
	for _, st := range states {
		marker, err := encodeMarker(st.Marker)
		if err != nil {
			return fmt.Errorf("failed to encode marker of %q: %w", st.ResourceID, err)
		}
		ext, err := s.codec.Marshal(st.Extensions)
		if err != nil {
			return fmt.Errorf("failed to encode extensions of %q: %w", st.ResourceID, err)
		}

		if _, err := stmt.ExecContext(ctx,
			st.Tenant, st.ResourceID, marker, st.LastEventTime.UnixNano(), unixNanoOrNil(st.RetrievedAt),
			st.RetryCount, string(st.Checksum), string(ext), st.LastFailure, unixNanoOrNil(st.BannedUntil), now,
		); err != nil {
			return fmt.Errorf("failed to upsert %q: %w", st.ResourceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	log.Debug().Int("count", len(states)).Msg("SQLiteStore.Save completed")
	return nil
}

// Version returns the row version of one record, 0 if absent.
func (s *SQLiteStore[E]) Version(ctx context.Context, tenant, id string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var version int64
	err := s.db.QueryRowContext(ctx, `
		SELECT version FROM resource_tracking WHERE tenant = ? AND resource_id = ?
	`, tenant, id).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return version, err
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}

func unixNanoOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}
