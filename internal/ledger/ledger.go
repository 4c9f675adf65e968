// Package ledger provides an append-only history of reconciliation runs and
// per-resource outcomes. It is meant for auditing and post-mortems, the
// tracking state itself lives in the state store.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventRunStarted       EventType = "run_started"
	EventRunCompleted     EventType = "run_completed"
	EventRunFailed        EventType = "run_failed"
	EventResourceFinished EventType = "resource_finished"
	EventResourceRejected EventType = "resource_rejected"
	EventDuplicateID      EventType = "duplicate_id"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID         int64
	EventType  EventType
	Timestamp  time.Time
	Tenant     string
	RunID      string
	ResourceID string // Empty for run-level events
	Payload    map[string]any
}

// Ledger provides append-only event logging
type Ledger struct {
	db *sql.DB
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Append adds a new event to the ledger
func (l *Ledger) Append(ctx context.Context, e Entry) error {
	var payloadJSON []byte
	var err error

	if e.Payload != nil {
		payloadJSON, err = json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	var resourceID any
	if e.ResourceID != "" {
		resourceID = e.ResourceID
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO event_ledger (event_type, timestamp, tenant, run_id, resource_id, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(e.EventType), ts.UTC().UnixMilli(), e.Tenant, e.RunID, resourceID, string(payloadJSON))

	return err
}

// GetByRun returns all entries of one run in insertion order
func (l *Ledger) GetByRun(ctx context.Context, runID string) ([]*Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, event_type, timestamp, tenant, run_id, resource_id, payload
		FROM event_ledger
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByResource returns the most recent entries of one resource
func (l *Ledger) GetByResource(ctx context.Context, tenant, resourceID string, limit int) ([]*Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, event_type, timestamp, tenant, run_id, resource_id, payload
		FROM event_ledger
		WHERE tenant = ? AND resource_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, tenant, resourceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByType returns entries filtered by event type
func (l *Ledger) GetByType(ctx context.Context, eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, event_type, timestamp, tenant, run_id, resource_id, payload
		FROM event_ledger
		WHERE event_type = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC().UnixMilli()
	result, err := l.db.ExecContext(ctx, `
		DELETE FROM event_ledger WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var e Entry
		var eventType string
		var ts int64
		var resourceID, payload sql.NullString

		if err := rows.Scan(&e.ID, &eventType, &ts, &e.Tenant, &e.RunID, &resourceID, &payload); err != nil {
			return nil, err
		}

		e.EventType = EventType(eventType)
		e.Timestamp = time.UnixMilli(ts).UTC()
		e.ResourceID = resourceID.String
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload of entry %d: %w", e.ID, err)
			}
		}

		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
