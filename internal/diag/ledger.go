package diag

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/pollsync/internal/ledger"
	"github.com/dokzlo13/pollsync/internal/reconcile"
)

const ledgerWriteTimeout = 5 * time.Second

// LedgerSink appends diagnostics to the event ledger. Write failures are
// logged and otherwise ignored.
type LedgerSink struct {
	ledger *ledger.Ledger
}

// NewLedgerSink creates a sink writing to l.
func NewLedgerSink(l *ledger.Ledger) *LedgerSink {
	return &LedgerSink{ledger: l}
}

func (s *LedgerSink) RunStarted(info RunInfo) {
	s.append(ledger.Entry{
		EventType: ledger.EventRunStarted,
		Timestamp: info.StartedAt,
		Tenant:    info.Tenant,
		RunID:     info.RunID,
	})
}

func (s *LedgerSink) ResourceRejected(info RunInfo, err *reconcile.InvariantViolation) {
	s.append(ledger.Entry{
		EventType:  ledger.EventResourceRejected,
		Tenant:     info.Tenant,
		RunID:      info.RunID,
		ResourceID: err.ResourceID,
		Payload:    map[string]any{"error": err.Error()},
	})
}

func (s *LedgerSink) DuplicateResource(info RunInfo, err *reconcile.DuplicateIDError) {
	s.append(ledger.Entry{
		EventType:  ledger.EventDuplicateID,
		Tenant:     info.Tenant,
		RunID:      info.RunID,
		ResourceID: err.ResourceID,
		Payload:    map[string]any{"count": err.Count},
	})
}

func (s *LedgerSink) ResourceFinished(ev ResourceEvent) {
	payload := map[string]any{
		"outcome":     ev.Outcome.String(),
		"result":      ev.Result.String(),
		"duration_ms": ev.Duration.Milliseconds(),
		"retry_count": ev.RetryCount,
	}
	if ev.BannedUntil != nil {
		payload["banned_until"] = ev.BannedUntil.UTC().Format(time.RFC3339)
	}
	if ev.ChecksumChanged {
		payload["checksum_changed"] = true
	}
	if ev.Err != nil {
		payload["error"] = ev.Err.Error()
	}

	s.append(ledger.Entry{
		EventType:  ledger.EventResourceFinished,
		Tenant:     ev.Tenant,
		RunID:      ev.RunID,
		ResourceID: ev.ResourceID,
		Payload:    payload,
	})
}

func (s *LedgerSink) RunFinished(sum RunSummary) {
	eventType := ledger.EventRunCompleted
	payload := map[string]any{
		"counts":       sum.Counts,
		"succeeded":    sum.Succeeded,
		"failed":       sum.Failed,
		"not_modified": sum.NotModified,
		"saved":        sum.Saved,
		"duration_ms":  sum.Duration.Milliseconds(),
	}
	if sum.Err != nil {
		eventType = ledger.EventRunFailed
		payload["error"] = sum.Err.Error()
		payload["consecutive_failures"] = sum.ConsecutiveFailures
	}

	s.append(ledger.Entry{
		EventType: eventType,
		Tenant:    sum.Tenant,
		RunID:     sum.RunID,
		Payload:   payload,
	})
}

func (s *LedgerSink) append(e ledger.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), ledgerWriteTimeout)
	defer cancel()

	if err := s.ledger.Append(ctx, e); err != nil {
		log.Warn().Err(err).Str("event_type", string(e.EventType)).Msg("Failed to append to ledger")
	}
}
