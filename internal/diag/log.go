package diag

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/pollsync/internal/reconcile"
	"github.com/dokzlo13/pollsync/internal/resource"
)

// LogSink writes diagnostics to the global zerolog logger.
type LogSink struct{}

func (LogSink) RunStarted(info RunInfo) {
	log.Info().
		Str("tenant", info.Tenant).
		Str("run_id", info.RunID).
		Msg("Reconciliation run started")
}

func (LogSink) ResourceRejected(info RunInfo, err *reconcile.InvariantViolation) {
	log.Warn().
		Err(err).
		Str("tenant", info.Tenant).
		Str("run_id", info.RunID).
		Str("resource_id", err.ResourceID).
		Msg("Resource descriptor rejected")
}

func (LogSink) DuplicateResource(info RunInfo, err *reconcile.DuplicateIDError) {
	log.Error().
		Str("tenant", info.Tenant).
		Str("run_id", info.RunID).
		Str("resource_id", err.ResourceID).
		Int("count", err.Count).
		Msg("Lister returned duplicate resource id")
}

func (LogSink) ResourceFinished(ev ResourceEvent) {
	var e *zerolog.Event
	switch {
	case ev.Result == resource.ResultFailed:
		e = log.Warn().Err(ev.Err)
	case ev.Slow:
		e = log.Warn()
	default:
		e = log.Debug()
	}

	e = e.
		Str("tenant", ev.Tenant).
		Str("run_id", ev.RunID).
		Str("resource_id", ev.ResourceID).
		Str("outcome", ev.Outcome.String()).
		Str("result", ev.Result.String()).
		Dur("duration", ev.Duration).
		Int("retry_count", ev.RetryCount)
	if ev.BannedUntil != nil {
		e = e.Time("banned_until", *ev.BannedUntil)
	}
	if ev.ChecksumChanged {
		e = e.Bool("checksum_changed", true)
	}
	if ev.Slow {
		e = e.Bool("slow", true)
	}
	e.Msg("Resource processed")
}

func (LogSink) RunFinished(s RunSummary) {
	var e *zerolog.Event
	switch {
	case s.Err != nil:
		e = log.Error().Err(s.Err).Int("consecutive_failures", s.ConsecutiveFailures)
	case s.Slow:
		e = log.Warn().Bool("slow", true)
	default:
		e = log.Info()
	}

	e.
		Str("tenant", s.Tenant).
		Str("run_id", s.RunID).
		Dur("duration", s.Duration).
		Int64("found", s.Counts.Found).
		Int64("new", s.Counts.New).
		Int64("updated", s.Counts.Updated).
		Int64("retried", s.Counts.Retried).
		Int64("retried_after_ban", s.Counts.RetriedAfterBan).
		Int64("banned", s.Counts.Banned).
		Int64("nothing_to_do", s.Counts.NothingToDo).
		Int64("stale", s.Counts.Stale).
		Int64("errored", s.Counts.Errored).
		Int64("succeeded", s.Succeeded).
		Int64("not_modified", s.NotModified).
		Int("saved", s.Saved).
		Msg("Reconciliation run finished")
}
