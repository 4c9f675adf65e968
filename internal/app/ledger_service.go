package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/pollsync/internal/config"
	"github.com/dokzlo13/pollsync/internal/ledger"
)

// LedgerCleanupService periodically deletes ledger entries past retention.
type LedgerCleanupService struct {
	ledger    *ledger.Ledger
	retention time.Duration
	interval  time.Duration
}

// NewLedgerCleanupService creates a new LedgerCleanupService.
func NewLedgerCleanupService(l *ledger.Ledger, cfg config.LedgerConfig) *LedgerCleanupService {
	return &LedgerCleanupService{
		ledger:    l,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		interval:  cfg.CleanupInterval.Duration(),
	}
}

// Run cleans up once at start and then every interval until ctx is done.
func (s *LedgerCleanupService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.cleanup(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *LedgerCleanupService) cleanup(ctx context.Context) {
	deleted, err := s.ledger.DeleteOlderThan(ctx, s.retention)
	if err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
		}
		return
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Dur("retention", s.retention).Msg("Cleaned up old ledger entries")
	}
}
