package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dokzlo13/pollsync/internal/db"
	"github.com/dokzlo13/pollsync/internal/ledger"
)

var knownEventTypes = []ledger.EventType{
	ledger.EventRunStarted,
	ledger.EventRunCompleted,
	ledger.EventRunFailed,
	ledger.EventResourceFinished,
	ledger.EventResourceRejected,
	ledger.EventDuplicateID,
}

type historyOptions struct {
	RunID      string
	ResourceID string
	EventType  string
	Limit      int
}

func newHistoryCmd() *cobra.Command {
	var opts historyOptions

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print event ledger entries for a run, a resource or an event type",
		Example: `  pollsync history --run 6f1c...
  pollsync history --resource reports/2024.csv --limit 20
  pollsync history --type run_failed`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Ledger.Enabled {
				log.Warn().Msg("Ledger is disabled in configuration, history may be stale or empty")
			}

			database, err := db.Open(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer database.Close()

			ctx := cmd.Context()
			if err := db.EnsureSchema(ctx, database.DB); err != nil {
				return err
			}

			entries, err := queryHistory(ctx, ledger.New(database.DB), cfg.Tenant, opts)
			if err != nil {
				return err
			}
			return printHistory(os.Stdout, entries)
		},
	}

	cmd.Flags().StringVar(&opts.RunID, "run", "", "Show all entries of one run")
	cmd.Flags().StringVar(&opts.ResourceID, "resource", "", "Show recent entries of one resource in the configured tenant")
	cmd.Flags().StringVar(&opts.EventType, "type", "", "Show recent entries of one event type")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "Maximum number of entries for --resource and --type")

	return cmd
}

// queryHistory picks the ledger query matching exactly one selector in opts.
func queryHistory(ctx context.Context, l *ledger.Ledger, tenant string, opts historyOptions) ([]*ledger.Entry, error) {
	selected := 0
	for _, v := range []string{opts.RunID, opts.ResourceID, opts.EventType} {
		if v != "" {
			selected++
		}
	}
	if selected != 1 {
		return nil, errors.New("exactly one of --run, --resource or --type is required")
	}
	if opts.Limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", opts.Limit)
	}

	switch {
	case opts.RunID != "":
		return l.GetByRun(ctx, opts.RunID)
	case opts.ResourceID != "":
		return l.GetByResource(ctx, tenant, opts.ResourceID, opts.Limit)
	default:
		et := ledger.EventType(opts.EventType)
		for _, known := range knownEventTypes {
			if et == known {
				return l.GetByType(ctx, et, opts.Limit)
			}
		}
		return nil, fmt.Errorf("unknown event type %q", opts.EventType)
	}
}

func printHistory(w io.Writer, entries []*ledger.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tEVENT\tRUN\tRESOURCE\tPAYLOAD")
	for _, e := range entries {
		payload := ""
		if len(e.Payload) > 0 {
			raw, err := json.Marshal(e.Payload)
			if err != nil {
				return fmt.Errorf("failed to encode payload of entry %d: %w", e.ID, err)
			}
			payload = string(raw)
		}
		resourceID := e.ResourceID
		if resourceID == "" {
			resourceID = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.UTC().Format(time.RFC3339), e.EventType, e.RunID, resourceID, payload)
	}
	return tw.Flush()
}
