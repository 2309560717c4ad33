package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/civiclens/civiclens/internal/ingest"
)

var (
	syncReply   bool
	syncWorkers int
	syncTimeout time.Duration
)

// syncCmd represents the sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch new mentions and route them into issues",
	Long: `Sync lists mentions of the monitored account, ingests the ones not seen
before and routes each through the deduplication engine. Already-ingested
mentions are skipped, so running sync repeatedly is safe.

With --reply, every newly assigned thread receives an acknowledgement reply
carrying its issue id.

Example:
  civiclens sync
  civiclens sync --reply
  civiclens sync --workers 8`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().BoolVar(&syncReply, "reply", false, "reply to each newly assigned thread")
	syncCmd.Flags().IntVar(&syncWorkers, "workers", 0, "concurrent workers (default from config)")
	syncCmd.Flags().DurationVar(&syncTimeout, "timeout", 10*time.Minute, "overall sync timeout")
}

func runSync(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()

	if syncWorkers > 0 {
		app.cfg.Concurrency.SyncWorkers = syncWorkers
	}

	coordinator, err := app.buildCoordinator(syncReply)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	result, err := coordinator.Sync(ctx, ingest.SyncOptions{AutoReply: syncReply})
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	fmt.Printf("Mentions:  %d\n", result.Mentions)
	fmt.Printf("Skipped:   %d (already ingested)\n", result.Skipped)
	fmt.Printf("Assigned:  %d (%d new issues)\n", result.Assigned, result.Created)
	if syncReply {
		fmt.Printf("Replied:   %d\n", result.Replied)
	}
	fmt.Printf("Failed:    %d\n", result.Failed)

	for _, r := range result.Results {
		if r.Err != nil {
			fmt.Printf("  ! %s: %v\n", r.ThreadID, r.Err)
		} else if r.ReplyErr != nil {
			fmt.Printf("  ! %s: assigned to %s but reply failed: %v\n", r.ThreadID, r.IssueID, r.ReplyErr)
		}
	}

	if result.Failed > 0 {
		return fmt.Errorf("%d threads failed; run 'civiclens reprocess' to retry them", result.Failed)
	}
	return nil
}
