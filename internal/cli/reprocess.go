package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/civiclens/civiclens/internal/ingest"
)

var (
	reprocessAll     bool
	reprocessYes     bool
	reprocessTimeout time.Duration
)

// reprocessCmd represents the reprocess command
var reprocessCmd = &cobra.Command{
	Use:   "reprocess",
	Short: "Re-route stored threads through the deduplication engine",
	Long: `Reprocess routes stored threads through the engine again.

By default only threads without an issue assignment are reprocessed; existing
issues are untouched. With --all, every issue is deleted, the issue counter
is reset and the whole corpus is rebuilt from all stored threads in ingestion
order. Rebuilding is destructive and asks for confirmation.

Example:
  civiclens reprocess
  civiclens reprocess --all`,
	RunE: runReprocess,
}

func init() {
	rootCmd.AddCommand(reprocessCmd)

	reprocessCmd.Flags().BoolVar(&reprocessAll, "all", false, "delete all issues and rebuild from every stored thread")
	reprocessCmd.Flags().BoolVarP(&reprocessYes, "yes", "y", false, "skip the confirmation prompt for --all")
	reprocessCmd.Flags().DurationVar(&reprocessTimeout, "timeout", 30*time.Minute, "overall reprocess timeout")
}

func runReprocess(cmd *cobra.Command, args []string) error {
	mode := ingest.ModeUnassigned
	if reprocessAll {
		mode = ingest.ModeFull
		if !reprocessYes && !confirmRebuild() {
			fmt.Println("Aborted.")
			return nil
		}
	}

	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()

	coordinator, err := app.buildCoordinator(false)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), reprocessTimeout)
	defer cancel()

	result, err := coordinator.Reprocess(ctx, mode)
	if err != nil {
		return fmt.Errorf("reprocess failed: %w", err)
	}

	fmt.Printf("Threads:   %d\n", result.Threads)
	fmt.Printf("Assigned:  %d (%d new issues)\n", result.Assigned, result.Created)
	fmt.Printf("Failed:    %d\n", result.Failed)

	for _, r := range result.Results {
		if r.Err != nil {
			fmt.Printf("  ! %s: %v\n", r.ThreadID, r.Err)
		}
	}

	if result.Failed > 0 {
		return fmt.Errorf("%d threads failed", result.Failed)
	}
	return nil
}

func confirmRebuild() bool {
	fmt.Print("This deletes ALL issues and rebuilds them from stored threads. Continue? [y/N] ")
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
