package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/civiclens/civiclens/internal/ingest"
)

// replyCmd represents the reply command
var replyCmd = &cobra.Command{
	Use:   "reply <thread-id>",
	Short: "Send the acknowledgement reply for one thread",
	Long: `Reply publishes the acknowledgement for a single stored thread that has
an issue assignment but was not replied to yet, for example after a failed
auto-reply during sync.

Example:
  civiclens reply 17890123456`,
	Args: cobra.ExactArgs(1),
	RunE: runReply,
}

func init() {
	rootCmd.AddCommand(replyCmd)
}

func runReply(cmd *cobra.Command, args []string) error {
	threadID := args[0]

	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()

	replier, err := app.buildReplier()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	mediaID, err := ingest.Reply(ctx, app.store, replier, threadID)
	if err != nil {
		return err
	}

	fmt.Printf("✓ Replied to %s (media %s)\n", threadID, mediaID)
	return nil
}
