package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func failedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "failed",
		Short: "Inspect and retry permanently failed messages",
	}
	cmd.AddCommand(failedListCmd(), failedRetryCmd())
	return cmd
}

func failedListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List failed messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			failed, err := db.ListFailed()
			if err != nil {
				return err
			}
			if jsonOut {
				return outputJSON(failed)
			}
			if len(failed) == 0 {
				fmt.Println("No failed messages.")
				return nil
			}
			for _, f := range failed {
				fmt.Printf("%s  conv=%s  attempts=%d  failed=%s  reason=%s\n",
					f.ID,
					f.ConversationID,
					f.RetryCount,
					time.UnixMilli(f.Timestamp).Format(time.RFC3339),
					f.FailureReason)
			}
			return nil
		},
	}
}

func failedRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <failed-id>",
		Short: "Move a failed message back into the send queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			item, err := db.RetryFailed(args[0])
			if err != nil {
				return err
			}
			if item == nil {
				return fmt.Errorf("no failed message with id %q", args[0])
			}
			fmt.Printf("Requeued message %s for conversation %s.\n", item.ID, item.ConversationID)
			fmt.Println("A running daemon sends it on its next pass.")
			return nil
		},
	}
}
