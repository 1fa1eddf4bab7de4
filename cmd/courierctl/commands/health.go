package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/couriermsg/courier/internal/bus"
	"github.com/couriermsg/courier/internal/status"
)

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show queue health and sync estimate",
		RunE: func(cmd *cobra.Command, args []string) error {
			monitor := status.NewMonitor(db, bus.New(), zap.NewNop())
			h := monitor.QueueHealth()

			if jsonOut {
				return outputJSON(h)
			}
			fmt.Printf("Total pending:   %d\n", h.TotalPending)
			fmt.Printf("Failed messages: %d\n", h.FailedMessages)
			fmt.Printf("In progress:     %d\n", h.InProgress)
			if h.OldestPending > 0 {
				fmt.Printf("Oldest pending:  %s\n", time.UnixMilli(h.OldestPending).Format(time.RFC3339))
			} else {
				fmt.Printf("Oldest pending:  none\n")
			}
			fmt.Printf("Estimated sync:  %s\n", h.EstimatedTimeToSync)
			return nil
		},
	}
}
