package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue sizes for the profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			pending, sending, err := db.CountQueue()
			if err != nil {
				return err
			}
			failed, err := db.CountFailed()
			if err != nil {
				return err
			}
			actions, err := db.CountActions()
			if err != nil {
				return err
			}

			if jsonOut {
				return outputJSON(map[string]int{
					"pending":        pending,
					"sending":        sending,
					"failed":         failed,
					"offlineActions": actions,
				})
			}
			fmt.Printf("Profile:         %s\n", profileName)
			fmt.Printf("Pending:         %d\n", pending)
			fmt.Printf("Sending:         %d\n", sending)
			fmt.Printf("Failed:          %d\n", failed)
			fmt.Printf("Offline actions: %d\n", actions)
			return nil
		},
	}
}
