package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/couriermsg/courier/internal/profile"
	"github.com/couriermsg/courier/internal/store"
)

var (
	profileFlag string
	jsonOut     bool

	profileName string
	db          *store.DB
)

func Execute() error {
	root := &cobra.Command{
		Use:          "courierctl",
		Short:        "Inspect and manage a courier profile",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			profileName = profile.Resolve(profileFlag)
			if err := profile.ValidateName(profileName); err != nil {
				return err
			}
			if err := profile.EnsureDir(profileName); err != nil {
				return err
			}
			opened, err := store.Open(profile.DBPath(profileName))
			if err != nil {
				return fmt.Errorf("open profile store: %w", err)
			}
			if _, err := opened.Migrate(); err != nil {
				_ = opened.Close()
				return fmt.Errorf("migrate profile store: %w", err)
			}
			db = opened
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if db != nil {
				_ = db.Close()
			}
		},
	}

	root.PersistentFlags().StringVar(&profileFlag, "profile", "", "profile name (overrides config default)")
	root.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")

	root.AddCommand(statsCmd(), healthCmd(), failedCmd(), keysCmd())
	return root.Execute()
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
