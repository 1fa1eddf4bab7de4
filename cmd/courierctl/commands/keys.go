package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/couriermsg/courier/internal/config"
	"github.com/couriermsg/courier/internal/keys"
	"github.com/couriermsg/courier/internal/profile"
)

var (
	userFlag   string
	passphrase string
	backupFile string
)

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage encryption keys for the profile",
	}
	cmd.PersistentFlags().StringVar(&userFlag, "user", "", "user id (defaults to user_id in config.toml)")
	cmd.AddCommand(keysGenerateCmd(), keysExportCmd(), keysBackupCmd(), keysRestoreCmd())
	return cmd
}

func resolveUser() (string, error) {
	if userFlag != "" {
		return userFlag, nil
	}
	cfg, err := config.Load(profile.ConfigPath())
	if err == nil && cfg.UserID != "" {
		return cfg.UserID, nil
	}
	return "", errors.New("no user id: pass --user or set user_id in config.toml")
}

func keyManager() *keys.Manager {
	return keys.NewManager(db, zap.NewNop())
}

func keysGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Generate a key pair, superseding any existing one",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := resolveUser()
			if err != nil {
				return err
			}
			pair, err := keyManager().GenerateKeyPair(user)
			if err != nil {
				return err
			}
			fmt.Printf("Generated %d-bit RSA key pair for %s.\n", pair.PublicKey.N.BitLen(), user)
			fmt.Println("Messages encrypted to the previous pair can no longer be decrypted.")
			return nil
		},
	}
}

func keysExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Print the public key as base64",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := resolveUser()
			if err != nil {
				return err
			}
			encoded, err := keyManager().ExportPublicKey(user)
			if err != nil {
				return err
			}
			fmt.Println(encoded)
			return nil
		},
	}
}

func keysBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export keys encrypted under a passphrase",
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return errors.New("passphrase required (-p)")
			}
			user, err := resolveUser()
			if err != nil {
				return err
			}
			data, err := keyManager().BackupKeys(user, passphrase)
			if err != nil {
				return err
			}
			if backupFile == "" {
				fmt.Println(data)
				return nil
			}
			if err := os.WriteFile(backupFile, []byte(data), 0600); err != nil {
				return err
			}
			fmt.Printf("Keys backed up to %s.\n", backupFile)
			return nil
		},
	}
	cmd.Flags().StringVarP(&passphrase, "passphrase", "p", "", "backup passphrase")
	cmd.Flags().StringVar(&backupFile, "out", "", "write the backup to a file instead of stdout")
	return cmd
}

func keysRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <backup-file>",
		Short: "Install keys from a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return errors.New("passphrase required (-p)")
			}
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if !keyManager().RestoreKeys(strings.TrimSpace(string(raw)), passphrase) {
				return errors.New("restore failed: wrong passphrase or corrupt backup")
			}
			fmt.Println("Keys restored.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&passphrase, "passphrase", "p", "", "backup passphrase")
	return cmd
}
