package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fieldvault/fieldsync/internal/config"
	"github.com/fieldvault/fieldsync/internal/crypto"
)

var loginToken string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store the server auth token on this device",
	Long: `Store the server auth token encrypted under the config directory.
The token is sealed with a device-derived key, so the file cannot be
reused from another machine. A token stored here takes effect when
server_token is left empty in config.yaml.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if loginToken == "" {
			return fmt.Errorf("--token is required")
		}
		dir, err := resolveConfigDir()
		if err != nil {
			return err
		}
		if err := crypto.NewTokenStore(dir, "").Store(loginToken); err != nil {
			return err
		}
		fmt.Println("token stored")
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored server auth token",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := resolveConfigDir()
		if err != nil {
			return err
		}
		if err := crypto.NewTokenStore(dir, "").Delete(); err != nil {
			return err
		}
		fmt.Println("token removed")
		return nil
	},
}

func resolveConfigDir() (string, error) {
	if configDir != "" {
		return configDir, nil
	}
	return config.DefaultConfigDir()
}

func init() {
	loginCmd.Flags().StringVar(&loginToken, "token", "", "server auth token")
}
