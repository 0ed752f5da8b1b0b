// Package main provides the fieldsync daemon: it owns the local store,
// runs the sync scheduler, and serves sync progress to local UI clients
// over WebSocket.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// configDir is set by the --config-dir flag.
var configDir string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "syncd",
	Short: "fieldsync offline-first synchronization daemon",
	Long: `syncd keeps a field-data-collection client usable offline: records
and photos land in a local store immediately and are reconciled with the
remote authority whenever connectivity allows.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "",
		"config directory (default: the per-user config dir)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(versionCmd)
}
