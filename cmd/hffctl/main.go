// Package main provides hffctl, the field device agent and its operator commands.
package main

import (
	"log/slog"
	"os"

	"github.com/Guizzs26/hff-sync/internal/config"
	"github.com/Guizzs26/hff-sync/pkg/infra"

	"github.com/spf13/cobra"
)

var (
	cfg    *config.Config
	logger *slog.Logger
)

func main() {
	defer infra.CloseLogger()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hffctl",
	Short: "Offline-first attendance register sync agent",
	Long: `hffctl captures attendance registrations into a local durable queue
and keeps them in sync with the HFF register server whenever it is reachable.

Run "hffctl agent" on the device to start background sync. The other
commands operate on the same local queue and are safe to use while the
agent is running.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		if db, _ := cmd.Flags().GetString("db"); db != "" {
			cfg.LocalDBPath = db
		}
		if remote, _ := cmd.Flags().GetString("remote"); remote != "" {
			cfg.RemoteURL = remote
		}

		// Operator commands keep stdout for their own output
		if cmd.Name() == "agent" {
			logger = infra.SetupLogger(cfg)
		} else {
			cfg.LogFile = ""
			logger = infra.NewLogger(os.Stderr, cfg)
		}
		slog.SetDefault(logger)
	},
}

func init() {
	rootCmd.PersistentFlags().String("db", "", "local queue database (default $HFF_LOCAL_DB)")
	rootCmd.PersistentFlags().String("remote", "", "register server URL (default $HFF_REMOTE_URL)")

	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(retryFailedCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(eventsCmd)
}
