// Package main provides the CLI entry point for the trustless secrets
// manager.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/maisiliym/trustless/internal/config"
	"github.com/maisiliym/trustless/internal/logging"
)

// Version is set at build time via ldflags.
var Version = "dev"

var (
	flagConfig    string
	flagSocket    string
	flagStore     string
	flagLogLevel  string
	flagLogFormat string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "trustless",
		Short: "trustless - Local multi-identity secrets manager",
		Long: `trustless is a local secrets manager: a daemon-backed store that
holds structured secret records (passwords, TOTP seeds, notes) under
passphrase-derived protection, releases decrypted values to helpers
such as the clipboard, and auto-relocks on idle timeout.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to the service configuration file")
	rootCmd.PersistentFlags().StringVar(&flagSocket, "socket", "", "Path to the daemon control socket")
	rootCmd.PersistentFlags().StringVarP(&flagStore, "store", "s", "", "Store to operate on (defaults to the configured default store)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	// Define command groups for organized help output
	rootCmd.AddGroup(&cobra.Group{ID: "start", Title: "Getting Started:"})
	rootCmd.AddGroup(&cobra.Group{ID: "store", Title: "Store Management:"})
	rootCmd.AddGroup(&cobra.Group{ID: "secret", Title: "Secrets:"})
	rootCmd.AddGroup(&cobra.Group{ID: "admin", Title: "Administration:"})

	for _, cmd := range []*cobra.Command{setupCmd(), initCmd(), daemonCmd()} {
		cmd.GroupID = "start"
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{storesCmd(), defaultStoreCmd(), statusCmd(), unlockCmd(), lockCmd(), identitiesCmd(), addIdentityCmd()} {
		cmd.GroupID = "store"
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{listCmd(), getCmd(), addCmd(), copyCmd()} {
		cmd.GroupID = "secret"
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{generateIDCmd(), clipboardCmd()} {
		cmd.GroupID = "admin"
		rootCmd.AddCommand(cmd)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	return logging.NewLogger(flagLogLevel, flagLogFormat)
}

// configPath resolves the configuration file location.
func configPath() (string, error) {
	if flagConfig != "" {
		return flagConfig, nil
	}
	return config.DefaultPath()
}

// socketPath resolves the daemon control socket location.
func socketPath() (string, error) {
	if flagSocket != "" {
		return flagSocket, nil
	}
	return config.DefaultSocketPath()
}
