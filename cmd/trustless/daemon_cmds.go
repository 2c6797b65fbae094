package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/maisiliym/trustless/internal/daemon"
)

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the trustless daemon",
		Long: `Runs the long-lived service process: it serves the control socket,
keeps store handles shared between clients and sweeps idle stores back
into the locked state.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			socket, err := socketPath()
			if err != nil {
				return err
			}

			d, err := daemon.New(path, socket, newLogger())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return d.Run(ctx)
		},
	}
}
