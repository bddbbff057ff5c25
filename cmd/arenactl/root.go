package main

import (
	"fmt"
	"slices"

	"github.com/AdamBeresnev/parlor/internal/logger"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	LogLevel string
	Format   string
}

var validFormats = []string{"text", "json"}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "arenactl",
		Short: "Operate and debug the battle arena",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			logger.InitWriter(cmd.ErrOrStderr(), opts.LogLevel)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "warn", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newSimulateCommand(opts))
	return cmd
}
