package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noah-isme/autoenrol/pkg/config"
)

// rootOptions is shared by every subcommand.
type rootOptions struct {
	loadConfig func() (*config.Config, error)
}

func newRootCommand() *cobra.Command {
	return newRootCommandWith(&rootOptions{loadConfig: config.Load})
}

func newRootCommandWith(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "autoenrol",
		Short:        "Autoenrol reconciles course enrolments with user profile rules",
		SilenceUsage: true,
	}

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newSweepCommand(opts))
	cmd.AddCommand(newEnableNewEnrolmentsCommand(opts))
	cmd.AddCommand(newFixRolesCommand(opts))
	cmd.AddCommand(newTokenCommand(opts))

	return cmd
}

// open loads configuration and wires the application for one command run.
func (o *rootOptions) open(cmd *cobra.Command, component string) (*application, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return newApplication(ctx, cfg, component)
}
