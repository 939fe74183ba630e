package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noah-isme/autoenrol/pkg/trace"
)

func newEnableNewEnrolmentsCommand(opts *rootOptions) *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "enable-new-enrolments",
		Short: "Re-open autoenrol instances that stopped accepting new enrolments",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := opts.open(cmd, "cli")
			if err != nil {
				return err
			}
			defer app.Close()

			_, err = app.instances.EnableNewEnrolments(cmd.Context(), trace.NewText(cmd.OutOrStdout()), check)
			return err
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "list the instances without changing them")
	return cmd
}

func newFixRolesCommand(opts *rootOptions) *cobra.Command {
	var slow bool
	cmd := &cobra.Command{
		Use:   "fix-roles",
		Short: "Restore the default role on instances and reassign it to enrolled users",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := opts.open(cmd, "cli")
			if err != nil {
				return err
			}
			defer app.Close()

			fixed, err := app.instances.FixRoles(cmd.Context(), trace.NewText(cmd.OutOrStdout()), slow)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d role assignments restored\n", fixed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&slow, "slow", false, "check each user record and skip deleted users")
	return cmd
}
