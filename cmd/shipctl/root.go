package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var flags globalFlags

	ctx := newCommandContext(&flags)

	rootCmd := &cobra.Command{
		Use:           "shipctl",
		Short:         "Shipflow command line client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&flags.server, "server", "", "API base URL (default $SHIPFLOW_SERVER or http://localhost:8787)")
	rootCmd.PersistentFlags().StringVar(&flags.actor, "as", "", "Actor to act as; a token is minted with the shared secret (default $SHIPFLOW_ACTOR)")
	rootCmd.PersistentFlags().StringVar(&flags.token, "token", "", "Bearer token to use instead of minting one (default $SHIPFLOW_TOKEN)")
	rootCmd.PersistentFlags().BoolVar(&flags.json, "json", false, "Print raw JSON")

	rootCmd.AddCommand(newTokenCommand(ctx))
	rootCmd.AddCommand(newGrantCommand(ctx))
	rootCmd.AddCommand(newRevokeCommand(ctx))
	rootCmd.AddCommand(newRolesCommand(ctx))
	rootCmd.AddCommand(newCreateCommand(ctx))
	rootCmd.AddCommand(newUploadCommand(ctx))
	rootCmd.AddCommand(newApproveCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newListCommand(ctx))
	rootCmd.AddCommand(newWatchCommand(ctx))

	return rootCmd
}
