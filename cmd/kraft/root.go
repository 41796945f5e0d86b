package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var jsonOut bool

	ctx := newCommandContext(&jsonOut)

	rootCmd := &cobra.Command{
		Use:           "kraft",
		Short:         "Stablekraft catalog tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Print results as JSON")

	rootCmd.AddCommand(newSyncCommand(ctx))
	rootCmd.AddCommand(newResolveCommand(ctx))
	rootCmd.AddCommand(newDedupCommand(ctx))
	rootCmd.AddCommand(newVerifyOrderCommand(ctx))
	rootCmd.AddCommand(newPublishersCommand(ctx))
	rootCmd.AddCommand(newPlaylistCommand(ctx))

	return rootCmd
}
