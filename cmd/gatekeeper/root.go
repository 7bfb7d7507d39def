package main

import (
	"gatekeeper/internal/config"
	"gatekeeper/internal/version"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configFile string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:          "gatekeeper",
		Short:        "Token authentication and distributed rate limiting",
		Long:         "Gatekeeper issues and validates bearer tokens, keeps a revocation ledger and enforces rate limits shared across replicas.",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "Path to configuration file. Settings can also be set via "+config.EnvPrefix+"* variables.")

	rootCmd.AddCommand(
		newServeCommand(opts),
		newMigrateCommand(opts),
		newConfigCommand(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version of gatekeeper",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				cmd.Println(version.GetInfo().String())
			},
		},
	)
	return rootCmd
}

func newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "example <path>",
		Short: "Write an example multi-replica configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.SaveExample(args[0]); err != nil {
				return err
			}
			cmd.Printf("Wrote example configuration to %s\n", args[0])
			return nil
		},
	})
	return configCmd
}
