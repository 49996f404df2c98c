package main

import (
	"github.com/spf13/cobra"

	"github.com/TheMichaelB/pickupsync/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configInitCmd = &cobra.Command{
	Use:     "init [path]",
	Short:   "Write an example config file",
	Example: `  pickupsync config init pickupsync.yaml`,
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "pickupsync.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.SaveExample(path); err != nil {
			return err
		}
		printSuccess("Wrote %s", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
}
