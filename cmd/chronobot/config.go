package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Validate chronobot configuration.`,
}

// configValidateCmd represents the config validate command
var configValidateCmd = &cobra.Command{
	Use:   "validate [config-file]",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file and print every problem found.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			configPath = args[0]
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if errs := cfg.Validate(); len(errs) > 0 {
			fmt.Fprintf(out, "Configuration %s is invalid:\n", configPath)
			for _, e := range errs {
				fmt.Fprintf(out, "  - %v\n", e)
			}
			return fmt.Errorf("%d validation errors", len(errs))
		}

		fmt.Fprintf(out, "Configuration %s is valid (telegram token %s)\n", configPath, cfg.MaskedToken())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
}
