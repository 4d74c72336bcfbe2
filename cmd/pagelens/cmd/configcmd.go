package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/pagelens/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and generate configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [file]",
	Short: "Write a default configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filename := ""
		if len(args) == 1 {
			filename = args[0]
		}
		if err := config.GenerateDefaultConfigFile(filename); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}
		if filename == "" {
			filename = "pagelens.yaml"
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", filename)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		raw, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		_, _ = cmd.OutOrStdout().Write(raw)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}
