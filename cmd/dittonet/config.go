package main

import (
	"fmt"
	"os"

	"github.com/marmos91/dittonet/pkg/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configInitFlags struct {
	force bool
	path  string
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configInitFlags.path
		if path == "" {
			path = configPath
		}

		if path == "" {
			written, err := config.InitConfig(configInitFlags.force)
			if err != nil {
				return err
			}
			path = written
		} else if err := config.InitConfigToPath(path, configInitFlags.force); err != nil {
			return err
		}

		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration after file, env and defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer func() { _ = enc.Close() }()
		return enc.Encode(cfg)
	},
}

var configSchemaOutput string

var configSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := config.SchemaJSON()
		if err != nil {
			return fmt.Errorf("failed to build schema: %w", err)
		}

		if configSchemaOutput == "" {
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		}
		if err := os.WriteFile(configSchemaOutput, data, 0644); err != nil {
			return fmt.Errorf("failed to write schema: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "JSON schema written to %s\n", configSchemaOutput)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVarP(&configInitFlags.force, "force", "f", false, "overwrite an existing file")
	configInitCmd.Flags().StringVar(&configInitFlags.path, "path", "", "write to this path instead of the default location")

	configCmd.AddCommand(configInitCmd)
	configSchemaCmd.Flags().StringVarP(&configSchemaOutput, "output", "o", "", "write the schema to this file instead of stdout")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSchemaCmd)
}
