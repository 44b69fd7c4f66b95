// Package config implements the config command.
package config

import (
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ipcam/streamworker/internal/conf"
	"github.com/ipcam/streamworker/internal/errors"
)

const redacted = "********"

// Command creates the config command and its init sub-command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long:  "Print the configuration after defaults, config file and environment are applied.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return Print(cmd.OutOrStdout(), settings)
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the annotated default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "config.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := WriteDefault(path, force); err != nil {
				return err
			}
			cmd.Printf("wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")

	cmd.AddCommand(initCmd)
	return cmd
}

// Print writes settings as YAML with credentials masked.
func Print(w io.Writer, settings *conf.Settings) error {
	masked := *settings
	if masked.MQTT.Password != "" {
		masked.MQTT.Password = redacted
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&masked); err != nil {
		return errors.New(err).
			Component("cmd").
			Category(errors.CategoryConfiguration).
			Context("operation", "encode").
			Build()
	}
	return enc.Close()
}

// WriteDefault writes the default configuration file to path.
func WriteDefault(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return errors.Newf("%s already exists", path).
			Component("cmd").
			Category(errors.CategoryConflict).
			Build()
	}

	data, err := conf.DefaultConfig()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.New(err).
				Component("cmd").
				Category(errors.CategoryFileIO).
				FileContext(dir, 0).
				Build()
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // config file is not secret by default
		return errors.New(err).
			Component("cmd").
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Build()
	}
	return nil
}
