// Package cmd assembles the streamworker command line.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ipcam/streamworker/cmd/config"
	"github.com/ipcam/streamworker/cmd/run"
	"github.com/ipcam/streamworker/internal/conf"
	"github.com/ipcam/streamworker/internal/errors"
)

// RootCommand creates and returns the root command. settings is filled
// before any sub-command runs.
func RootCommand(settings *conf.Settings) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "streamworker",
		Short:         "Multi-channel capture worker",
		SilenceUsage:  true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to the configuration file")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")

	rootCmd.AddCommand(
		run.Command(settings),
		config.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := viper.BindPFlag("debug", cmd.Root().PersistentFlags().Lookup("debug")); err != nil {
			return errors.New(err).
				Component("cmd").
				Category(errors.CategoryConfiguration).
				Build()
		}
		if configFile != "" {
			viper.SetConfigFile(configFile)
		}

		loaded, err := conf.Load()
		if err != nil {
			return err
		}
		*settings = *loaded
		return nil
	}

	return rootCmd
}
