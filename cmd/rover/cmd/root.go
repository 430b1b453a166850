// Package cmd implements the rover command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/endorhq/rover/internal/config"
	"github.com/endorhq/rover/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "rover",
	Short: "Autonomous repository assistant",
	Long: `Rover watches a repository's activity and turns issues, comments
and reviews into planned, sandboxed, committed and pushed work.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./rover.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (auto, text, json)")
}

// loadConfig builds the effective configuration with flag overrides
// bound through viper.
func loadConfig() (*config.Config, error) {
	v := viper.New()
	if logLevel != "" {
		v.Set("log.level", logLevel)
	}
	if logFormat != "" {
		v.Set("log.format", logFormat)
	}

	loader := config.NewLoaderWithViper(v)
	if cfgFile != "" {
		loader = loader.WithConfigFile(cfgFile)
	}
	return loader.Load()
}

func newLogger(cfg *config.Config) *logging.Logger {
	return logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
}
