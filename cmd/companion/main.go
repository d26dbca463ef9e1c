// Command companion is a CLI front end for the companion engine: it
// stores memories and context items, runs retrieval, and assembles
// prompts against a local database.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:           "companion",
	Short:         "Memory and context engine for AI companions",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(cmd); err != nil {
			return err
		}
		initLogging()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default $HOME/.companion.yaml)")
	rootCmd.PersistentFlags().String("db", "", "sqlite database path")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		rememberCmd,
		memoriesCmd,
		forgetCmd,
		situateCmd,
		contextCmd,
		recallCmd,
		promptCmd,
		sweepCmd,
	)
}

func initConfig(cmd *cobra.Command) error {
	viper.SetDefault("storage.driver", "sqlite")
	viper.SetDefault("storage.path", "companion.db")
	viper.SetDefault("index.driver", "none")
	viper.SetDefault("summarizer.provider", "none")
	viper.SetDefault("log.level", "info")

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".companion")
		viper.SetConfigType("yaml")
	}
	viper.SetEnvPrefix("COMPANION")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	if db, _ := cmd.Flags().GetString("db"); db != "" {
		viper.Set("storage.path", db)
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		viper.Set("log.level", level)
	}
	return nil
}

func initLogging() {
	var level slog.Level
	switch viper.GetString("log.level") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
