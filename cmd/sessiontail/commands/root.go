// Package commands provides the CLI commands for sessiontail.
package commands

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sessiontail/sessiontail/internal/config"
	"github.com/sessiontail/sessiontail/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	logLevel   string
	prettyLogs bool
	workdir    string
)

var rootCmd = &cobra.Command{
	Use:   "sessiontail",
	Short: "sessiontail - live conversation model for recorded sessions",
	Long: `sessiontail turns append-only session logs into a live, incrementally
updated conversation model.

Run 'sessiontail serve' to expose the model over HTTP, 'sessiontail history'
to print a session's assembled messages, or 'sessiontail watch' to follow a
session as it grows.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
		logging.Init(logging.Config{
			Level:  logging.ParseLevel(logLevel),
			Pretty: prettyLogs,
		})
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().BoolVar(&prettyLogs, "pretty", false, "Human-readable console logs")
	rootCmd.PersistentFlags().StringVarP(&workdir, "directory", "C", "", "Project directory (defaults to the current directory)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("sessiontail %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(watchCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir() (string, error) {
	if workdir != "" {
		return workdir, nil
	}
	return os.Getwd()
}

// loadConfig resolves configuration for the given project directory.
func loadConfig(workDir string) (*config.Config, error) {
	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(workDir)
	if err != nil {
		return nil, err
	}

	// The flag wins over config files; config files win over the built-in
	// default when the flag was left alone.
	if rootCmd.PersistentFlags().Changed("log-level") {
		cfg.LogLevel = logLevel
	} else if cfg.LogLevel != "" {
		logging.Init(logging.Config{
			Level:  logging.ParseLevel(cfg.LogLevel),
			Pretty: prettyLogs,
		})
	}
	return cfg, nil
}
