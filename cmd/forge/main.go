package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"autoforge/internal/config"
	"autoforge/internal/logging"
)

var (
	// Global flags
	cfgPath     string
	projectRoot string
	verbose     bool

	// cfg is loaded once in the persistent pre-run and shared by every
	// subcommand.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "autoforge - autonomous software-engineering orchestrator",
	Long: `autoforge takes a natural-language requirement, decomposes it into
tasks, drives a code-generation backend to implement each one, opens pull
requests, reviews them automatically, and iterates on feedback until the
work is approved.

Gears select how much of the system runs:
  1  moderator + techlead, every PR auto-approved
  2  adds the five-criteria PR reviewer with the 80-point gate
  3  adds the ever-thinker improvement loop and the monitor daemon`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		if projectRoot != "" {
			cfg.ProjectRoot = projectRoot
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		ws := filepath.Dir(cfg.ProjectRoot)
		if err := logging.Configure(ws, cfg.Logging.Enabled, level, cfg.Logging.JSONFormat); err != nil {
			return fmt.Errorf("failed to configure logging: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", ".forge/config.yaml", "configuration file")
	rootCmd.PersistentFlags().StringVar(&projectRoot, "project-root", "", "override the project state directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
