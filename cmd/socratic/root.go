package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/socratic-dev/socratic/pkg/config"
)

// Version information (set via ldflags)
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "socratic",
	Short: "Socratic learning assistant",
	Long: `Socratic teaches through questions instead of answers.

It runs guided learning dialogues against an LLM backend, tracks
understanding across exchanges, and keeps a record of every session.

Use "socratic serve" to run the HTTP API, or "socratic chat" for an
interactive session in the terminal.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: socratic.yaml if present)")
}

// loadConfig resolves the configuration: flag, then socratic.yaml in the
// working directory, then built-in defaults. A .env file is loaded first so
// API keys can live outside the YAML.
func loadConfig() (*config.Config, error) {
	config.LoadEnvFile()

	if cfgFile != "" {
		return config.Load(cfgFile)
	}
	if _, err := os.Stat("socratic.yaml"); err == nil {
		return config.Load("socratic.yaml")
	}
	return config.Default(), nil
}
