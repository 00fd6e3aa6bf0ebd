// Package main is the persona CLI: it serves the analysis API, analyzes a
// single address in-process or remotely, batch-predicts personas from a
// feature CSV, and reports on stored results.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nice-bills/chain-segment/internal/config"
)

var (
	envFile   string
	logLevel  string
	logFormat string

	cfg    *config.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "persona",
	Short: "Classify EVM wallets into behavioral personas",
	Long: `persona fetches on-chain activity for a wallet, derives a fixed feature
vector, and assigns the nearest behavioral persona from a frozen clustering
model, with a confidence for every persona.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var files []string
		if envFile != "" {
			files = append(files, envFile)
		}
		c, err := config.Load(files...)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") || c.LogLevel == "" {
			c.LogLevel = logLevel
		}
		if cmd.Flags().Changed("log-format") || c.LogFormat == "" {
			c.LogFormat = logFormat
		}
		cfg = c

		logger, err = newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load settings from this .env file (default ./.env if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "Log format: console or json")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(predictCmd)
	rootCmd.AddCommand(reportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger builds the process logger.
func newLogger(out *os.File, level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}
	var l zerolog.Logger
	switch format {
	case "json":
		l = zerolog.New(out)
	case "console", "":
		l = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly})
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q", format)
	}
	return l.Level(lvl).With().Timestamp().Logger(), nil
}
