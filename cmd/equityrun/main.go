package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

const (
	appName = "equityrun"
	version = "v1.2.0"
)

var (
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Long-only equity engine driven by sentiment signals and fundamentals scores",
		Version: version,
		Long: `equityrun trades a long-only US equity book from two inputs:
scored sentiment events open and close individual positions under strict
risk limits, and a cross-sectional fundamentals leaderboard drives periodic
portfolio rebalancing.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(flagLogLevel, flagLogFormat)
		},
	}

	// Accept underscore spellings of flags (--log_level == --log-level).
	rootCmd.PersistentFlags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "config/equityrun.yaml", "Path to YAML configuration")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "auto", "Log format (auto|console|json)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newRebalanceCmd())
	rootCmd.AddCommand(newScoreCmd())
	rootCmd.AddCommand(newReconcileCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging(level, format string) {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	console := format == "console"
	if format == "auto" {
		console = term.IsTerminal(int(os.Stderr.Fd()))
	}
	if console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
