// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the citesearch CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pdiddy/citesearch/internal/config"
	"github.com/pdiddy/citesearch/internal/secrets"
	"github.com/pdiddy/citesearch/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

var (
	// cfg is the effective configuration loaded before every command.
	cfg types.Config

	// loadedSecrets holds API keys loaded from the secrets directory.
	loadedSecrets map[string]string

	logger = zap.NewNop()
)

// rootCmd is the base command for the citesearch CLI.
var rootCmd = &cobra.Command{
	Use:   "citesearch",
	Short: "Citation-aware web search across several providers",
	Long: `citesearch races a query across the configured search providers, classifies
every result by source type and credibility, and returns an ordered list whose
leading entries can be cited. When the citation floor cannot be met it walks a
fallback ladder (relaxation, extra queries, cache probes, demotion) and says
which step produced the answer.

Providers, domain rules and thresholds come from citesearch.yaml in the
working directory or ~/.config/citesearch, overridden by CITESEARCH_*
environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := secrets.LoadEnv(); err != nil {
			return err
		}

		var opts []config.Option
		if path, _ := cmd.Flags().GetString("config"); path != "" {
			opts = append(opts, config.WithFile(path))
		}
		if cmd.Flags().Changed("log-level") {
			level, _ := cmd.Flags().GetString("log-level")
			opts = append(opts, config.WithOverride(config.Key("log", "level"), level))
		}
		loaded, used, err := config.Load(opts...)
		if err != nil {
			return err
		}
		cfg = loaded

		l, err := newLogger(cfg.Log)
		if err != nil {
			return err
		}
		logger = l
		if used != "" {
			logger.Debug("using config file", zap.String("path", used))
		}

		dir, _ := cmd.Flags().GetString("secrets-dir")
		s, err := secrets.Load(dir, logger)
		if err != nil {
			return err
		}
		loadedSecrets = s
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default: ./citesearch.yaml or ~/.config/citesearch/citesearch.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("secrets-dir", ".secrets/", "directory of API key files")
}

// newLogger builds the stderr logger described by lc.
func newLogger(lc types.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if lc.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	if lc.Level != "" {
		level, err := zapcore.ParseLevel(lc.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	return zc.Build()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
