// Package cli implements the recalld CLI commands.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/recalld/recalld/internal/config"
	"github.com/recalld/recalld/internal/engine"
)

var configPath string

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "recalld",
	Short: "Session memory for coding agents",
	Long:  "Watches activity logs, distills them into durable memory records, and answers recall queries through a tiered search.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (default: $RECALLD_CONFIG or ~/.recalld/config.yaml)")
}

func loadConfig() config.Config {
	path := configPath
	if path == "" {
		path = os.Getenv("RECALLD_CONFIG")
	}
	if path == "" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, ".recalld", "config.yaml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		exitErr("load config", err)
	}
	return cfg
}

func newLogger(cfg config.Config) *zap.Logger {
	level, err := zap.ParseAtomicLevel(cfg.Logging.Level)
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zc := zap.NewProductionConfig()
	zc.Level = level
	log, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func openEngine() (*engine.Engine, *zap.Logger) {
	cfg := loadConfig()
	log := newLogger(cfg)
	e, err := engine.New(cfg, log, engine.Options{})
	if err != nil {
		exitErr("open engine", err)
	}
	return e, log
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
