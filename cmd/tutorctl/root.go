package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/tutorhub-api/internal/bootstrap"
	"github.com/noah-isme/tutorhub-api/pkg/config"
	"github.com/noah-isme/tutorhub-api/pkg/logger"
)

var version = "dev" // set via ldflags at build time

var rootCmd = &cobra.Command{
	Use:           "tutorctl",
	Short:         "Operator tooling for the TutorHub engine",
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.AddCommand(migrateCmd, ledgerCmd, programCmd)
}

// loadEnv reads configuration and builds a logger for a single command run.
func loadEnv() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logr, nil
}

// withEngine runs fn against a synchronously wired engine and tears it down afterwards.
func withEngine(ctx context.Context, fn func(*bootstrap.Container) error) error {
	cfg, logr, err := loadEnv()
	if err != nil {
		return err
	}
	defer logr.Sync() //nolint:errcheck

	app, err := bootstrap.New(ctx, cfg, logr, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}
