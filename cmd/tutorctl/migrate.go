package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noah-isme/tutorhub-api/pkg/database"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|status]",
	Short:     "Apply or inspect the embedded schema migrations",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down", "status"},
	RunE:      runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	command := "up"
	if len(args) == 1 {
		command = args[0]
	}

	cfg, logr, err := loadEnv()
	if err != nil {
		return err
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cmd.Context(), cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	if err := database.Migrate(cmd.Context(), db.DB, command); err != nil {
		return fmt.Errorf("migrate %s: %w", command, err)
	}
	logr.Sugar().Infow("migration finished", "command", command)
	return nil
}
