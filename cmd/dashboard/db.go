package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/upb/realty-dashboard/repositories/postgres"
	"go.uber.org/zap"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database management commands",
}

var dbInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the role hint and audit tables",
	Long:  `Creates the role hint and audit log tables if they do not exist. Safe to run repeatedly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.Database.Enabled() {
			return fmt.Errorf("database is not configured (set DATABASE_URL or DB_HOST)")
		}

		db, err := postgres.NewDB(cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		if err := db.InitSchema(cmd.Context()); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}

		logger.Info("database schema initialized", zap.String("connection", cfg.Database.LogString()))
		return nil
	},
}

func init() {
	dbCmd.AddCommand(dbInitCmd)
}
