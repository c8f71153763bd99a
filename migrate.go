package main

import (
	"crm-backend/internal/database"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		db, err := database.NewConnection(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer db.Close()

		return database.RunMigrations(ctx, db, log)
	},
}
