package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"kassza/internal/config"
	"kassza/internal/logger"
	pgstore "kassza/internal/store/postgres"
)

func migrateCmd() *cobra.Command {
	var databaseURL string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the PostgreSQL schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if databaseURL == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				databaseURL = cfg.DatabaseURL
			}
			if databaseURL == "" {
				return fmt.Errorf("DATABASE_URL is not set")
			}
			if err := pgstore.RunMigrations(databaseURL); err != nil {
				return err
			}
			logger.New("info").Info("migrations applied")
			return nil
		},
	}
	cmd.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL URL (defaults to DATABASE_URL)")
	return cmd
}
