package main

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/supportdesk/backend/internal/config"
	"github.com/zhouzirui/supportdesk/backend/internal/db"
)

func NewMigrateCommand() *cobra.Command {
	var dsn, logLevel string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Creates or updates the PostgreSQL schema of the session store.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dsn == "" {
				dsn = cfg.Store.DatabaseURL
			}
			if logLevel == "" {
				logLevel = cfg.Store.LogLevel
			}
			if dsn == "" {
				return errors.New("a database DSN is required: set DATABASE_URL or --database-dsn")
			}

			dbc, err := db.New(dsn, logLevel)
			if err != nil {
				return errors.WithMessage(err, "could not connect to db")
			}
			defer dbc.Close()

			if err := dbc.Migrate(); err != nil {
				return errors.WithMessage(err, "could not migrate db")
			}
			log.Info("schema is up to date")
			return nil
		},
	}

	cmd.Flags().StringVar(&dsn, "database-dsn", "", "PostgreSQL DSN; overrides DATABASE_URL")
	cmd.Flags().StringVar(&logLevel, "db-log-level", "", "gorm log level (silent, error, warn, info)")
	return cmd
}
