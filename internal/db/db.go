// Package db is the Postgres implementation of the session store.
package db

import (
	"strings"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type DB struct {
	DB *gorm.DB
}

// New opens a Postgres connection. logLevel is one of silent, error, warn or
// info.
func New(dsn, logLevel string) (*DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(parseLogLevel(logLevel)),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	return &DB{DB: db}, nil
}

// Close releases the underlying connection pool.
func (d *DB) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate creates or updates the support desk tables.
func (d *DB) Migrate() error {
	if err := d.DB.AutoMigrate(&SessionRow{}, &MessageRow{}, &QCReportRow{}); err != nil {
		return errors.Wrap(err, "auto-migrate")
	}
	return nil
}

func parseLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info", "debug":
		return logger.Info
	default:
		return logger.Warn
	}
}
