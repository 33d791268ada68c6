package main

import (
	"github.com/spf13/pflag"

	"github.com/zhouzirui/supportdesk/backend/internal/config"
)

// BackendFlags override the environment configuration from the command line.
type BackendFlags struct {
	Store       string
	DatabaseURL string
	Presence    string
	RedisAddr   string
	Roster      string
}

func NewBackendFlags() *BackendFlags {
	return &BackendFlags{}
}

func (f *BackendFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.Store, "store", f.Store, "Session store backend (memory, postgres); overrides STORE_BACKEND")
	fs.StringVar(&f.DatabaseURL, "database-dsn", f.DatabaseURL, "PostgreSQL DSN; overrides DATABASE_URL")
	fs.StringVar(&f.Presence, "presence", f.Presence, "Staff presence backend (memory, redis); overrides PRESENCE_BACKEND")
	fs.StringVar(&f.RedisAddr, "redis-addr", f.RedisAddr, "Redis address; overrides REDIS_ADDR")
	fs.StringVar(&f.Roster, "roster", f.Roster, "Path to the YAML staff roster; overrides STAFF_ROSTER")
}

// Apply writes the flags that were set onto cfg and validates the result.
func (f *BackendFlags) Apply(cfg *config.Config) error {
	if f.Store != "" {
		cfg.Store.Backend = config.Backend(f.Store)
	}
	if f.DatabaseURL != "" {
		cfg.Store.DatabaseURL = f.DatabaseURL
	}
	if f.Presence != "" {
		cfg.Presence.Backend = config.Backend(f.Presence)
	}
	if f.RedisAddr != "" {
		cfg.Presence.RedisAddr = f.RedisAddr
	}
	if f.Roster != "" {
		cfg.Staff.RosterPath = f.Roster
	}
	if err := cfg.Store.Validate(); err != nil {
		return err
	}
	return cfg.Presence.Validate()
}
