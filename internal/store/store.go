// Package store provides the persistence backends for transcripts: Postgres
// for shared deployments, sqlite for single-node use and an in-memory map for
// tests and throwaway runs.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MikeSquared-Agency/scribe/internal/transcript"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Backend is a transcript.Store that owns a connection and a schema.
type Backend interface {
	transcript.Store
	Migrate(ctx context.Context) error
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Driver      string
	DatabaseURL string
	SQLitePath  string
}

// Open connects the backend named by opts.Driver.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Backend, error) {
	switch opts.Driver {
	case DriverPostgres, "":
		if opts.DatabaseURL == "" {
			return nil, fmt.Errorf("postgres store: DATABASE_URL is required")
		}
		return NewPostgres(ctx, opts.DatabaseURL)
	case DriverSQLite:
		return NewSQLite(ctx, opts.SQLitePath, logger)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
