package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Registers "pgx" driver
	_ "github.com/lib/pq"
	_ "github.com/newrelic/go-agent/v3/integrations/nrpq" // Registers "nrpostgres" driver
	"github.com/newrelic/go-agent/v3/newrelic"

	"ridedispatch/internal/config"
	"ridedispatch/internal/repository/postgres"
)

// driverName picks the database/sql driver. New Relic tracing is only
// available through nrpq, which wraps lib/pq.
func driverName(cfg config.DatabaseConfig, nrApp *newrelic.Application) string {
	if nrApp != nil {
		return "nrpostgres"
	}
	if cfg.Driver == "pgx" {
		return "pgx"
	}
	return "postgres"
}

// NewDatabase opens the PostgreSQL pool, verifies it and applies the schema
// when cfg.Migrate is set.
func NewDatabase(ctx context.Context, cfg config.DatabaseConfig, nrApp *newrelic.Application) (*sql.DB, error) {
	name := driverName(cfg, nrApp)

	db, err := sql.Open(name, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database with %s: %w", name, err)
	}

	// Every dispatch holds at most one connection at a time; reservation and
	// assignment are separate autocommit statements.
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.Migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return db, nil
}
