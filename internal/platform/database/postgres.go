// Package database wires *sql.DB connections to the CRM and Telemetry
// Postgres sources, including their connection-pool limits.
package database

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/bionicpro/reports-etl/internal/config"
)

// Open creates a pooled Postgres connection and verifies it with a Ping.
func Open(cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
