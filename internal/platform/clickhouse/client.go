// Package clickhouse wires the analytical mart connection. The mart is an
// append-tolerant columnar store partitioned by year-month with a
// version-wins merge engine. This wraps the ClickHouse driver behind
// database/sql so the rest of the pipeline can use the same database/sql
// idiom it already uses against the two Postgres sources.
package clickhouse

import (
	"database/sql"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/bionicpro/reports-etl/internal/config"
)

// Open opens a *sql.DB backed by the ClickHouse driver and verifies it.
func Open(cfg *config.ClickHouseConfig) (*sql.DB, error) {
	db := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
	})

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	return db, nil
}
