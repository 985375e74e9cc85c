// Command apply-migration runs a .sql file against one of the pipeline's
// three storage targets, chosen by name.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/bionicpro/reports-etl/internal/config"
	"github.com/bionicpro/reports-etl/internal/platform/clickhouse"
	"github.com/bionicpro/reports-etl/internal/platform/database"
)

func main() {
	target := flag.String("target", "", "migration target: crm, telemetry, or mart")
	file := flag.String("file", "", "path to .sql migration file")
	flag.Parse()

	if *target == "" || *file == "" {
		fmt.Fprintln(os.Stderr, "usage: apply-migration -target crm|telemetry|mart -file path.sql")
		os.Exit(1)
	}

	sqlContent, err := os.ReadFile(*file)
	if err != nil {
		log.Fatalf("failed to read migration file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	db, err := openTarget(cfg, *target)
	if err != nil {
		log.Fatalf("failed to connect to target %q: %v", *target, err)
	}
	defer db.Close()

	fmt.Printf("connected to target: %s\n\n", *target)

	// Drop full-line "--" comments before splitting, so a ';' inside a
	// comment does not cut a statement and a leading comment does not hide
	// the statement after it.
	var sqlLines []string
	for _, line := range strings.Split(string(sqlContent), "\n") {
		if !strings.HasPrefix(strings.TrimSpace(line), "--") {
			sqlLines = append(sqlLines, line)
		}
	}
	statements := strings.Split(strings.Join(sqlLines, "\n"), ";")
	for i, stmt := range statements {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" || strings.HasPrefix(stmt, "--") {
			continue
		}

		fmt.Printf("executing statement %d/%d...\n", i+1, len(statements))
		if _, err := db.Exec(stmt); err != nil {
			preview := stmt
			if len(preview) > 100 {
				preview = preview[:100]
			}
			log.Fatalf("failed to execute statement %d: %v\nstatement: %s", i+1, err, preview)
		}
	}

	fmt.Println("migration completed successfully")
}

func openTarget(cfg *config.Config, target string) (*sql.DB, error) {
	switch target {
	case "crm":
		return database.Open(&cfg.CRM)
	case "telemetry":
		return database.Open(&cfg.Telemetry)
	case "mart":
		return clickhouse.Open(&cfg.Mart)
	default:
		return nil, fmt.Errorf("unknown target %q, want crm, telemetry, or mart", target)
	}
}
