// Command export-xlsx pulls a date range of DailyReport rows out of the
// mart and writes them to an xlsx workbook, for operators who want a
// report snapshot without querying the mart directly.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/bionicpro/reports-etl/internal/aggregation"
	"github.com/bionicpro/reports-etl/internal/config"
	"github.com/bionicpro/reports-etl/internal/export"
	"github.com/bionicpro/reports-etl/internal/platform/clickhouse"
)

func main() {
	from := flag.String("from", "", "start date, inclusive, YYYY-MM-DD")
	to := flag.String("to", "", "end date, inclusive, YYYY-MM-DD")
	out := flag.String("out", "daily_reports.xlsx", "output file path")
	flag.Parse()

	if *from == "" || *to == "" {
		fmt.Fprintln(os.Stderr, "usage: export-xlsx -from YYYY-MM-DD -to YYYY-MM-DD [-out path.xlsx]")
		os.Exit(1)
	}

	fromDate, err := time.Parse("2006-01-02", *from)
	if err != nil {
		log.Fatalf("invalid -from date: %v", err)
	}
	toDate, err := time.Parse("2006-01-02", *to)
	if err != nil {
		log.Fatalf("invalid -to date: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	martDB, err := clickhouse.Open(&cfg.Mart)
	if err != nil {
		log.Fatalf("failed to connect to mart: %v", err)
	}
	defer martDB.Close()

	views := aggregation.New(martDB)
	reports, err := views.DailyReportsRange(context.Background(), fromDate, toDate)
	if err != nil {
		log.Fatalf("failed to query daily reports: %v", err)
	}

	workbook, err := export.DailyReports(reports)
	if err != nil {
		log.Fatalf("failed to render workbook: %v", err)
	}

	if err := os.WriteFile(*out, workbook, 0644); err != nil {
		log.Fatalf("failed to write %s: %v", *out, err)
	}

	fmt.Printf("wrote %d daily reports to %s\n", len(reports), *out)
}
