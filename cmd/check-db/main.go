// Package main is a diagnostic tool for checking database connectivity and inspecting live
// report data. It connects with the server's configuration, prints row counts and the
// current schema version, and exits non-zero on any failure so it can gate deployments.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/vehicle-valuation/valuation-backend/internal/config"
	"github.com/vehicle-valuation/valuation-backend/internal/db"
)

type reportSummary struct {
	Total     int `db:"total"`
	Anonymous int `db:"anonymous"`
	Paid      int `db:"paid"`
	Valued    int `db:"valued"`
}

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.Connect(cfg.Database.GetDSN(), 1, 1)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fmt.Println("Database connection successful")

	version, dirty, err := db.GetMigrationVersion(database.DB)
	if err != nil {
		log.Fatalf("Failed to read schema version: %v", err)
	}
	fmt.Printf("Schema version: %d (dirty: %v)\n", version, dirty)

	var users int
	if err := database.GetContext(ctx, &users, `SELECT COUNT(*) FROM users`); err != nil {
		log.Fatalf("Failed to count users: %v", err)
	}

	var reports reportSummary
	err = database.GetContext(ctx, &reports, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE user_id IS NULL) AS anonymous,
			COUNT(*) FILTER (WHERE amount_paid > 0) AS paid,
			COUNT(*) FILTER (WHERE status = 'valued') AS valued
		FROM reports
	`)
	if err != nil {
		log.Fatalf("Failed to summarize reports: %v", err)
	}

	var calls int
	if err := database.GetContext(ctx, &calls, `SELECT COUNT(*) FROM api_call_logs`); err != nil {
		log.Fatalf("Failed to count api calls: %v", err)
	}

	fmt.Printf("Users: %d\n", users)
	fmt.Printf("Reports: %d (anonymous: %d, paid: %d, valued: %d)\n",
		reports.Total, reports.Anonymous, reports.Paid, reports.Valued)
	fmt.Printf("Valuation API calls logged: %d\n", calls)
}
