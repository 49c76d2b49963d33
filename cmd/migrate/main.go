// Command migrate applies the Job Store's schema migrations with goose.
// It is the only thing in this repo that touches migrations/: cmd/api,
// cmd/scheduler, and cmd/worker all assume the schema is already current
// and connect straight to it.
package main

import (
	"database/sql"
	"flag"
	"log"

	"github.com/pressly/goose"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/priceleap/enq/internal/config"
)

const migrationsDir = "migrations"

func main() {
	direction := flag.String("direction", "up", "up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("migrate: load config: %v", err)
	}

	db, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("migrate: open postgres: %v", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatalf("migrate: set dialect: %v", err)
	}

	switch *direction {
	case "up":
		err = goose.Up(db, migrationsDir)
	case "down":
		err = goose.Down(db, migrationsDir)
	default:
		log.Fatalf("migrate: unknown direction %q", *direction)
	}
	if err != nil {
		log.Fatalf("migrate: %s: %v", *direction, err)
	}
	log.Printf("migrate: %s complete", *direction)
}
