// migrate applies the Pro-tier (PostgreSQL) schema out-of-band via
// golang-migrate. The Community tier (SQLite) never needs this binary:
// store.New applies schema.go's DDL in-process on every startup instead.
//
// The migrations/ directory versions three tables in order: rules,
// rule_versions, then decisions — matching the order the domain model
// introduces them (a Rule always precedes the RuleVersions it accumulates,
// and Decision references the Application it was computed for). Adding a fourth table means a 0004_*.up.sql/.down.sql pair, not
// a change to this binary.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	var databaseURL string
	var migrationsPath string
	var command string

	flag.StringVar(&databaseURL, "database", "", "Pro-tier PostgreSQL connection URL (required)")
	flag.StringVar(&migrationsPath, "path", "migrations", "Path to the rules/rule_versions/decisions migration set")
	flag.StringVar(&command, "command", "up", "Migration command: up, down, version, force")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("SMARTUNDERWRITE_DATABASE_URL")
	}
	if databaseURL == "" {
		log.Fatal("Pro-tier database URL is required: use -database or SMARTUNDERWRITE_DATABASE_URL")
	}

	m, err := migrate.New(fmt.Sprintf("file://%s", migrationsPath), databaseURL)
	if err != nil {
		log.Fatalf("opening migration set at %s: %v", migrationsPath, err)
	}
	defer m.Close()

	switch command {
	case "up":
		runUp(m)
	case "down":
		runDown(m)
	case "version":
		printVersion(m)
	case "force":
		forceVersion(m)
	default:
		log.Fatalf("unknown command %q (use: up, down, version, force)", command)
	}
}

// runUp brings the schema forward to the newest migration in the set:
// rules, then rule_versions, then decisions, in migration-number order.
func runUp(m *migrate.Migrate) {
	log.Println("applying pending migrations (rules -> rule_versions -> decisions)...")
	err := m.Up()
	switch {
	case err == nil:
		log.Println("schema is current")
	case errors.Is(err, migrate.ErrNoChange):
		log.Println("no pending migrations; schema already current")
	default:
		log.Fatalf("applying migrations: %v", err)
	}
}

// runDown rolls back exactly one migration. Unlike a bare m.Down(), which
// drops every versioned table in one call, this steps back one file at a
// time: an operator pointing this at a live Pro-tier database almost never
// means "tear down rules, rule_versions, and decisions together."
func runDown(m *migrate.Migrate) {
	log.Println("rolling back one migration step...")
	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("rolling back: %v", err)
	}
	log.Println("rolled back one step")
}

func printVersion(m *migrate.Migrate) {
	version, dirty, err := m.Version()
	if err != nil {
		log.Fatalf("reading schema version: %v", err)
	}
	log.Printf("schema at migration %04d (dirty: %v)", version, dirty)
}

// forceVersion marks the tracked schema version without running any SQL,
// for recovering from a migration that failed partway and left the dirty
// flag set.
func forceVersion(m *migrate.Migrate) {
	if len(flag.Args()) < 1 {
		log.Fatal("force requires a target migration number: -command force <version>")
	}
	var version int
	if _, err := fmt.Sscanf(flag.Arg(0), "%d", &version); err != nil {
		log.Fatalf("invalid migration number %q: %v", flag.Arg(0), err)
	}
	if err := m.Force(version); err != nil {
		log.Fatalf("forcing version %d: %v", version, err)
	}
	log.Printf("schema version forced to %04d", version)
}
