package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	appmigrations "github.com/wolfman30/patient-comms-platform/migrations"
)

// Usage:
//
//	migrate            apply all pending migrations
//	migrate down <n>   roll back n migrations
//	migrate force <v>  mark version v without running anything (recovery)
//	migrate version    print the current schema version
func main() {
	_ = godotenv.Load()

	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatalf("db driver: %v", err)
	}

	srcDriver, err := iofs.New(appmigrations.FS, ".")
	if err != nil {
		log.Fatalf("source driver: %v", err)
	}

	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		log.Fatalf("create migrator: %v", err)
	}
	defer func() { _, _ = m.Close() }()

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("migrate up: %v", err)
		}
	case "down":
		n := argInt(2, "steps")
		if err := m.Steps(-n); err != nil {
			log.Fatalf("migrate down %d: %v", n, err)
		}
	case "force":
		v := argInt(2, "version")
		if err := m.Force(v); err != nil {
			log.Fatalf("force version: %v", err)
		}
	case "version":
		// handled below; version is printed for every command
	default:
		log.Fatalf("unknown command %q (want up, down, force or version)", cmd)
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		fmt.Println("schema version: none")
		return
	}
	if err != nil {
		log.Fatalf("read version: %v", err)
	}
	fmt.Printf("schema version: %d (dirty=%v)\n", version, dirty)
}

func argInt(pos int, name string) int {
	if len(os.Args) <= pos {
		log.Fatalf("%s argument is required", name)
	}
	v, err := strconv.Atoi(os.Args[pos])
	if err != nil {
		log.Fatalf("invalid %s %q: %v", name, os.Args[pos], err)
	}
	return v
}
