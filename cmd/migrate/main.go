package main

import (
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/iamtahmad1/traffic-manager/internal/config"
)

var (
	upFlag      = flag.Bool("up", false, "Apply all pending migrations")
	downFlag    = flag.Bool("down", false, "Roll back the last migration")
	versionFlag = flag.Bool("version", false, "Show current migration version")
	forceFlag   = flag.Int("force", -1, "Force migration version without running migrations")

	migrationsDir = flag.String("dir", "internal/store/migrations", "Migrations directory")
	databaseURL   = flag.String("database", "", "Postgres URL (defaults to the loaded configuration)")
)

func main() {
	flag.Parse()

	target := *databaseURL
	if target == "" {
		cfg, err := config.Load()
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		target = postgresURL(cfg.Database)
	}

	m, err := migrate.New("file://"+*migrationsDir, target)
	if err != nil {
		log.Fatalf("Failed to initialize migrations: %v", err)
	}
	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			log.Printf("Warning: error closing migrator: source=%v db=%v", sourceErr, dbErr)
		}
	}()

	switch {
	case *versionFlag:
		version, dirty, err := m.Version()
		if err == migrate.ErrNilVersion {
			fmt.Println("No migrations applied yet")
			return
		}
		if err != nil {
			log.Fatalf("Failed to get migration version: %v", err)
		}
		fmt.Printf("Current migration version: %d (dirty: %t)\n", version, dirty)

	case *forceFlag >= 0:
		if err := m.Force(*forceFlag); err != nil {
			log.Fatalf("Failed to force version: %v", err)
		}
		fmt.Printf("Migration version forced to %d\n", *forceFlag)

	case *upFlag:
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("Migration failed: %v", err)
		}
		fmt.Println("Migrations applied")

	case *downFlag:
		if err := m.Steps(-1); err != nil {
			log.Fatalf("Rollback failed: %v", err)
		}
		fmt.Println("Rolled back one migration")

	default:
		flag.Usage()
		os.Exit(1)
	}
}

// postgresURL builds the migrate-compatible URL from the typed configuration
func postgresURL(cfg config.DatabaseConfig) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:     cfg.Name,
		RawQuery: "sslmode=" + cfg.SSLMode,
	}
	return u.String()
}
