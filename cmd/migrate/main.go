package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	migrate "github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"

	"github.com/pahana-edu/bookshop-checkout/internal/obs"
	"github.com/pahana-edu/bookshop-checkout/internal/store"
)

func main() {
	var (
		direction = flag.String("direction", "up", "up, down or version")
		steps     = flag.Int("steps", 1, "number of migrations to roll back with -direction=down")
		logFormat = flag.String("log-format", "console", "json or console")
	)
	flag.Parse()

	_ = godotenv.Load()
	logger := obs.NewLogger(*logFormat, "info").With().Str("component", "migrate").Logger()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}

	if err := run(*direction, *steps, dbURL); err != nil {
		logger.Fatal().Err(err).Str("direction", *direction).Msg("migration failed")
	}
	logger.Info().Str("direction", *direction).Msg("migration complete")
}

func run(direction string, steps int, dbURL string) error {
	switch direction {
	case "up":
		return store.MigrateUp(dbURL)
	case "down":
		return store.MigrateDown(dbURL, steps)
	case "version":
		m, err := store.NewMigrator(dbURL)
		if err != nil {
			return err
		}
		defer m.Close()
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Println("no migrations applied")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("version %d dirty=%t\n", version, dirty)
		return nil
	default:
		return fmt.Errorf("unknown direction %q", direction)
	}
}
