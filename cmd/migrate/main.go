package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	direction := flag.String("direction", "up", "up, down, or status")
	steps := flag.Int("steps", 0, "number of steps (0 = all)")
	dbURL := flag.String("db-url", "", "database URL (overrides env)")
	migrationsPath := flag.String("path", "migrations", "path to migrations directory")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	m, err := migrate.New("file://"+*migrationsPath, resolveDSN(*dbURL))
	if err != nil {
		logger.Error("failed to create migrator", "error", err)
		os.Exit(1)
	}
	defer m.Close()

	switch *direction {
	case "up":
		if *steps > 0 {
			err = m.Steps(*steps)
		} else {
			err = m.Up()
		}
	case "down":
		if *steps > 0 {
			err = m.Steps(-*steps)
		} else {
			err = m.Down()
		}
	case "status":
		// Report only; no schema changes.
	default:
		logger.Error("invalid direction", "direction", *direction)
		os.Exit(1)
	}

	if err != nil && err != migrate.ErrNoChange {
		logger.Error("migration failed", "direction", *direction, "error", err)
		os.Exit(1)
	}

	v, dirty, verr := m.Version()
	if verr != nil && verr != migrate.ErrNilVersion {
		logger.Error("failed to read schema version", "error", verr)
		os.Exit(1)
	}
	logger.Info("migrations complete",
		"direction", *direction,
		"version", v,
		"dirty", dirty,
		"no_change", err == migrate.ErrNoChange,
	)
}

// resolveDSN prefers the flag, then DATABASE_URL, then the same DB_* pieces
// cmd/conduit reads.
func resolveDSN(flagURL string) string {
	if flagURL != "" {
		return flagURL
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}
	host := envOrDefault("DB_HOST", "localhost")
	port := envOrDefault("DB_PORT", "5432")
	user := envOrDefault("DB_USER", "conduit")
	pass := envOrDefault("DB_PASSWORD", "conduit-dev")
	name := envOrDefault("DB_NAME", "conduit")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, pass, host, port, name)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
