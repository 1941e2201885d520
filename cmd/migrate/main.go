package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Rrens/zyra/internal/config"
	"github.com/Rrens/zyra/internal/logger"
	"github.com/Rrens/zyra/internal/repository/migrations"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const usage = "usage: migrate [up|down|version]"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if _, err := logger.Setup(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	if !migrations.Supports(cfg.Storage.Driver) {
		log.Fatal().Str("driver", cfg.Storage.Driver).Msg("Storage driver has no SQL migrations")
	}

	// sqlite files live under a directory that may not exist yet
	if cfg.Storage.Driver == "sqlite" {
		if err := ensureSQLiteDir(cfg.Storage.SQLite.Path); err != nil {
			log.Fatal().Err(err).Msg("Failed to prepare sqlite directory")
		}
	}

	switch command {
	case "up":
		err = migrations.Up(cfg.Storage)
	case "down":
		err = migrations.Down(cfg.Storage)
	case "version":
		var (
			version uint
			dirty   bool
		)
		version, dirty, err = migrations.Version(cfg.Storage)
		if err == nil {
			log.Info().Uint("version", version).Bool("dirty", dirty).Str("driver", cfg.Storage.Driver).Msg("Migration version")
		}
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		log.Fatal().Err(err).Str("command", command).Msg("Migration failed")
	}
}

func ensureSQLiteDir(path string) error {
	if path == "" {
		return fmt.Errorf("storage.sqlite.path is empty")
	}
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
