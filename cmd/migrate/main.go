package main

import (
	"flag"
	"os"

	"github.com/aimerfeng/docagent/internal/database"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Configure zerolog for pretty console output
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var (
		command     string
		steps       int
		databaseURL string
	)

	flag.StringVar(&command, "command", "up", "Migration command: up, down, force, version, drop")
	flag.IntVar(&steps, "steps", 1, "Migrations to roll back for down, or the version for force")
	flag.StringVar(&databaseURL, "database", "", "Database URL (overrides DATABASE_URL env)")
	flag.Parse()

	_ = godotenv.Load()
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		log.Fatal().Msg("DATABASE_URL environment variable or -database flag is required")
	}

	log.Info().
		Str("command", command).
		Int("steps", steps).
		Msg("Starting migration")

	var err error
	switch command {
	case "up":
		err = database.RunMigrations(databaseURL)
	case "down":
		err = database.RollbackMigration(databaseURL, steps)
	case "force":
		err = database.ForceVersion(databaseURL, steps)
	case "version":
		version, dirty, verr := database.GetMigrationVersion(databaseURL)
		if verr != nil {
			log.Fatal().Err(verr).Msg("Failed to get version")
		}
		if version == 0 {
			log.Info().Msg("No migrations have been applied yet")
			return
		}
		log.Info().
			Uint("version", version).
			Bool("dirty", dirty).
			Msg("Current migration version")
		return
	case "drop":
		err = database.DropAll(databaseURL)
	default:
		log.Fatal().Str("command", command).Msg("Unknown command")
	}

	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}

	log.Info().Msg("Migration completed successfully")
}
