// Applies pending database migrations and reports the schema version.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradepulse/tradepulse/internal/config"
	"github.com/tradepulse/tradepulse/internal/db"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	database, err := db.New(ctx, db.Config{
		DSN:      cfg.Database.GetDSN(),
		PoolSize: int32(cfg.Database.PoolSize),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}

	version, err := database.SchemaVersion(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read schema version")
	}
	log.Info().Int("schema_version", version).Msg("Database is up to date")
}
