package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/relay/go/internal/backend"
	"github.com/mcdev12/relay/go/internal/config"
	"github.com/mcdev12/relay/go/internal/dbconfig"
)

// setupRepository returns the configured store and, for Postgres, the pool
// to close on shutdown.
func setupRepository(ctx context.Context, cfg *config.Config) (backend.Repository, *pgxpool.Pool, error) {
	if cfg.Store == config.StoreMemory {
		log.Warn().Msg("using in-memory race store, data is lost on restart")
		return backend.NewMemoryRepository(), nil, nil
	}

	dbCfg := dbconfig.NewConfigFromEnv()
	pool, err := dbCfg.Connect(ctx)
	if err != nil {
		return nil, nil, err
	}

	repo := backend.NewPostgresRepository(pool)
	if err := repo.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Info().
		Str("user", dbCfg.User).
		Str("host", dbCfg.Host).
		Int("port", dbCfg.Port).
		Str("database", dbCfg.Database).
		Msg("connected to database")
	return repo, pool, nil
}
