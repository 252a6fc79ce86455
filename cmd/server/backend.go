package main

import (
	"context"
	"fmt"

	"github.com/warp/points-ledger/config"
	"github.com/warp/points-ledger/points"
	"github.com/warp/points-ledger/points/store"
	"github.com/warp/points-ledger/store/mongodb"
	"github.com/warp/points-ledger/store/sqlite"
)

// openBackend opens the store named by cfg.Driver. The returned func closes it.
func openBackend(ctx context.Context, cfg config.StoreConfig) (points.Backend, func() error, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemory(), func() error { return nil }, nil

	case "sqlite":
		db, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return db, db.Close, nil

	case "mongo":
		db, err := mongodb.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to mongo: %w", err)
		}
		return db, func() error { return db.Close(context.Background()) }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
