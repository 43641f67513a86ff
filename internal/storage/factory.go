package storage

import (
	"context"
	"fmt"

	"github.com/wenhaiyang6/parenting/internal/config"
)

// Open creates the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return NewSQLiteStorage(cfg.DatabasePath)
	case "mongo":
		return NewMongoStorage(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case "postgres":
		return NewPostgresStorage(ctx, cfg.PostgresDSN, cfg.QueryLog)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
