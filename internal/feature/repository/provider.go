package repository

import (
	"fmt"

	"github.com/featflow/featflow/internal/common/config"
	"github.com/featflow/featflow/internal/db"
	"github.com/featflow/featflow/internal/feature"
)

// Provide opens the configured database backend and returns the store with
// its cleanup function.
func Provide(cfg config.DatabaseConfig) (feature.Store, func() error, error) {
	var pool *db.Pool
	var err error

	switch cfg.Driver {
	case "postgres":
		pool, err = db.NewPostgresPool(cfg.DSN(), cfg.MaxConns, cfg.MinConns)
	case "sqlite", "":
		var path string
		path, err = cfg.ExpandedPath()
		if err != nil {
			return nil, nil, err
		}
		pool, err = db.NewSQLitePool(path)
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, nil, err
	}

	repo, err := New(pool.Writer(), pool.Reader())
	if err != nil {
		_ = pool.Close()
		return nil, nil, err
	}
	return repo, pool.Close, nil
}
