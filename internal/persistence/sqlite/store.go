// Package sqlite provides the durable persistence backend on top of the pure
// Go modernc SQLite driver. The schema is managed with golang-migrate.
package sqlite

import (
	"context"
	"log/slog"

	"github.com/example/access-control/internal/persistence"
)

// Store bundles the SQLite repositories over one connection pool.
type Store struct {
	*UserRepository
	*PermissionRepository
	*AccessEventRepository

	pool *ConnectionPool
}

// Open connects to dsn and applies pending migrations.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	pool, err := OpenPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Migrate(logger); err != nil {
		_ = pool.Close()
		return nil, err
	}
	return NewStore(pool), nil
}

// NewStore wraps an already migrated pool.
func NewStore(pool *ConnectionPool) *Store {
	return &Store{
		UserRepository:        NewUserRepository(pool),
		PermissionRepository:  NewPermissionRepository(pool),
		AccessEventRepository: NewAccessEventRepository(pool),
		pool:                  pool,
	}
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

var _ persistence.Store = (*Store)(nil)
