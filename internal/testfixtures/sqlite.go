package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/access-control/internal/persistence/sqlite"
)

// NewSQLiteStore opens a migrated store in a temporary file that is closed
// when the test ends.
func NewSQLiteStore(tb testing.TB) *sqlite.Store {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "access.db")
	store, err := sqlite.Open(context.Background(), path, nil)
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}
	tb.Cleanup(func() { _ = store.Close() })
	return store
}
