package testfixtures

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/example/room-tracker/internal/persistence/sqlite"
)

// NewSQLiteStore opens a migrated store in a temporary file. The store is
// closed when the test ends.
func NewSQLiteStore(tb testing.TB) *sqlite.Store {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "rooms.db")
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate", path)

	store, err := sqlite.Open(dsn)
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}
	tb.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(context.Background(), slog.New(slog.DiscardHandler)); err != nil {
		tb.Fatalf("failed to migrate storage: %v", err)
	}
	return store
}
