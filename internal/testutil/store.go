package testutil

import (
	"path/filepath"
	"testing"

	"github.com/lerndmina/Heimdall-sub000/internal/store"
)

// OpenStore creates a temporary SQLite store closed when the test ends.
func OpenStore(t *testing.T) *store.Store {
	t.Helper()
	return OpenStoreAt(t, filepath.Join(t.TempDir(), "heimdall.db"))
}

// OpenStoreAt opens the store at path; reopening the same path simulates a
// process restart.
func OpenStoreAt(t *testing.T, path string) *store.Store {
	t.Helper()
	st, err := store.Open(store.Options{Path: path})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}
