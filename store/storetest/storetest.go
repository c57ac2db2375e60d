// Package storetest opens throwaway stores for tests.
package storetest

import (
	"path/filepath"
	"testing"

	"dabubble/db"
	"dabubble/store"
)

// New returns a store on a fresh, migrated SQLite file under t.TempDir.
func New(t testing.TB) *store.Store {
	t.Helper()

	conn, err := db.InitDB(filepath.Join(t.TempDir(), "documents.sqlite"))
	if err != nil {
		t.Fatalf("init sqlite: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return store.New(conn)
}
