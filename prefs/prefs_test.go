package prefs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"dabubble/db"

	"github.com/google/uuid"
)

func exercise(t *testing.T, kv KV, scope string) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := kv.Get(ctx, scope, "recentSearches"); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}
	if err := kv.Put(ctx, scope, "recentSearches", []byte(`["a"]`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := kv.Put(ctx, scope, "recentSearches", []byte(`["b","a"]`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	value, ok, err := kv.Get(ctx, scope, "recentSearches")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(value) != `["b","a"]` {
		t.Fatalf("unexpected value %s", value)
	}
	if _, ok, _ := kv.Get(ctx, scope+"-other", "recentSearches"); ok {
		t.Fatalf("value leaked across scopes")
	}

	if err := kv.Put(ctx, scope+"-other", "recentSearches", []byte(`["c"]`)); err != nil {
		t.Fatalf("put other: %v", err)
	}
	if err := kv.Delete(ctx, scope); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := kv.Get(ctx, scope, "recentSearches"); ok {
		t.Fatalf("preference survived delete")
	}
	if _, ok, _ := kv.Get(ctx, scope+"-other", "recentSearches"); !ok {
		t.Fatalf("delete reached another scope")
	}
	if err := kv.Delete(ctx, scope); err != nil {
		t.Fatalf("delete of empty scope: %v", err)
	}
}

func TestSQLPreferences(t *testing.T) {
	conn, err := db.InitDB(filepath.Join(t.TempDir(), "prefs.sqlite"))
	if err != nil {
		t.Fatalf("init db: %v", err)
	}
	defer conn.Close()

	exercise(t, NewSQL(conn), "u1")
}

func TestRedisPreferences(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	client, err := DialRedis(context.Background(), url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	kv := NewRedis(client, "dabubble-test:")
	scope := uuid.NewString()
	defer kv.Delete(context.Background(), scope+"-other")
	exercise(t, kv, scope)
}
