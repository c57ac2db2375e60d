// Package prefs stores small per-user preference values, such as the
// recent search list.
package prefs

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// KV is a durable key/value store scoped per user. Get reports ok=false
// for a missing key; Delete drops every key of a scope.
type KV interface {
	Get(ctx context.Context, scope, key string) (value []byte, ok bool, err error)
	Put(ctx context.Context, scope, key string, value []byte) error
	Delete(ctx context.Context, scope string) error
}

// SQL keeps preferences in the preferences table.
type SQL struct {
	db *sqlx.DB
}

func NewSQL(db *sqlx.DB) *SQL {
	return &SQL{db: db}
}

func (s *SQL) Get(ctx context.Context, scope, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.GetContext(ctx, &value,
		`SELECT value FROM preferences WHERE scope = ? AND key = ?`, scope, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "get preference %s/%s", scope, key)
	}
	return value, true, nil
}

func (s *SQL) Put(ctx context.Context, scope, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (scope, key, value, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(scope, key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		scope, key, string(value))
	return errors.Wrapf(err, "put preference %s/%s", scope, key)
}

// Delete drops every preference of scope.
func (s *SQL) Delete(ctx context.Context, scope string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM preferences WHERE scope = ?`, scope)
	return errors.Wrapf(err, "delete preferences of %s", scope)
}

// Redis keeps preferences as plain keys under a prefix.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// DialRedis parses a redis:// URL and checks the server answers.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return client, nil
}

func (r *Redis) key(scope, key string) string {
	return r.prefix + scope + ":" + key
}

func (r *Redis) Get(ctx context.Context, scope, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, r.key(scope, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "get preference %s/%s", scope, key)
	}
	return value, true, nil
}

func (r *Redis) Put(ctx context.Context, scope, key string, value []byte) error {
	err := r.client.Set(ctx, r.key(scope, key), value, 0).Err()
	return errors.Wrapf(err, "put preference %s/%s", scope, key)
}

func (r *Redis) Delete(ctx context.Context, scope string) error {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.key(scope, "*"), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return errors.Wrapf(err, "scan preferences of %s", scope)
	}
	if len(keys) == 0 {
		return nil
	}
	err := r.client.Del(ctx, keys...).Err()
	return errors.Wrapf(err, "delete preferences of %s", scope)
}
