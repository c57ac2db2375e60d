// Package store is a collection-path addressed JSON document store on top of
// SQLite. Every committed write is fanned out to subscribers of the written
// collection as a batch of added/modified/removed changes.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

var (
	ErrNotFound       = errors.New("document not found")
	ErrImmutableField = errors.New("field cannot be changed")
	ErrInvalidField   = errors.New("invalid field name")
)

// FieldCreatedAt is stored in its own column so range queries and ordering
// by creation time do not go through JSON.
const FieldCreatedAt = "createdAt"

var immutableFields = map[string]struct{}{
	"id":           {},
	FieldCreatedAt: {},
	"creatorId":    {},
}

type Document struct {
	Path      string          `json:"path"`
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"createdAt"`
}

func (d Document) Decode(v any) error {
	return errors.Wrapf(json.Unmarshal(d.Data, v), "decode %s/%s", d.Path, d.ID)
}

// DecodeAll decodes every document into a T, in order.
func DecodeAll[T any](docs []Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var v T
		if err := doc.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

type row struct {
	Path      string `db:"path"`
	ID        string `db:"id"`
	Data      string `db:"data"`
	CreatedAt int64  `db:"created_at"`
}

func (r row) document() Document {
	return Document{
		Path:      r.Path,
		ID:        r.ID,
		Data:      json.RawMessage(r.Data),
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
	}
}

type Store struct {
	db *sqlx.DB

	// mu serialises commits with each other and with subscription
	// registration, so a subscriber never misses a change between its
	// snapshot and its first batch.
	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}

	now func() time.Time
}

func New(conn *sqlx.DB) *Store {
	return &Store{
		db:   conn,
		subs: make(map[string]map[*Subscription]struct{}),
		now:  time.Now,
	}
}

// DB exposes the underlying handle for packages that keep their own tables
// next to the documents.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) Get(ctx context.Context, path, id string) (Document, error) {
	var r row
	err := s.db.GetContext(ctx, &r,
		`SELECT path, id, data, created_at FROM documents WHERE path = ? AND id = ?`, path, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, errors.Wrapf(ErrNotFound, "%s/%s", path, id)
		}
		return Document{}, errors.Wrapf(err, "get %s/%s", path, id)
	}
	return r.document(), nil
}

// GetAs reads one document and decodes it into a T.
func GetAs[T any](ctx context.Context, s *Store, path, id string) (T, error) {
	var v T
	doc, err := s.Get(ctx, path, id)
	if err != nil {
		return v, err
	}
	err = doc.Decode(&v)
	return v, err
}

func (s *Store) Set(ctx context.Context, path, id string, doc any) error {
	return s.Batch().Set(path, id, doc).Commit(ctx)
}

func (s *Store) Update(ctx context.Context, path, id string, fields map[string]any) error {
	return s.Batch().Update(path, id, fields).Commit(ctx)
}

func (s *Store) Delete(ctx context.Context, path, id string) error {
	return s.Batch().Delete(path, id).Commit(ctx)
}

// Run executes q and returns the matching documents.
func (s *Store) Run(ctx context.Context, q Query) ([]Document, error) {
	query, args, err := q.build()
	if err != nil {
		return nil, err
	}
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrapf(err, "query %s", q.Path)
	}
	docs := make([]Document, len(rows))
	for i, r := range rows {
		docs[i] = r.document()
	}
	return docs, nil
}

// RunAs executes q and decodes the results into T values.
func RunAs[T any](ctx context.Context, s *Store, q Query) ([]T, error) {
	docs, err := s.Run(ctx, q)
	if err != nil {
		return nil, err
	}
	return DecodeAll[T](docs)
}

func (s *Store) publish(batches []Batch) {
	for _, b := range batches {
		for sub := range s.subs[b.Path] {
			sub.push(b)
		}
		jww.TRACE.Printf("store: published %d changes on %s", len(b.Changes), b.Path)
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Descendants lists every document nested below the document at
// collection/id, such as a channel's messages and their thread answers.
func (s *Store) Descendants(ctx context.Context, collection, id string) ([]Document, error) {
	prefix := likeEscaper.Replace(collection+"/"+id) + "/%"
	var rows []row
	err := s.db.SelectContext(ctx, &rows,
		`SELECT path, id, data, created_at FROM documents WHERE path LIKE ? ESCAPE '\' ORDER BY path, created_at`,
		prefix)
	if err != nil {
		return nil, errors.Wrapf(err, "descendants of %s/%s", collection, id)
	}
	docs := make([]Document, len(rows))
	for i, r := range rows {
		docs[i] = r.document()
	}
	return docs, nil
}
