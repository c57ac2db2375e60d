package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

type ChangeKind string

const (
	Added    ChangeKind = "added"
	Modified ChangeKind = "modified"
	Removed  ChangeKind = "removed"
)

type Change struct {
	Kind ChangeKind `json:"kind"`
	Doc  Document   `json:"doc"`
}

// Batch is the set of changes one commit made to one collection.
type Batch struct {
	Path    string   `json:"path"`
	Changes []Change `json:"changes"`
}

type opKind int

const (
	opSet opKind = iota
	opUpdate
	opDelete
	opExec
)

type writeOp struct {
	kind   opKind
	path   string
	id     string
	data   []byte
	fields map[string]any
	query  string
	args   []any
}

// WriteBatch collects writes and commits them in one transaction. Either
// every write lands and is published, or none is.
type WriteBatch struct {
	s   *Store
	ops []writeOp
	err error
}

func (s *Store) Batch() *WriteBatch {
	return &WriteBatch{s: s}
}

func (b *WriteBatch) Set(path, id string, doc any) *WriteBatch {
	data, err := json.Marshal(doc)
	if err != nil && b.err == nil {
		b.err = errors.Wrapf(err, "encode %s/%s", path, id)
	}
	b.ops = append(b.ops, writeOp{kind: opSet, path: path, id: id, data: data})
	return b
}

func (b *WriteBatch) Update(path, id string, fields map[string]any) *WriteBatch {
	for name := range fields {
		if _, locked := immutableFields[name]; locked && b.err == nil {
			b.err = errors.Wrapf(ErrImmutableField, "%s on %s/%s", name, path, id)
		}
	}
	b.ops = append(b.ops, writeOp{kind: opUpdate, path: path, id: id, fields: fields})
	return b
}

func (b *WriteBatch) Delete(path, id string) *WriteBatch {
	b.ops = append(b.ops, writeOp{kind: opDelete, path: path, id: id})
	return b
}

// Exec runs a raw statement inside the batch transaction, for tables kept
// next to the documents. It produces no change events.
func (b *WriteBatch) Exec(query string, args ...any) *WriteBatch {
	b.ops = append(b.ops, writeOp{kind: opExec, query: query, args: args})
	return b
}

func (b *WriteBatch) Len() int {
	return len(b.ops)
}

func (b *WriteBatch) Commit(ctx context.Context) error {
	if b.err != nil {
		return b.err
	}
	if len(b.ops) == 0 {
		return nil
	}

	s := b.s
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin write batch")
	}

	var batches []Batch
	index := make(map[string]int)
	record := func(c Change) {
		i, ok := index[c.Doc.Path]
		if !ok {
			i = len(batches)
			index[c.Doc.Path] = i
			batches = append(batches, Batch{Path: c.Doc.Path})
		}
		batches[i].Changes = append(batches[i].Changes, c)
	}

	now := s.now()
	for _, op := range b.ops {
		change, err := apply(ctx, tx, op, now)
		if err != nil {
			tx.Rollback()
			return err
		}
		if change != nil {
			record(*change)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit write batch")
	}
	s.publish(batches)
	return nil
}

func loadRow(ctx context.Context, tx *sqlx.Tx, path, id string) (*row, error) {
	var r row
	err := tx.GetContext(ctx, &r,
		`SELECT path, id, data, created_at FROM documents WHERE path = ? AND id = ?`, path, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load %s/%s", path, id)
	}
	return &r, nil
}

func apply(ctx context.Context, tx *sqlx.Tx, op writeOp, now time.Time) (*Change, error) {
	if op.kind == opExec {
		_, err := tx.ExecContext(ctx, op.query, op.args...)
		return nil, errors.Wrap(err, "exec in write batch")
	}

	existing, err := loadRow(ctx, tx, op.path, op.id)
	if err != nil {
		return nil, err
	}

	switch op.kind {
	case opSet:
		createdAt := createdAtOf(op.data, now)
		kind := Added
		if existing != nil {
			createdAt = existing.CreatedAt
			kind = Modified
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO documents (path, id, data, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(path, id) DO UPDATE SET
				data = excluded.data,
				updated_at = excluded.updated_at`,
			op.path, op.id, string(op.data), createdAt, now.UnixNano())
		if err != nil {
			return nil, errors.Wrapf(err, "set %s/%s", op.path, op.id)
		}
		r := row{Path: op.path, ID: op.id, Data: string(op.data), CreatedAt: createdAt}
		return &Change{Kind: kind, Doc: r.document()}, nil

	case opUpdate:
		if existing == nil {
			return nil, errors.Wrapf(ErrNotFound, "update %s/%s", op.path, op.id)
		}
		var fields map[string]any
		if err := json.Unmarshal([]byte(existing.Data), &fields); err != nil {
			return nil, errors.Wrapf(err, "decode %s/%s", op.path, op.id)
		}
		if err := mergeFields(fields, op.fields); err != nil {
			return nil, errors.Wrapf(err, "update %s/%s", op.path, op.id)
		}
		data, err := json.Marshal(fields)
		if err != nil {
			return nil, errors.Wrapf(err, "encode %s/%s", op.path, op.id)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE documents SET data = ?, updated_at = ? WHERE path = ? AND id = ?`,
			string(data), now.UnixNano(), op.path, op.id)
		if err != nil {
			return nil, errors.Wrapf(err, "update %s/%s", op.path, op.id)
		}
		existing.Data = string(data)
		return &Change{Kind: Modified, Doc: existing.document()}, nil

	case opDelete:
		if existing == nil {
			return nil, nil
		}
		_, err := tx.ExecContext(ctx,
			`DELETE FROM documents WHERE path = ? AND id = ?`, op.path, op.id)
		if err != nil {
			return nil, errors.Wrapf(err, "delete %s/%s", op.path, op.id)
		}
		return &Change{Kind: Removed, Doc: existing.document()}, nil
	}
	return nil, errors.Errorf("unknown write op %d", op.kind)
}

// createdAtOf reads the document's own createdAt so the column and the JSON
// agree. Documents without one are stamped with the commit time.
func createdAtOf(data []byte, now time.Time) int64 {
	var stamp struct {
		CreatedAt time.Time `json:"createdAt"`
	}
	if err := json.Unmarshal(data, &stamp); err == nil && !stamp.CreatedAt.IsZero() {
		return stamp.CreatedAt.UnixNano()
	}
	return now.UnixNano()
}
