// Package directory mirrors the users, channels and chats collections into
// memory. Each Directory is written only by its own sync loop; every other
// component reads through the View interface.
package directory

import (
	"context"
	"sync"

	"dabubble/store"
	"dabubble/types"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// View is the read-only face of a Directory.
type View[T any] interface {
	Get(id string) (T, bool)
	List() []T
	Find(match func(T) bool) (T, bool)
	Filter(match func(T) bool) []T
	Len() int
	// WaitFor blocks until a record with id is present or ctx ends.
	WaitFor(ctx context.Context, id string) (T, error)
	// Watch returns a channel that receives a signal after every applied
	// batch. Signals coalesce; call stop to release it.
	Watch() (updates <-chan struct{}, stop func())
}

type Directory[T any] struct {
	path string

	mu       sync.RWMutex
	items    map[string]T
	order    []string
	waiters  map[string][]chan struct{}
	watchers map[chan struct{}]struct{}
	ready    chan struct{}
	loaded   bool
}

func newDirectory[T any](path string) *Directory[T] {
	return &Directory[T]{
		path:     path,
		items:    make(map[string]T),
		waiters:  make(map[string][]chan struct{}),
		watchers: make(map[chan struct{}]struct{}),
		ready:    make(chan struct{}),
	}
}

func (d *Directory[T]) Get(id string) (T, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.items[id]
	return v, ok
}

func (d *Directory[T]) List() []T {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]T, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.items[id])
	}
	return out
}

func (d *Directory[T]) Find(match func(T) bool) (T, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, id := range d.order {
		if v := d.items[id]; match(v) {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func (d *Directory[T]) Filter(match func(T) bool) []T {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []T
	for _, id := range d.order {
		if v := d.items[id]; match(v) {
			out = append(out, v)
		}
	}
	return out
}

func (d *Directory[T]) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.items)
}

func (d *Directory[T]) WaitFor(ctx context.Context, id string) (T, error) {
	d.mu.Lock()
	if v, ok := d.items[id]; ok {
		d.mu.Unlock()
		return v, nil
	}
	ch := make(chan struct{})
	d.waiters[id] = append(d.waiters[id], ch)
	d.mu.Unlock()

	select {
	case <-ch:
		v, _ := d.Get(id)
		return v, nil
	case <-ctx.Done():
		d.mu.Lock()
		d.dropWaiter(id, ch)
		d.mu.Unlock()
		var zero T
		return zero, errors.Wrapf(ctx.Err(), "waiting for %s/%s", d.path, id)
	}
}

func (d *Directory[T]) dropWaiter(id string, ch chan struct{}) {
	list := d.waiters[id]
	for i, w := range list {
		if w == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(d.waiters, id)
	} else {
		d.waiters[id] = list
	}
}

func (d *Directory[T]) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	d.mu.Lock()
	d.watchers[ch] = struct{}{}
	d.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.watchers, ch)
			d.mu.Unlock()
		})
	}
}

// apply folds one batch into the mirror. Only run calls it.
func (d *Directory[T]) apply(b store.Batch) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, c := range b.Changes {
		id := c.Doc.ID
		if c.Kind == store.Removed {
			if _, ok := d.items[id]; ok {
				delete(d.items, id)
				d.removeFromOrder(id)
			}
			continue
		}

		var v T
		if err := c.Doc.Decode(&v); err != nil {
			jww.WARN.Printf("directory %s: skipping %s: %v", d.path, id, err)
			continue
		}
		if _, exists := d.items[id]; !exists {
			d.order = append(d.order, id)
		}
		d.items[id] = v

		for _, w := range d.waiters[id] {
			close(w)
		}
		delete(d.waiters, id)
	}

	if !d.loaded {
		d.loaded = true
		close(d.ready)
	}
	for w := range d.watchers {
		select {
		case w <- struct{}{}:
		default:
		}
	}
}

func (d *Directory[T]) removeFromOrder(id string) {
	for i, existing := range d.order {
		if existing == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			return
		}
	}
}

// run applies batches until the subscription closes.
func (d *Directory[T]) run(sub *store.Subscription) {
	for b := range sub.C() {
		d.apply(b)
	}
	jww.DEBUG.Printf("directory %s: sync stopped", d.path)
}

// Directories bundles the three mirrored collections.
type Directories struct {
	Users    *Directory[types.User]
	Channels *Directory[types.Channel]
	Chats    *Directory[types.Chat]
}

// Start subscribes every directory to its collection and returns once each
// holds its initial snapshot. The sync loops stop when ctx is cancelled.
func Start(ctx context.Context, st *store.Store) (*Directories, error) {
	dirs := &Directories{
		Users:    newDirectory[types.User](types.UsersPath),
		Channels: newDirectory[types.Channel](types.ChannelsPath),
		Chats:    newDirectory[types.Chat](types.ChatsPath),
	}

	if err := start(ctx, st, dirs.Users); err != nil {
		return nil, err
	}
	if err := start(ctx, st, dirs.Channels); err != nil {
		return nil, err
	}
	if err := start(ctx, st, dirs.Chats); err != nil {
		return nil, err
	}
	return dirs, nil
}

func start[T any](ctx context.Context, st *store.Store, d *Directory[T]) error {
	sub, err := st.Subscribe(ctx, d.path)
	if err != nil {
		return errors.Wrapf(err, "sync %s", d.path)
	}
	go d.run(sub)

	select {
	case <-d.ready:
		jww.INFO.Printf("directory %s: loaded %d records", d.path, d.Len())
		return nil
	case <-ctx.Done():
		sub.Unsubscribe()
		return errors.Wrapf(ctx.Err(), "sync %s", d.path)
	}
}
