package store

import (
	"context"
	"sync"

	jww "github.com/spf13/jwalterweatherman"
)

// Subscription delivers the batches committed to one collection. The first
// batch is a snapshot of the collection as Added changes, possibly empty.
// Batches queue without bound, so a slow reader never loses one.
type Subscription struct {
	Path string

	s     *Store
	out   chan Batch
	mu    sync.Mutex
	queue []Batch
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// Subscribe registers for changes under path. The subscription ends when ctx
// is cancelled or Unsubscribe is called; C is closed afterwards.
func (s *Store) Subscribe(ctx context.Context, path string) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, err := s.Run(ctx, Collection(path))
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		Path: path,
		s:    s,
		out:  make(chan Batch),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	snapshot := Batch{Path: path, Changes: make([]Change, len(docs))}
	for i, doc := range docs {
		snapshot.Changes[i] = Change{Kind: Added, Doc: doc}
	}
	sub.queue = append(sub.queue, snapshot)

	if s.subs[path] == nil {
		s.subs[path] = make(map[*Subscription]struct{})
	}
	s.subs[path][sub] = struct{}{}

	go sub.pump(ctx)
	return sub, nil
}

// C returns the channel batches are delivered on.
func (sub *Subscription) C() <-chan Batch {
	return sub.out
}

func (sub *Subscription) Unsubscribe() {
	sub.once.Do(func() {
		sub.s.mu.Lock()
		delete(sub.s.subs[sub.Path], sub)
		if len(sub.s.subs[sub.Path]) == 0 {
			delete(sub.s.subs, sub.Path)
		}
		sub.s.mu.Unlock()
		close(sub.done)
	})
}

// push is called with the store lock held and must not block.
func (sub *Subscription) push(b Batch) {
	sub.mu.Lock()
	sub.queue = append(sub.queue, b)
	sub.mu.Unlock()
	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

// pending reports how many batches are queued but not yet handed to pump.
func (sub *Subscription) pending() int {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return len(sub.queue)
}

func (sub *Subscription) pump(ctx context.Context) {
	defer close(sub.out)
	go func() {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
		case <-sub.done:
		}
	}()

	for {
		sub.mu.Lock()
		if len(sub.queue) == 0 {
			sub.mu.Unlock()
			select {
			case <-sub.wake:
				continue
			case <-sub.done:
				return
			}
		}
		next := sub.queue[0]
		sub.queue = sub.queue[1:]
		sub.mu.Unlock()

		select {
		case sub.out <- next:
		case <-sub.done:
			jww.DEBUG.Printf("store: subscription on %s closed with %d batches pending", sub.Path, sub.pending()+1)
			return
		}
	}
}
