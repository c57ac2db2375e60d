// Package stream keeps a local, creation-ordered mirror of one message
// collection.
package stream

import (
	"context"
	"sort"
	"sync"

	"dabubble/store"
	"dabubble/types"

	jww "github.com/spf13/jwalterweatherman"
)

type Stream struct {
	st *store.Store

	mu       sync.Mutex
	gen      uint64
	path     string
	sub      *store.Subscription
	messages []types.Message
	days     []string
	updates  chan struct{}
}

func New(st *store.Store) *Stream {
	return &Stream{
		st:      st,
		updates: make(chan struct{}, 1),
	}
}

// Switch points the stream at another collection. The previous
// subscription is cancelled before local state is cleared, so nothing from
// the old path is applied afterwards.
func (s *Stream) Switch(ctx context.Context, path string) error {
	s.mu.Lock()
	s.stopLocked()
	s.path = path
	gen := s.gen
	s.mu.Unlock()

	sub, err := s.st.Subscribe(ctx, path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if gen != s.gen {
		// Switched again while subscribing.
		s.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	s.sub = sub
	s.mu.Unlock()

	go s.run(gen, sub)
	return nil
}

// Close drops the subscription and clears the mirror.
func (s *Stream) Close() {
	s.mu.Lock()
	s.stopLocked()
	s.path = ""
	s.mu.Unlock()
	s.notify()
}

func (s *Stream) stopLocked() {
	if s.sub != nil {
		s.sub.Unsubscribe()
		s.sub = nil
	}
	s.gen++
	s.messages = nil
	s.days = nil
}

func (s *Stream) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

func (s *Stream) Messages() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Message(nil), s.messages...)
}

// Days lists the calendar days separators are drawn for.
func (s *Stream) Days() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.days...)
}

// Updates signals after every applied batch. Signals coalesce.
func (s *Stream) Updates() <-chan struct{} {
	return s.updates
}

func (s *Stream) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

func (s *Stream) run(gen uint64, sub *store.Subscription) {
	for b := range sub.C() {
		s.mu.Lock()
		if gen != s.gen {
			s.mu.Unlock()
			return
		}
		s.apply(b)
		s.mu.Unlock()
		s.notify()
	}
}

// apply folds one batch into the mirror; s.mu must be held.
func (s *Stream) apply(b store.Batch) {
	added := false
	for _, c := range b.Changes {
		switch c.Kind {
		case store.Added:
			var m types.Message
			if err := c.Doc.Decode(&m); err != nil {
				jww.WARN.Printf("stream %s: %v", s.path, err)
				continue
			}
			if i := s.indexOf(m.ID); i >= 0 {
				s.messages[i] = m
				continue
			}
			s.messages = append(s.messages, m)
			added = true
			if day := m.Day(); len(s.days) == 0 || s.days[len(s.days)-1] != day {
				s.days = append(s.days, day)
			}

		case store.Modified:
			var m types.Message
			if err := c.Doc.Decode(&m); err != nil {
				jww.WARN.Printf("stream %s: %v", s.path, err)
				continue
			}
			i := s.indexOf(m.ID)
			if i < 0 {
				jww.DEBUG.Printf("stream %s: modification for unknown message %s", s.path, m.ID)
				continue
			}
			cur := &s.messages[i]
			cur.Content = m.Content
			cur.Reactions = m.Reactions
			cur.Edited = m.Edited
			cur.EditedAt = m.EditedAt
			cur.Answerable = m.Answerable
			cur.AnswerCount = m.AnswerCount
			cur.LastAnswerAt = m.LastAnswerAt
			cur.Attachments = m.Attachments

		case store.Removed:
			if i := s.indexOf(c.Doc.ID); i >= 0 {
				s.messages = append(s.messages[:i], s.messages[i+1:]...)
			}
		}
	}

	if added {
		sort.SliceStable(s.messages, func(i, j int) bool {
			a, b := s.messages[i], s.messages[j]
			if a.CreatedAt.Equal(b.CreatedAt) {
				return a.ID < b.ID
			}
			return a.CreatedAt.Before(b.CreatedAt)
		})
	}
}

func (s *Stream) indexOf(id string) int {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}
