package search

import (
	"context"
	"sync"
	"time"

	"github.com/bep/debounce"
	jww "github.com/spf13/jwalterweatherman"
)

// DebounceDelay is how long input must stay unchanged before a search runs.
const DebounceDelay = 300 * time.Millisecond

type input struct {
	query        string
	contextToken string
}

// Coordinator debounces keystrokes into searches. A query equal to the one
// last searched is not run again.
type Coordinator struct {
	ctx      context.Context
	searcher *Searcher
	debounce func(func())
	results  chan Results

	mu      sync.Mutex
	pending input
	last    *input

	runMu sync.Mutex
}

func NewCoordinator(ctx context.Context, searcher *Searcher, delay time.Duration) *Coordinator {
	return &Coordinator{
		ctx:      ctx,
		searcher: searcher,
		debounce: debounce.New(delay),
		results:  make(chan Results, 1),
	}
}

// Results delivers the outcome of each search. Only the newest unread
// result is kept.
func (c *Coordinator) Results() <-chan Results {
	return c.results
}

func (c *Coordinator) Input(query, contextToken string) {
	c.mu.Lock()
	c.pending = input{query: query, contextToken: contextToken}
	c.mu.Unlock()
	c.debounce(c.fire)
}

// Reset forgets the last query so the same text searches again.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.last = nil
	c.mu.Unlock()
}

func (c *Coordinator) fire() {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	c.mu.Lock()
	in := c.pending
	if c.last != nil && *c.last == in {
		c.mu.Unlock()
		return
	}
	c.last = &in
	c.mu.Unlock()

	if c.ctx.Err() != nil {
		return
	}
	res, err := c.searcher.Search(c.ctx, in.query, in.contextToken)
	if err != nil {
		jww.WARN.Printf("search %q: %v", in.query, err)
		res.Err = err.Error()
	}
	c.deliver(res)
}

func (c *Coordinator) deliver(res Results) {
	for {
		select {
		case c.results <- res:
			return
		default:
		}
		select {
		case <-c.results:
		default:
		}
	}
}
