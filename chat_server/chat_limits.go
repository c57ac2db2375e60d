package main

import (
	"sync"
	"time"
)

const (
	postRateWindow       = 10 * time.Second
	postRateMaxPerWindow = 40
	maxContentBytes      = 64 * 1024
)

// rateWindow admits at most max events per sliding window.
type rateWindow struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	events []time.Time
}

func newPostLimiter() *rateWindow {
	return &rateWindow{window: postRateWindow, max: postRateMaxPerWindow}
}

func (w *rateWindow) allow(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	windowStart := now.Add(-w.window)
	trimmed := w.events[:0]
	for _, ts := range w.events {
		if ts.After(windowStart) {
			trimmed = append(trimmed, ts)
		}
	}
	if len(trimmed) >= w.max {
		w.events = trimmed
		return false
	}
	w.events = append(trimmed, now)
	return true
}
