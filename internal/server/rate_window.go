package server

import (
	"sync"
	"time"
)

// messageWindow is a fixed-window per-connection message counter. Once the
// limit is reached, further messages are rejected until the window expires
// and the count resets.
type messageWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	start  time.Time
	count  int
}

func newMessageWindow(limit int, window time.Duration) *messageWindow {
	return &messageWindow{limit: limit, window: window}
}

func (w *messageWindow) allow(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if now.Sub(w.start) >= w.window {
		w.start = now
		w.count = 0
	}
	if w.count >= w.limit {
		return false
	}
	w.count++
	return true
}
