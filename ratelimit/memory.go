package ratelimit

import (
	"context"
	"sync"
	"time"
)

var _ Limiter = (*Memory)(nil)

// Memory is an in-process Limiter. Suitable for a single instance and tests.
type Memory struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

type window struct {
	stamps  []time.Time // ascending
	expires time.Time
}

// MemoryOption configures a Memory limiter.
type MemoryOption func(*Memory)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// WithJanitor starts a background goroutine evicting idle keys every interval.
// Call Close to stop it.
func WithJanitor(interval time.Duration) MemoryOption {
	return func(m *Memory) {
		if interval <= 0 {
			return
		}
		go m.janitor(interval)
	}
}

// NewMemory creates an in-process sliding-window limiter.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		windows: make(map[string]*window),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Allow records a call under key and reports whether it fits in the window.
func (m *Memory) Allow(_ context.Context, key string, limit int, win time.Duration) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok {
		w = &window{}
		m.windows[key] = w
	}

	w.stamps = append(w.stamps, now)

	cutoff := now.Add(-win)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
	w.expires = now.Add(win + Grace)

	oldest := now
	if len(w.stamps) > 0 {
		oldest = w.stamps[0]
	}
	return newResult(len(w.stamps), limit, oldest, win), nil
}

// Cleanup evicts keys idle for longer than their window plus Grace.
// It returns the number of evicted keys.
func (m *Memory) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for k, w := range m.windows {
		if now.After(w.expires) {
			delete(m.windows, k)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

// Close stops the janitor, if any.
func (m *Memory) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	return nil
}

func (m *Memory) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.Cleanup()
		}
	}
}
