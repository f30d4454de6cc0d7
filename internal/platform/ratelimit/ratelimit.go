// Package ratelimit holds the counters behind the HTTP rate limiter: an
// in-process fixed window for single instances and a Redis token bucket for
// deployments that run several API replicas.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetIn   time.Duration
}

type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

type bucket struct {
	count int
	reset time.Time
}

// Memory is a fixed-window counter per key.
type Memory struct {
	mu      sync.Mutex
	now     func() time.Time
	clients map[string]*bucket
}

func NewMemory() *Memory {
	return &Memory{now: time.Now, clients: map[string]*bucket{}}
}

func (m *Memory) Allow(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.clients[key]
	if !ok || now.After(b.reset) {
		b = &bucket{reset: now.Add(window)}
		m.clients[key] = b
	}
	b.count++
	m.sweep(now)

	return Decision{
		Allowed:   b.count <= limit,
		Limit:     limit,
		Remaining: max(limit-b.count, 0),
		ResetIn:   b.reset.Sub(now),
	}, nil
}

// sweep drops expired windows once the map grows past a few thousand keys.
func (m *Memory) sweep(now time.Time) {
	if len(m.clients) < 4096 {
		return
	}
	for key, b := range m.clients {
		if now.After(b.reset) {
			delete(m.clients, key)
		}
	}
}
