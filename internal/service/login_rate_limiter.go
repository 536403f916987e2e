package service

import (
	"context"
	"strings"
	"sync"
	"time"
)

// LoginRateLimiter limita los intentos fallidos de login por identificador.
// Allow solo consulta; los fallos se cuentan con RecordFailure y un login
// correcto reinicia el contador.
type LoginRateLimiter interface {
	Allow(ctx context.Context, key string) bool
	RecordFailure(ctx context.Context, key string)
	Reset(ctx context.Context, key string)
}

type memoryLoginRateLimiter struct {
	mu       sync.Mutex
	window   time.Duration
	max      int
	failures map[string][]time.Time
	now      func() time.Time
}

// NewMemoryLoginRateLimiter crea un rate limiter en memoria con ventana deslizante.
func NewMemoryLoginRateLimiter(window time.Duration, max int) LoginRateLimiter {
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &memoryLoginRateLimiter{
		window:   window,
		max:      max,
		failures: make(map[string][]time.Time),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (l *memoryLoginRateLimiter) Allow(_ context.Context, key string) bool {
	key = normalizeLimiterKey(key)
	if key == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pruneLocked(key)) < l.max
}

func (l *memoryLoginRateLimiter) RecordFailure(_ context.Context, key string) {
	key = normalizeLimiterKey(key)
	if key == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[key] = append(l.pruneLocked(key), l.now())
}

func (l *memoryLoginRateLimiter) Reset(_ context.Context, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, normalizeLimiterKey(key))
}

func (l *memoryLoginRateLimiter) pruneLocked(key string) []time.Time {
	cutoff := l.now().Add(-l.window)
	entries := l.failures[key]
	kept := entries[:0]
	for _, ts := range entries {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		delete(l.failures, key)
		return nil
	}
	l.failures[key] = kept
	return kept
}

func normalizeLimiterKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
