package db

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"pastelink/pkg/domain"
)

// Memory is an in-process key-value backend for development and tests.
// Keys carry their own expiry; once full, the least recently used key is
// evicted, so it is not a durable store.
type Memory struct {
	c     *lru.Cache[string, item]
	mu    sync.Mutex
	clock func() time.Time
}
type item struct {
	val []byte
	exp time.Time
}

func NewMemory(size int) (*Memory, error) {
	if size <= 0 {
		return nil, errors.New("memory store size must be positive")
	}
	if size > 1000000 {
		return nil, errors.New("memory store size too large")
	}
	c, err := lru.New[string, item](size)
	if err != nil {
		return nil, err
	}
	return &Memory{c: c, clock: time.Now}, nil
}

// SetClock replaces the clock used for key expiry.
func (m *Memory) SetClock(clock func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
}

// load returns a live item; the caller holds m.mu.
func (m *Memory) load(key string) (item, bool) {
	it, ok := m.c.Get(key)
	if !ok {
		return item{}, false
	}
	if !it.exp.IsZero() && !m.clock().Before(it.exp) {
		m.c.Remove(key)
		return item{}, false
	}
	return it, true
}

func (m *Memory) store(key string, val []byte, ttl time.Duration) {
	it := item{val: append([]byte(nil), val...)}
	if ttl > 0 {
		it.exp = m.clock().Add(ttl)
	}
	m.c.Add(key, it)
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.load(key)
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), it.val...), nil
}

func (m *Memory) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store(key, val, ttl)
	return nil
}

func (m *Memory) SetNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.load(key); ok {
		return false, nil
	}
	m.store(key, val, ttl)
	return true, nil
}

func (m *Memory) Del(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c.Remove(key)
	return nil
}

// TTL reports the time left on key. ok is false for missing keys; a zero
// duration with ok true means the key never expires.
func (m *Memory) TTL(key string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.load(key)
	if !ok {
		return 0, false
	}
	if it.exp.IsZero() {
		return 0, true
	}
	return it.exp.Sub(m.clock()), true
}

// ConsumeView is the in-process counterpart of the Redis consume script.
// It holds the lock across read and write, so counting is exact.
func (m *Memory) ConsumeView(ctx context.Context, key string, now time.Time) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.load(key)
	if !ok {
		return nil, nil
	}
	var rec domain.Record
	if err := json.Unmarshal(it.val, &rec); err != nil {
		return nil, errors.Wrap(err, "unmarshal record")
	}
	if rec.IsExpired(now) {
		m.c.Remove(key)
		return nil, nil
	}
	if rec.IsExhausted() {
		return nil, nil
	}
	if !rec.Limited() {
		return append([]byte(nil), it.val...), nil
	}
	*rec.RemainingViews--
	data, err := json.Marshal(&rec)
	if err != nil {
		return nil, errors.Wrap(err, "marshal record")
	}
	it.val = data
	m.c.Add(key, it)
	return append([]byte(nil), data...), nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *Memory) Len() int {
	return m.c.Len()
}
