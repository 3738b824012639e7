package cache

import (
	"context"
	"sync"
	"time"
)

// fakeKV is an in-memory KV with TTLs for unit tests.
type fakeKV struct {
	mu   sync.Mutex
	data map[string]fakeItem
	now  func() time.Time
	err  error
}

type fakeItem struct {
	value   string
	expires time.Time
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string]fakeItem), now: time.Now}
}

func (f *fakeKV) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	it, ok := f.data[key]
	if !ok {
		return "", ErrMiss
	}
	if !it.expires.IsZero() && f.now().After(it.expires) {
		delete(f.data, key)
		return "", ErrMiss
	}
	return it.value, nil
}

func (f *fakeKV) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	var exp time.Time
	if ttl > 0 {
		exp = f.now().Add(ttl)
	}
	f.data[key] = fakeItem{value: value, expires: exp}
	return nil
}

func (f *fakeKV) Del(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}
