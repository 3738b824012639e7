// Package dbtest provides an in-memory stand-in for db.Transactor so that
// service tests can exercise rollback and serialisation without PostgreSQL.
package dbtest

import (
	"context"
	"sync"
)

// Snapshotter is implemented by in-memory repositories. Snapshot captures
// the current state and returns a function that restores it.
type Snapshotter interface {
	Snapshot() (restore func())
}

type txKey struct{}

// Transactor runs units of work one at a time, like rows locked for the
// whole transaction, and restores every registered store when fn fails.
type Transactor struct {
	mu     sync.Mutex
	stores []Snapshotter

	countMu   sync.Mutex
	commits   int
	rollbacks int
}

func NewTransactor(stores ...Snapshotter) *Transactor {
	return &Transactor{stores: stores}
}

// Register adds stores after construction.
func (t *Transactor) Register(stores ...Snapshotter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stores = append(t.stores, stores...)
}

func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if InTx(ctx) {
		return fn(ctx)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	restores := make([]func(), len(t.stores))
	for i, s := range t.stores {
		restores[i] = s.Snapshot()
	}

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		for i := len(restores) - 1; i >= 0; i-- {
			restores[i]()
		}
		t.count(&t.rollbacks)
		return err
	}
	t.count(&t.commits)
	return nil
}

// InTx reports whether ctx belongs to a running unit of work.
func InTx(ctx context.Context) bool {
	in, _ := ctx.Value(txKey{}).(bool)
	return in
}

func (t *Transactor) count(n *int) {
	t.countMu.Lock()
	*n++
	t.countMu.Unlock()
}

func (t *Transactor) Commits() int {
	t.countMu.Lock()
	defer t.countMu.Unlock()
	return t.commits
}

func (t *Transactor) Rollbacks() int {
	t.countMu.Lock()
	defer t.countMu.Unlock()
	return t.rollbacks
}
