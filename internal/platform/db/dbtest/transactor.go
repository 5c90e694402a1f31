// Package dbtest provides an in-memory db.Transactor for service tests.
package dbtest

import (
	"context"
	"sync"

	"github.com/hms/hms/internal/platform/db"
)

type txKey struct{}

type txState struct {
	held []*sync.Mutex
	keys map[string]bool
}

// Transactor serializes callers on lock keys the way transaction-scoped
// advisory locks do: a key is held from Lock until the outermost InTx
// returns. Writes made by fn are not rolled back on error.
type Transactor struct {
	mu        sync.Mutex
	locks     map[string]*sync.Mutex
	keys      []string
	commits   int
	rollbacks int
}

var _ db.Transactor = (*Transactor)(nil)

func NewTransactor() *Transactor {
	return &Transactor{locks: make(map[string]*sync.Mutex)}
}

func (t *Transactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if st, _ := ctx.Value(txKey{}).(*txState); st != nil {
		return fn(ctx)
	}
	st := &txState{keys: make(map[string]bool)}
	defer func() {
		for i := len(st.held) - 1; i >= 0; i-- {
			st.held[i].Unlock()
		}
	}()

	err := fn(context.WithValue(ctx, txKey{}, st))

	t.mu.Lock()
	if err != nil {
		t.rollbacks++
	} else {
		t.commits++
	}
	t.mu.Unlock()
	return err
}

func (t *Transactor) Lock(ctx context.Context, key string) error {
	st, _ := ctx.Value(txKey{}).(*txState)
	if st == nil {
		return db.ErrNoTransaction
	}
	if st.keys[key] {
		return nil
	}

	t.mu.Lock()
	m, ok := t.locks[key]
	if !ok {
		m = &sync.Mutex{}
		t.locks[key] = m
	}
	t.keys = append(t.keys, key)
	t.mu.Unlock()

	m.Lock()
	st.held = append(st.held, m)
	st.keys[key] = true
	return nil
}

// InTx reports whether ctx carries a transaction started by a Transactor.
func InTx(ctx context.Context) bool {
	st, _ := ctx.Value(txKey{}).(*txState)
	return st != nil
}

// Keys returns every lock key requested so far, in order.
func (t *Transactor) Keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.keys...)
}

func (t *Transactor) Commits() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.commits
}

func (t *Transactor) Rollbacks() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rollbacks
}
