package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/freeflowhq/billing-engine/internal/postgres"
)

var _ postgres.IClient = (*InMemoryDB)(nil)

type memTxKey struct{}

type memTx struct {
	keys []string // locks released when the tx ends
}

// InMemoryDB implements postgres.IClient without a database. WithTx tags the
// context the way the real client does and TryLockKey consults a
// process-local lock table, so sweep tests exercise the same lock-skip paths
// as production.
type InMemoryDB struct {
	mu    sync.Mutex
	locks map[string]struct{}
}

// NewInMemoryDB creates a new in-memory transaction runner
func NewInMemoryDB() *InMemoryDB {
	return &InMemoryDB{locks: make(map[string]struct{})}
}

func (d *InMemoryDB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		return fn(ctx)
	}

	tx := &memTx{}
	err := fn(context.WithValue(ctx, memTxKey{}, tx))

	d.mu.Lock()
	for _, key := range tx.keys {
		delete(d.locks, key)
	}
	d.mu.Unlock()
	return err
}

func (d *InMemoryDB) TryLockKey(ctx context.Context, key string) (bool, error) {
	tx, ok := ctx.Value(memTxKey{}).(*memTx)
	if !ok {
		return false, fmt.Errorf("TryLockKey must be called inside transaction")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, held := d.locks[key]; held {
		return false, nil
	}
	d.locks[key] = struct{}{}
	tx.keys = append(tx.keys, key)
	return true, nil
}

// HoldLock takes the lock as if another engine instance held it. The
// returned function releases it.
func (d *InMemoryDB) HoldLock(key string) func() {
	d.mu.Lock()
	d.locks[key] = struct{}{}
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.locks, key)
		d.mu.Unlock()
	}
}
