package ledger

import (
	"context"
	"sync"

	"github.com/algorand/go-deadlock"
	"golang.org/x/sync/semaphore"
)

// AccountLocks hands out one lock per address. Locks are created on first use
// and live as long as the AccountLocks.
type AccountLocks struct {
	mu    deadlock.Mutex
	locks map[string]*semaphore.Weighted
}

// NewAccountLocks creates an empty AccountLocks.
func NewAccountLocks() *AccountLocks {
	return &AccountLocks{
		locks: make(map[string]*semaphore.Weighted),
	}
}

// LockAccount blocks until the address's lock is acquired or ctx is done.
func (l *AccountLocks) LockAccount(ctx context.Context, address string) (func(), error) {
	l.mu.Lock()
	sem, ok := l.locks[address]
	if !ok {
		sem = semaphore.NewWeighted(1)
		l.locks[address] = sem
	}
	l.mu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() { sem.Release(1) })
	}, nil
}
