package ledger

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Store engine names accepted by NewStore.
const (
	InmemStoreType  = "inmem"
	BadgerStoreType = "badger"
	SQLStoreType    = "sqlite"
)

// Store persists blocks and reconstructs accounts from them.
type Store interface {
	// StoreBlock inserts a block in its slot. It is a no-op when the block is
	// already stored. When another block occupies the slot, that block and
	// its successors are replaced, and accounts left with a negative balance
	// lose their most recent outgoing blocks. The whole operation is atomic.
	StoreBlock(block *Block) error
	// GetBlock returns a block by hash.
	GetBlock(hash string) (*Block, error)
	// GetPreference returns the block occupying a slot.
	GetPreference(slot string) (*Block, error)
	// GetAccount reconstructs the chains of an address.
	GetAccount(address string) (*Account, error)
	// LockAccount acquires the lock of an address. The returned function
	// releases it and is safe to call more than once.
	LockAccount(ctx context.Context, address string) (func(), error)
	// Close releases the underlying resources.
	Close() error
	// StorePath returns the on-disk location of the store, if any.
	StorePath() string
}

// NewStore creates a store of the given kind. path is ignored by the inmem
// engine, cacheSize by all but badger.
func NewStore(kind string, path string, cacheSize int, logger *logrus.Entry) (Store, error) {
	switch kind {
	case InmemStoreType, "":
		return NewInmemStore(logger), nil
	case BadgerStoreType:
		return NewBadgerStore(path, cacheSize, logger)
	case SQLStoreType:
		return NewSQLStore(path, logger)
	default:
		return nil, fmt.Errorf("unknown store type %q", kind)
	}
}
