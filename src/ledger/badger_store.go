package ledger

import (
	"fmt"
	"os"

	"github.com/algorand/go-deadlock"
	"github.com/dgraph-io/badger"
	lru "github.com/hashicorp/golang-lru"
	cm "github.com/mosaicnetworks/snowdag/src/common"
	"github.com/sirupsen/logrus"
)

const (
	blockPrefix     = "block"
	slotPrefix      = "slot"
	recipientPrefix = "recipient"
)

// BadgerStore implements the Store interface on top of a Badger database.
// Recently stored blocks are kept in an LRU cache which is only written while
// holding the write lock, so it never disagrees with the database.
type BadgerStore struct {
	*AccountLocks

	db    *badger.DB
	path  string
	cache *lru.Cache //hash => Block

	// serialises writers so that read-write transactions never conflict
	writeLock deadlock.Mutex

	logger *logrus.Entry
}

// NewBadgerStore opens an existing database or creates a new one if nothing is
// found in path.
func NewBadgerStore(path string, cacheSize int, logger *logrus.Entry) (*BadgerStore, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, err
	}

	if cacheSize <= 0 {
		cacheSize = 1
	}

	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(path).
		WithSyncWrites(false).
		WithTruncate(true).
		WithLogger(logger.WithFields(logrus.Fields{"ns": "badger"}))

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &BadgerStore{
		AccountLocks: NewAccountLocks(),
		db:           handle,
		path:         path,
		cache:        cache,
		logger:       logger.WithField("store", BadgerStoreType),
	}, nil
}

/*******************************************************************************
Keys
*******************************************************************************/

func blockKey(hash string) []byte {
	return []byte(fmt.Sprintf("%s_%s", blockPrefix, hash))
}

func slotKey(slot string) []byte {
	return []byte(fmt.Sprintf("%s_%s", slotPrefix, slot))
}

func recipientIndexPrefix(address string) []byte {
	return []byte(fmt.Sprintf("%s_%s_", recipientPrefix, address))
}

func recipientKey(address, hash string) []byte {
	return append(recipientIndexPrefix(address), []byte(hash)...)
}

/*******************************************************************************
Store interface
*******************************************************************************/

// StoreBlock implements the Store interface. Planning and writes happen in a
// single read-write transaction.
func (s *BadgerStore) StoreBlock(block *Block) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	plan, err := planStore(&badgerReader{tx: tx, cache: s.cache}, block)
	if err != nil {
		return err
	}
	if plan == nil {
		return nil
	}

	if err := s.dbPutBlock(tx, plan.insert); err != nil {
		return err
	}
	for _, b := range plan.removed {
		if err := s.dbDeleteBlock(tx, b, plan.insert); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.cache.Add(plan.insert.Hash, plan.insert.Copy())
	for _, b := range plan.removed {
		s.cache.Remove(b.Hash)
	}

	if len(plan.removed) > 0 {
		s.logger.WithFields(logrus.Fields{
			"block":   plan.insert.Hash,
			"removed": len(plan.removed),
		}).Debug("Replaced blocks")
	}

	return nil
}

// GetBlock implements the Store interface.
func (s *BadgerStore) GetBlock(hash string) (*Block, error) {
	if b, ok := s.cache.Get(hash); ok {
		return b.(*Block).Copy(), nil
	}

	var res *Block
	err := s.db.View(func(tx *badger.Txn) error {
		var err error
		res, err = dbGetBlock(tx, hash)
		return err
	})
	if err != nil {
		return nil, mapError(err, "Block", hash)
	}
	return res, nil
}

// GetPreference implements the Store interface.
func (s *BadgerStore) GetPreference(slot string) (*Block, error) {
	var res *Block
	err := s.db.View(func(tx *badger.Txn) error {
		var err error
		res, err = (&badgerReader{tx: tx}).occupant(slot)
		return err
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, cm.NewStoreErr("Slot", cm.KeyNotFound, slot)
	}
	return res, nil
}

// GetAccount implements the Store interface. The account is read from a
// single snapshot.
func (s *BadgerStore) GetAccount(address string) (*Account, error) {
	var account *Account
	err := s.db.View(func(tx *badger.Txn) error {
		var err error
		account, err = readAccount(&badgerReader{tx: tx}, address)
		return err
	})
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, cm.NewStoreErr("Account", cm.KeyNotFound, address)
	}
	return account, nil
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// StorePath implements the Store interface.
func (s *BadgerStore) StorePath() string {
	return s.path
}

/*******************************************************************************
DB Methods
*******************************************************************************/

func dbGetBlock(tx *badger.Txn, hash string) (*Block, error) {
	item, err := tx.Get(blockKey(hash))
	if err != nil {
		return nil, err
	}

	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}

	block := new(Block)
	if err := block.Unmarshal(val); err != nil {
		return nil, err
	}

	return block, nil
}

func (s *BadgerStore) dbPutBlock(tx *badger.Txn, block *Block) error {
	val, err := block.Marshal()
	if err != nil {
		return err
	}

	//insert [hash] => [block bytes]
	if err := tx.Set(blockKey(block.Hash), val); err != nil {
		return err
	}

	//insert [slot] => [hash]
	if err := tx.Set(slotKey(block.Slot()), []byte(block.Hash)); err != nil {
		return err
	}

	//insert [recipient_hash] => []
	return tx.Set(recipientKey(block.Recipient, block.Hash), []byte{})
}

// dbDeleteBlock removes a block and its index entries. The slot entry is kept
// when it already points to the replacing block.
func (s *BadgerStore) dbDeleteBlock(tx *badger.Txn, block *Block, replacement *Block) error {
	if err := tx.Delete(blockKey(block.Hash)); err != nil {
		return err
	}

	if block.Slot() != replacement.Slot() {
		if err := tx.Delete(slotKey(block.Slot())); err != nil {
			return err
		}
	}

	return tx.Delete(recipientKey(block.Recipient, block.Hash))
}

// badgerReader reads through a transaction. Blocks are looked up in the cache
// first when one is provided.
type badgerReader struct {
	tx    *badger.Txn
	cache *lru.Cache
}

func (r *badgerReader) block(hash string) (*Block, error) {
	if r.cache != nil {
		if b, ok := r.cache.Get(hash); ok {
			return b.(*Block), nil
		}
	}

	b, err := dbGetBlock(r.tx, hash)
	if err != nil {
		if isDBKeyNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return b, nil
}

func (r *badgerReader) occupant(slot string) (*Block, error) {
	item, err := r.tx.Get(slotKey(slot))
	if err != nil {
		if isDBKeyNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	hash, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}

	return r.block(string(hash))
}

func (r *badgerReader) inbound(address string) ([]*Block, error) {
	prefix := recipientIndexPrefix(address)

	hashes := []string{}

	// read-write transactions allow a single open iterator, so it is closed
	// before the blocks are fetched
	it := r.tx.NewIterator(badger.IteratorOptions{PrefetchValues: false})
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().KeyCopy(nil)
		hashes = append(hashes, string(key[len(prefix):]))
	}
	it.Close()

	res := make([]*Block, 0, len(hashes))
	for _, h := range hashes {
		b, err := r.block(h)
		if err != nil {
			return nil, err
		}
		if b == nil {
			return nil, fmt.Errorf("recipient index references missing block %s", h)
		}
		res = append(res, b)
	}

	return res, nil
}

/*******************************************************************************
Helpers
*******************************************************************************/

func isDBKeyNotFound(err error) bool {
	return err == badger.ErrKeyNotFound
}

func mapError(err error, name, key string) error {
	if err != nil {
		if isDBKeyNotFound(err) {
			return cm.NewStoreErr(name, cm.KeyNotFound, key)
		}
	}
	return err
}
