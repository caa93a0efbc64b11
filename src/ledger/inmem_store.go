package ledger

import (
	"github.com/algorand/go-deadlock"
	cm "github.com/mosaicnetworks/snowdag/src/common"
	"github.com/sirupsen/logrus"
)

// InmemStore implements the Store interface with maps. Nothing survives a
// restart.
type InmemStore struct {
	*AccountLocks

	mu          deadlock.RWMutex
	blocks      map[string]*Block              //hash => Block
	slots       map[string]string              //slot => hash
	byRecipient map[string]map[string]struct{} //recipient => hashes

	logger *logrus.Entry
}

// NewInmemStore creates an empty InmemStore.
func NewInmemStore(logger *logrus.Entry) *InmemStore {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	return &InmemStore{
		AccountLocks: NewAccountLocks(),
		blocks:       make(map[string]*Block),
		slots:        make(map[string]string),
		byRecipient:  make(map[string]map[string]struct{}),
		logger:       logger.WithField("store", InmemStoreType),
	}
}

// StoreBlock implements the Store interface.
func (s *InmemStore) StoreBlock(block *Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, err := planStore(inmemReader{s}, block)
	if err != nil {
		return err
	}
	if plan == nil {
		return nil
	}

	s.put(plan.insert.Copy())
	for _, b := range plan.removed {
		s.del(b)
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
func (s *InmemStore) GetBlock(hash string) (*Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.blocks[hash]
	if !ok {
		return nil, cm.NewStoreErr("Block", cm.KeyNotFound, hash)
	}
	return b.Copy(), nil
}

// GetPreference implements the Store interface.
func (s *InmemStore) GetPreference(slot string) (*Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, _ := inmemReader{s}.occupant(slot)
	if b == nil {
		return nil, cm.NewStoreErr("Slot", cm.KeyNotFound, slot)
	}
	return b.Copy(), nil
}

// GetAccount implements the Store interface.
func (s *InmemStore) GetAccount(address string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, err := readAccount(inmemReader{s}, address)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, cm.NewStoreErr("Account", cm.KeyNotFound, address)
	}
	for i, b := range account.InChain {
		account.InChain[i] = b.Copy()
	}
	for i, b := range account.OutChain {
		account.OutChain[i] = b.Copy()
	}
	return account, nil
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	return nil
}

// StorePath implements the Store interface.
func (s *InmemStore) StorePath() string {
	return ""
}

func (s *InmemStore) put(b *Block) {
	s.blocks[b.Hash] = b
	s.slots[b.Slot()] = b.Hash
	rec, ok := s.byRecipient[b.Recipient]
	if !ok {
		rec = make(map[string]struct{})
		s.byRecipient[b.Recipient] = rec
	}
	rec[b.Hash] = struct{}{}
}

func (s *InmemStore) del(b *Block) {
	delete(s.blocks, b.Hash)
	// the slot may already belong to the replacing block
	if s.slots[b.Slot()] == b.Hash {
		delete(s.slots, b.Slot())
	}
	if rec, ok := s.byRecipient[b.Recipient]; ok {
		delete(rec, b.Hash)
		if len(rec) == 0 {
			delete(s.byRecipient, b.Recipient)
		}
	}
}

// inmemReader reads the maps of an InmemStore whose lock is held by the
// caller.
type inmemReader struct {
	s *InmemStore
}

func (r inmemReader) block(hash string) (*Block, error) {
	return r.s.blocks[hash], nil
}

func (r inmemReader) occupant(slot string) (*Block, error) {
	hash, ok := r.s.slots[slot]
	if !ok {
		return nil, nil
	}
	return r.s.blocks[hash], nil
}

func (r inmemReader) inbound(address string) ([]*Block, error) {
	res := []*Block{}
	for hash := range r.s.byRecipient[address] {
		res = append(res, r.s.blocks[hash])
	}
	return res, nil
}
