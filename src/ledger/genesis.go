package ledger

import (
	"github.com/mosaicnetworks/snowdag/src/common"
	"github.com/mosaicnetworks/snowdag/src/crypto"
)

// DefaultGenesisAddress is the address of the development key whose private
// scalar is 1. It receives the whole supply in development networks.
const DefaultGenesisAddress = "AJ434ZT67HOLXLCVUBRJLTUHBMDQFG743MW44KGZLHZICWYW7ALZQ"

// NewGenesisBlock returns the block that credits MaxAmount to recipient. It
// is unsigned.
func NewGenesisBlock(recipient string) *Block {
	return NewBlock(crypto.GenesisSentinel, recipient, MaxAmount, crypto.GenesisSentinel)
}

// EnsureGenesis stores genesis unless its slot is already occupied.
func EnsureGenesis(store Store, genesis *Block) error {
	_, err := store.GetPreference(genesis.Slot())
	if err == nil {
		return nil
	}
	if !common.IsStore(err, common.KeyNotFound) {
		return err
	}
	return store.StoreBlock(genesis)
}
