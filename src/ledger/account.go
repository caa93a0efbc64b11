package ledger

import (
	"encoding/json"
	"errors"

	"github.com/mosaicnetworks/snowdag/src/crypto"
)

var (
	// ErrOutOfSync is returned when a block does not extend the tail of the
	// sender's chain.
	ErrOutOfSync = errors.New("previous hash does not match chain tail")
	// ErrBadFirstBlock is returned when the first block of a chain does not
	// point to the genesis sentinel.
	ErrBadFirstBlock = errors.New("first block must reference the genesis sentinel")
	// ErrInsufficientBalance is returned when a block spends more than its
	// sender owns.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInvalidAmount is returned for amounts outside [1, MaxAmount].
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrUnknownPrevious is returned when a block's previous hash is neither
	// the sentinel nor a stored block of the same sender.
	ErrUnknownPrevious = errors.New("unknown previous block")
)

// Account is the view of an address's history. InChain is unordered; OutChain
// is ordered from first to last block.
type Account struct {
	Address  string   `json:"address"`
	InChain  []*Block `json:"inChain"`
	OutChain []*Block `json:"outChain"`
}

// NewAccount creates an empty account.
func NewAccount(address string) *Account {
	return &Account{
		Address:  address,
		InChain:  []*Block{},
		OutChain: []*Block{},
	}
}

// Received returns the sum of inbound amounts.
func (a *Account) Received() uint64 {
	var total uint64
	for _, b := range a.InChain {
		total += b.Amount
	}
	return total
}

// Sent returns the sum of outbound amounts.
func (a *Account) Sent() uint64 {
	var total uint64
	for _, b := range a.OutChain {
		total += b.Amount
	}
	return total
}

// Balance returns Received - Sent. Stores never let it go negative, but a
// hand-built Account could, in which case Balance returns 0.
func (a *Account) Balance() uint64 {
	in, out := a.Received(), a.Sent()
	if out > in {
		return 0
	}
	return in - out
}

// Tail returns the last outgoing block, or nil.
func (a *Account) Tail() *Block {
	if len(a.OutChain) == 0 {
		return nil
	}
	return a.OutChain[len(a.OutChain)-1]
}

// TailHash returns the hash the next outgoing block must reference.
func (a *Account) TailHash() string {
	if tail := a.Tail(); tail != nil {
		return tail.Hash
	}
	return crypto.GenesisSentinel
}

// CheckAppend verifies that b can be appended to the out-chain: it must
// reference the current tail and its amount must be covered by the balance.
func (a *Account) CheckAppend(b *Block) error {
	if b.Amount == 0 || b.Amount > MaxAmount {
		return ErrInvalidAmount
	}

	if len(a.OutChain) == 0 {
		if b.PreviousHash != crypto.GenesisSentinel {
			return ErrBadFirstBlock
		}
	} else if b.PreviousHash != a.TailHash() {
		return ErrOutOfSync
	}

	if b.Amount > a.Balance() {
		return ErrInsufficientBalance
	}

	return nil
}

// Contains reports whether a block with the given hash is in the out-chain.
func (a *Account) Contains(hash string) bool {
	for _, b := range a.OutChain {
		if b.Hash == hash {
			return true
		}
	}
	return false
}

// MarshalJSON adds the derived balance to the JSON representation.
func (a *Account) MarshalJSON() ([]byte, error) {
	type alias Account
	return json.Marshal(&struct {
		*alias
		Balance uint64 `json:"balance"`
	}{
		alias:   (*alias)(a),
		Balance: a.Balance(),
	})
}
