// Package validation classifies inbound blocks against the local ledger.
package validation

import (
	"errors"
	"fmt"

	"github.com/mosaicnetworks/snowdag/src/common"
	"github.com/mosaicnetworks/snowdag/src/crypto"
	"github.com/mosaicnetworks/snowdag/src/crypto/keys"
	"github.com/mosaicnetworks/snowdag/src/ledger"
)

// Code is the outcome of validating a block.
type Code int

// Codes keep the numbering used on the wire by older nodes.
const (
	Valid Code = iota
	InvalidFields
	AccountNotFound
	AlreadyExists
	Conflict
	InsufficientBalance
	BadFirstBlock
	OutOfSync
)

var codeMessages = map[Code]string{
	Valid:               "Valid New Block",
	InvalidFields:       "Invalid Field(s)",
	AccountNotFound:     "Account doesn't Exist",
	AlreadyExists:       "Block already accepted",
	Conflict:            "Conflicting Block",
	InsufficientBalance: "Insufficient Balance",
	BadFirstBlock:       "First out block must have previous hash: " + crypto.GenesisSentinel,
	OutOfSync:           "Previous Hash is invalid",
}

func (c Code) String() string {
	if m, ok := codeMessages[c]; ok {
		return m
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Validator checks blocks against a Store.
type Validator struct {
	store ledger.Store
}

// NewValidator creates a Validator reading from store.
func NewValidator(store ledger.Store) *Validator {
	return &Validator{store: store}
}

// Validate returns the code describing b. The error is only set when the store
// fails.
func (v *Validator) Validate(b *ledger.Block) (Code, error) {
	if err := CheckFields(b); err != nil {
		return InvalidFields, nil
	}

	account, err := v.store.GetAccount(b.Sender)
	if common.IsStore(err, common.KeyNotFound) {
		return AccountNotFound, nil
	}
	if err != nil {
		return 0, err
	}

	_, err = v.store.GetBlock(b.Hash)
	if err == nil {
		return AlreadyExists, nil
	}
	if !common.IsStore(err, common.KeyNotFound) {
		return 0, err
	}

	_, err = v.store.GetPreference(b.Slot())
	if err == nil {
		return Conflict, nil
	}
	if !common.IsStore(err, common.KeyNotFound) {
		return 0, err
	}

	switch err := account.CheckAppend(b); {
	case err == nil:
		return Valid, nil
	case errors.Is(err, ledger.ErrBadFirstBlock):
		return BadFirstBlock, nil
	case errors.Is(err, ledger.ErrOutOfSync):
		return OutOfSync, nil
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return InsufficientBalance, nil
	default:
		return InvalidFields, nil
	}
}

// CheckFields verifies that every field is well-formed, that the hash matches
// the content and that the sender signed it.
func CheckFields(b *ledger.Block) error {
	if b == nil {
		return errors.New("missing block")
	}

	for name, f := range map[string]string{
		"sender":    b.Sender,
		"recipient": b.Recipient,
	} {
		raw, err := crypto.Decode(f)
		if err != nil || len(raw) != keys.AddressSize {
			return fmt.Errorf("invalid %s", name)
		}
	}

	if b.Sig == "" || !crypto.CanDecode(b.Sig) {
		return errors.New("invalid sig")
	}

	for name, f := range map[string]string{
		"hash":         b.Hash,
		"previousHash": b.PreviousHash,
	} {
		raw, err := crypto.Decode(f)
		if err != nil || len(raw) != crypto.HashSize {
			return fmt.Errorf("invalid %s", name)
		}
	}

	if b.Amount == 0 || b.Amount > ledger.MaxAmount {
		return ledger.ErrInvalidAmount
	}

	return b.Verify()
}
