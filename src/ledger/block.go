package ledger

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/snowdag/src/crypto"
	"github.com/mosaicnetworks/snowdag/src/crypto/keys"
	"github.com/ugorji/go/codec"
)

// MaxAmount is the largest amount a block can carry, 2^53 - 1.
const MaxAmount uint64 = 1<<53 - 1

// Block transfers Amount from Sender to Recipient. Blocks are content-addressed
// and immutable once hashed.
type Block struct {
	Sender       string `json:"sender"`
	Recipient    string `json:"recipient"`
	Amount       uint64 `json:"amount"`
	PreviousHash string `json:"previousHash"`
	Hash         string `json:"hash"`
	Sig          string `json:"sig"`
}

// NewBlock creates an unsigned block and sets its hash.
func NewBlock(sender, recipient string, amount uint64, previousHash string) *Block {
	b := &Block{
		Sender:       sender,
		Recipient:    recipient,
		Amount:       amount,
		PreviousHash: previousHash,
	}
	b.Hash = b.ComputeHash()
	return b
}

// ComputeHash returns the encoded digest of the block's content fields.
func (b *Block) ComputeHash() string {
	return crypto.Encode(crypto.HashStrings(
		b.Sender,
		b.Recipient,
		strconv.FormatUint(b.Amount, 10),
		b.PreviousHash,
	))
}

// SlotID returns the slot claimed by a block with the given previous hash and
// sender.
func SlotID(previousHash, sender string) string {
	if previousHash == crypto.GenesisSentinel {
		return previousHash + sender
	}
	return previousHash
}

// FirstSlot returns the slot of an account's first outgoing block.
func FirstSlot(address string) string {
	return SlotID(crypto.GenesisSentinel, address)
}

// Slot returns the slot this block claims.
func (b *Block) Slot() string {
	return SlotID(b.PreviousHash, b.Sender)
}

// IsGenesis reports whether the block is a genesis block, which has the
// sentinel as both sender and previous hash.
func (b *Block) IsGenesis() bool {
	return b.Sender == crypto.GenesisSentinel && b.PreviousHash == crypto.GenesisSentinel
}

// Sign sets the block's hash and signs it with priv, which must control the
// sender address.
func (b *Block) Sign(priv *btcec.PrivateKey) error {
	if keys.Address(priv.PubKey()) != b.Sender {
		return errors.New("private key does not control sender address")
	}

	b.Hash = b.ComputeHash()

	digest, err := crypto.Decode(b.Hash)
	if err != nil {
		return err
	}

	sig, err := keys.Sign(priv, digest)
	if err != nil {
		return err
	}

	b.Sig = sig

	return nil
}

// Verify checks that the hash matches the content and that the signature was
// produced by the sender.
func (b *Block) Verify() error {
	if b.Hash != b.ComputeHash() {
		return fmt.Errorf("block hash mismatch")
	}

	digest, err := crypto.Decode(b.Hash)
	if err != nil {
		return err
	}

	return keys.Verify(b.Sender, digest, b.Sig)
}

// Copy returns a shallow copy, which is a full copy since all fields are
// values.
func (b *Block) Copy() *Block {
	c := *b
	return &c
}

func (b *Block) String() string {
	return fmt.Sprintf("%s (%s -> %s: %d)", short(b.Hash), short(b.Sender), short(b.Recipient), b.Amount)
}

func short(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

//Marshal - canonical json encoding of the block
func (b *Block) Marshal() ([]byte, error) {
	bf := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(bf, jh)

	if err := enc.Encode(b); err != nil {
		return nil, err
	}

	return bf.Bytes(), nil
}

// Unmarshal decodes data produced by Marshal.
func (b *Block) Unmarshal(data []byte) error {
	bf := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(bf, jh)

	return dec.Decode(b)
}
