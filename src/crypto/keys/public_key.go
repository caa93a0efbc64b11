package keys

import (
	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/snowdag/src/crypto"
)

// AddressSize is the decoded length of an address, a compressed public key.
const AddressSize = btcec.PubKeyBytesLenCompressed

// Address returns the ledger address controlled by a public key: the base32
// encoding of its compressed form.
func Address(pub *btcec.PublicKey) string {
	return crypto.Encode(pub.SerializeCompressed())
}

// PublicKeyFromAddress recovers the public key encoded in an address.
func PublicKeyFromAddress(address string) (*btcec.PublicKey, error) {
	raw, err := crypto.Decode(address)
	if err != nil {
		return nil, err
	}
	return btcec.ParsePubKey(raw, Curve())
}
