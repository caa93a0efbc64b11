package keys

import (
	"errors"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/snowdag/src/crypto"
)

// ErrBadSignature is returned by Verify when a signature does not match.
var ErrBadSignature = errors.New("signature does not verify")

// Sign signs a digest and returns the encoded DER signature.
func Sign(priv *btcec.PrivateKey, digest []byte) (string, error) {
	sig, err := priv.Sign(digest)
	if err != nil {
		return "", err
	}
	return crypto.Encode(sig.Serialize()), nil
}

// Verify checks that sig is a signature of digest by the owner of address.
func Verify(address string, digest []byte, sig string) error {
	pub, err := PublicKeyFromAddress(address)
	if err != nil {
		return err
	}

	raw, err := crypto.Decode(sig)
	if err != nil {
		return err
	}

	signature, err := btcec.ParseDERSignature(raw, Curve())
	if err != nil {
		return err
	}

	if !signature.Verify(digest, pub) {
		return ErrBadSignature
	}

	return nil
}
