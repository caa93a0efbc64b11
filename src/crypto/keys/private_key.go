package keys

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec"
)

//GenerateKey creates a new secp256k1 private key.
func GenerateKey() (*btcec.PrivateKey, error) {
	return btcec.NewPrivateKey(Curve())
}

//DumpPrivateKey exports a private key into a 32 byte binary dump.
func DumpPrivateKey(priv *btcec.PrivateKey) []byte {
	if priv == nil {
		return nil
	}
	return priv.Serialize()
}

//ParsePrivateKey creates a private key with the given D value.
func ParsePrivateKey(d []byte) (*btcec.PrivateKey, error) {
	if 8*len(d) != Curve().BitSize {
		return nil, fmt.Errorf("invalid length, need %d bits", Curve().BitSize)
	}

	v := new(big.Int).SetBytes(d)

	// The D value must be < N
	if v.Cmp(Curve().N) >= 0 {
		return nil, errors.New("invalid private key, >=N")
	}

	// The D value must not be zero.
	if v.Sign() <= 0 {
		return nil, errors.New("invalid private key, zero or negative")
	}

	priv, _ := btcec.PrivKeyFromBytes(Curve(), d)

	return priv, nil
}

//PrivateKeyHex returns the hexadecimal representation of a raw private key as
//returned by DumpPrivateKey
func PrivateKeyHex(key *btcec.PrivateKey) string {
	return hex.EncodeToString(DumpPrivateKey(key))
}
