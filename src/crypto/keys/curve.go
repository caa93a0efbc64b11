package keys

import (
	"github.com/btcsuite/btcd/btcec"
)

//Curve returns the secp256k1 curve. We use btcsuite's golang implementation.
func Curve() *btcec.KoblitzCurve {
	return btcec.S256()
}
