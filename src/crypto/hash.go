package crypto

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

// HashSize is the size in bytes of digests returned by Hash.
const HashSize = 32

// Hash returns the SHA3-256 digest of data.
func Hash(data []byte) []byte {
	h := sha3.Sum256(data)
	return h[:]
}

// HashStrings hashes the given strings in order, each prefixed with its
// big-endian uint32 length so that no two distinct lists share a digest.
func HashStrings(parts ...string) []byte {
	hasher := sha3.New256()
	var size [4]byte
	for _, p := range parts {
		binary.BigEndian.PutUint32(size[:], uint32(len(p)))
		hasher.Write(size[:])
		hasher.Write([]byte(p))
	}
	return hasher.Sum(nil)
}
