package crypto

import (
	"encoding/base32"
	"strings"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenesisSentinel is the encoding of 256 zero bits. It marks the absence of a
// predecessor: the previous hash of the genesis block and of every account's
// first outgoing block.
var GenesisSentinel = Encode(make([]byte, HashSize))

// Encode returns the unpadded base32 representation of data.
func Encode(data []byte) string {
	return encoding.EncodeToString(data)
}

// Decode parses a string produced by Encode.
func Decode(s string) ([]byte, error) {
	return encoding.DecodeString(strings.TrimRight(s, "="))
}

// CanDecode reports whether s is a valid Encode output.
func CanDecode(s string) bool {
	_, err := Decode(s)
	return err == nil
}

// EncodedHash returns Encode(Hash(data)).
func EncodedHash(data []byte) string {
	return Encode(Hash(data))
}
