package peers

import (
	"strings"

	"github.com/mosaicnetworks/snowdag/src/crypto"
)

// Peer is a node reachable at URL.
type Peer struct {
	URL     string `json:"url"`
	Address string `json:"address"`
}

// NewPeer creates a Peer and computes its address.
func NewPeer(url string) *Peer {
	url = NormalizeURL(url)
	return &Peer{
		URL:     url,
		Address: Address(url),
	}
}

// NormalizeURL strips surrounding spaces and trailing slashes so that the same
// node always hashes to the same address.
func NormalizeURL(url string) string {
	return strings.TrimRight(strings.TrimSpace(url), "/")
}

// Address returns the ring address of a URL: the encoded hash of the
// normalized URL.
func Address(url string) string {
	return crypto.EncodedHash([]byte(NormalizeURL(url)))
}
