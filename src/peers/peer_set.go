package peers

import (
	"math/rand"
	"sort"

	"github.com/algorand/go-deadlock"
)

// PeerSet is the set of known peers. It is safe for concurrent use.
type PeerSet struct {
	mu deadlock.RWMutex

	self      *Peer
	byAddress map[string]*Peer
	peers     []*Peer  // insertion order, sampled uniformly
	ring      []string // sorted addresses, self included
}

// NewPeerSet creates a PeerSet for the node reachable at selfURL.
func NewPeerSet(selfURL string) *PeerSet {
	self := NewPeer(selfURL)
	return &PeerSet{
		self:      self,
		byAddress: make(map[string]*Peer),
		peers:     []*Peer{},
		ring:      []string{self.Address},
	}
}

// Self returns the URL of the local node.
func (ps *PeerSet) Self() string {
	return ps.self.URL
}

// AddPeer adds url to the set. It returns false when the URL is already known
// or is the local node's.
func (ps *PeerSet) AddPeer(url string) bool {
	peer := NewPeer(url)
	if peer.URL == "" || peer.Address == ps.self.Address {
		return false
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, ok := ps.byAddress[peer.Address]; ok {
		return false
	}

	ps.byAddress[peer.Address] = peer
	ps.peers = append(ps.peers, peer)

	i := sort.SearchStrings(ps.ring, peer.Address)
	ps.ring = append(ps.ring, "")
	copy(ps.ring[i+1:], ps.ring[i:])
	ps.ring[i] = peer.Address

	return true
}

// HasPeer reports whether url is in the set.
func (ps *PeerSet) HasPeer(url string) bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	_, ok := ps.byAddress[Address(url)]
	return ok
}

// RemovePeer evicts url from the list and the ring. It returns false when the
// URL was not known.
func (ps *PeerSet) RemovePeer(url string) bool {
	address := Address(url)

	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, ok := ps.byAddress[address]; !ok {
		return false
	}

	delete(ps.byAddress, address)

	for i, p := range ps.peers {
		if p.Address == address {
			ps.peers = append(ps.peers[:i], ps.peers[i+1:]...)
			break
		}
	}

	if i := sort.SearchStrings(ps.ring, address); i < len(ps.ring) && ps.ring[i] == address {
		ps.ring = append(ps.ring[:i], ps.ring[i+1:]...)
	}

	return true
}

// Peers returns the URLs of known peers in insertion order.
func (ps *PeerSet) Peers() []string {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	res := make([]string, 0, len(ps.peers))
	for _, p := range ps.peers {
		res = append(res, p.URL)
	}
	return res
}

// Len returns the number of known peers, the local node excluded.
func (ps *PeerSet) Len() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	return len(ps.peers)
}

// Neighbors returns the URLs of up to count peers following the local node on
// the ring, wrapping around, and never the local node itself.
func (ps *PeerSet) Neighbors(count int) []string {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	own := sort.SearchStrings(ps.ring, ps.self.Address)

	res := []string{}
	for i := 1; i < len(ps.ring) && len(res) < count; i++ {
		address := ps.ring[(own+i)%len(ps.ring)]
		res = append(res, ps.byAddress[address].URL)
	}

	return res
}

// RandomSample returns n distinct peer URLs drawn uniformly from the list, or
// all of them, shuffled, when fewer are known.
func (ps *PeerSet) RandomSample(n int) []string {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	if n > len(ps.peers) {
		n = len(ps.peers)
	}

	res := make([]string, 0, n)
	for _, i := range rand.Perm(len(ps.peers))[:n] {
		res = append(res, ps.peers[i].URL)
	}

	return res
}
