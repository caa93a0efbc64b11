package consensus

import (
	"github.com/mosaicnetworks/snowdag/src/ledger"
)

// VoteKind distinguishes the three possible answers of a polled peer.
type VoteKind int

const (
	// VoteNoReply means the peer did not answer, or answered with something
	// invalid. It is never tallied.
	VoteNoReply VoteKind = iota
	// VoteNoPreference means the peer answered that it has no preference.
	VoteNoPreference
	// VoteBlock means the peer prefers Vote.Block.
	VoteBlock
)

func (k VoteKind) String() string {
	switch k {
	case VoteNoReply:
		return "NoReply"
	case VoteNoPreference:
		return "NoPreference"
	case VoteBlock:
		return "Block"
	default:
		return "Unknown"
	}
}

// Vote is one peer's answer in a round.
type Vote struct {
	Kind  VoteKind
	Block *ledger.Block
}

// PreferenceVote returns the vote matching a preference, where nil is no
// preference.
func PreferenceVote(pref *ledger.Block) Vote {
	if pref == nil {
		return Vote{Kind: VoteNoPreference}
	}
	return Vote{Kind: VoteBlock, Block: pref}
}

// key identifies the value voted for. Votes with equal keys are tallied
// together.
func (v Vote) key() string {
	if v.Kind == VoteBlock {
		return v.Block.Hash
	}
	return ""
}

// samePreference compares two preferences by hash, nil meaning no
// preference.
func samePreference(a, b *ledger.Block) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Hash == b.Hash
}
