// Package consensus implements Snowball, a metastable voting protocol, and the
// Layer that runs one Snowball session per contested slot.
//
// A session starts with a preference, which is a block or no block at all, and
// repeatedly polls k random peers for their own preference on the slot. When
// alpha of the k replies agree, the agreed value is the round winner. A node
// that sees the same winner beta+1 rounds in a row considers it final.
//
// Replies are tri-state. A peer may prefer a block, explicitly have no
// preference, or not reply at all. Only the first two are votes.
package consensus
