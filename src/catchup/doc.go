// Package catchup brings a node's ledger in line with the network.
//
// Catching up on an account means running consensus on its slots one after the
// other: the block the network finalizes for a slot is stored, and its hash is
// the next slot. The walk stops when the network has no preference for the next
// slot, which is the tip of the chain.
//
// Blocks can only be stored once their sender is funded, so the accounts that
// paid an account are caught up before it.
package catchup
