// Package ledger implements the block-lattice data model and its storage.
//
// Every account owns a chain of outgoing blocks. Each block names the hash of
// its predecessor in the sender's chain, or the GenesisSentinel when it is the
// first. The position a block claims in a chain is its slot: the previous hash,
// or the previous hash followed by the sender when the previous hash is the
// sentinel, so that first blocks of different accounts do not collide.
//
// Two blocks claiming the same slot are in conflict. The consensus layer picks
// one and the Store replaces the other, along with everything that was built
// on top of it. Stores guarantee that no account ever holds a negative balance:
// when a replacement takes funds away from an account, that account's most
// recent outgoing blocks are pruned until it is solvent again.
//
// Three Store engines are provided: InmemStore, BadgerStore and SQLStore.
package ledger
