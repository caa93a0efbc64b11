// Package node wires the components of a snowdag node together and implements
// the operations exposed by its HTTP service.
//
// Block submission
//
// A block submitted to a node is validated against the local ledger while the
// sender's account is locked. When the sender is unknown, or when the block
// does not follow the local tail of the sender's chain, the node first catches
// up the sender's account from the network and validates again. A valid block
// is stored directly. A block whose slot is already occupied by another block
// starts a Snowball session on that slot; the block the network settles on is
// stored, replacing the local one if needed. Blocks that were stored are then
// pushed to the node's ring neighbours in the background, which process them
// the same way.
//
// Membership
//
// On startup, a node pings the peers it saved in peers.json, discovers the
// network through its seed, catches up the ledger and announces itself to its
// neighbours. Nodes that receive an announcement ping the new node, add it and
// forward the announcement. Peers that fail to reply to a query are evicted.
package node
