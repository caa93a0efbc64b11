// Package peers manages the set of nodes a node knows about.
//
// A peer is identified by the URL of its HTTP service, and addressed by the
// hash of that URL. Two views of the set are maintained: the insertion-ordered
// list, from which consensus samples are drawn uniformly, and a ring of
// addresses sorted lexicographically, which includes the local node. Gossip
// only goes to the few addresses that follow the local node on the ring, so
// that broadcast load is spread deterministically across the network.
package peers
