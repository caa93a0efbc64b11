// Package net implements the peer-to-peer side of a node: the HTTP client used
// to talk to other nodes, and the Sampler that fans requests out to random
// samples or ring neighbours.
//
// Every peer call runs under its own timeout. A peer that does not answer in
// time, or cannot be reached, is evicted from the peer set. A peer that answers
// with an error status is not: it replied.
package net
