// Package service implements the HTTP API of a snowdag node. The same routes
// serve other nodes, for sampling, discovery and block propagation, and
// clients submitting blocks or reading accounts.
package service
