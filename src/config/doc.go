// Package config defines the configuration of a snowdag node.
//
// Whether the node is started from Go code or from the command line, the
// options end up in the Config object defined in this package. On top of
// these options, the node relies on a data directory, defined by
// Config.DataDir, where it expects to find a few additional files:
//
//  priv_key    // the hex encoded private key used by the send command (cf. snowdag keygen).
//  peers.json  // the list of peers known when the node last shut down.
//  badger_db/  // the badger database, with the badger store.
//  ledger.db   // the sqlite database, with the sqlite store.
package config
