// Package keys implements the public key cryptography used to sign blocks.
//
// Every account on the ledger is controlled by a secp256k1 key-pair, the curve
// used by Bitcoin and Ethereum. The account address is the base32 encoding of
// the compressed public key, so a block's sender field is enough to verify its
// signature without any additional lookup.
package keys
