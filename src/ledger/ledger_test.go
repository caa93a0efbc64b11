package ledger

import (
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/snowdag/src/common"
	"github.com/mosaicnetworks/snowdag/src/crypto"
	"github.com/mosaicnetworks/snowdag/src/crypto/keys"
	"github.com/stretchr/testify/require"
)

type testKey struct {
	priv    *btcec.PrivateKey
	address string
}

func newTestKey(t testing.TB) testKey {
	priv, err := keys.GenerateKey()
	require.NoError(t, err)
	return testKey{priv: priv, address: keys.Address(priv.PubKey())}
}

// genesisKey controls DefaultGenesisAddress
func genesisKey(t testing.TB) testKey {
	d := make([]byte, 32)
	d[31] = 1
	priv, err := keys.ParsePrivateKey(d)
	require.NoError(t, err)
	return testKey{priv: priv, address: keys.Address(priv.PubKey())}
}

func send(t testing.TB, from testKey, to string, amount uint64, prev string) *Block {
	b := NewBlock(from.address, to, amount, prev)
	require.NoError(t, b.Sign(from.priv))
	return b
}

func first(t testing.TB, from testKey, to string, amount uint64) *Block {
	return send(t, from, to, amount, crypto.GenesisSentinel)
}

var storeKinds = []string{InmemStoreType, BadgerStoreType, SQLStoreType}

func newTestStore(t testing.TB, kind string) Store {
	dir := t.TempDir()

	path := ""
	switch kind {
	case BadgerStoreType:
		path = filepath.Join(dir, "badger")
	case SQLStoreType:
		path = filepath.Join(dir, "ledger.db")
	}

	store, err := NewStore(kind, path, 100, common.NewTestEntry(t, common.TestLogLevel))
	require.NoError(t, err)

	genesis := NewGenesisBlock(DefaultGenesisAddress)
	require.NoError(t, EnsureGenesis(store, genesis))

	return store
}

// forEachStore runs f against a fresh store of every kind.
func forEachStore(t *testing.T, f func(t *testing.T, s Store)) {
	for _, kind := range storeKinds {
		t.Run(kind, func(t *testing.T) {
			s := newTestStore(t, kind)
			defer s.Close()
			f(t, s)
		})
	}
}

func requireBalance(t testing.TB, s Store, address string, expected uint64) {
	t.Helper()
	account, err := s.GetAccount(address)
	require.NoError(t, err)
	require.Equal(t, expected, account.Balance())
}

func requireAbsent(t testing.TB, s Store, blocks ...*Block) {
	t.Helper()
	for _, b := range blocks {
		_, err := s.GetBlock(b.Hash)
		require.True(t, common.IsStore(err, common.KeyNotFound), "%s should be absent", b)
	}
}

func requirePresent(t testing.TB, s Store, blocks ...*Block) {
	t.Helper()
	for _, b := range blocks {
		got, err := s.GetBlock(b.Hash)
		require.NoError(t, err, "%s should be present", b)
		require.Equal(t, b, got)
	}
}
