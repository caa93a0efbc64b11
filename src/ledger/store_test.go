package ledger

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/mosaicnetworks/snowdag/src/common"
	"github.com/mosaicnetworks/snowdag/src/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreGenesis(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		requireBalance(t, s, DefaultGenesisAddress, MaxAmount)

		genesis := NewGenesisBlock(DefaultGenesisAddress)
		pref, err := s.GetPreference(genesis.Slot())
		require.NoError(t, err)
		assert.Equal(t, genesis, pref)

		// second call is a no-op
		require.NoError(t, EnsureGenesis(s, genesis))
		requireBalance(t, s, DefaultGenesisAddress, MaxAmount)
	})
}

func TestStoreNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.GetBlock("NOPE")
		assert.True(t, common.IsStore(err, common.KeyNotFound))

		_, err = s.GetPreference("NOPE")
		assert.True(t, common.IsStore(err, common.KeyNotFound))

		_, err = s.GetAccount(newTestKey(t).address)
		assert.True(t, common.IsStore(err, common.KeyNotFound))
	})
}

func TestStoreBlockIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		g := genesisKey(t)
		a := newTestKey(t)

		b := first(t, g, a.address, 100)
		require.NoError(t, s.StoreBlock(b))
		require.NoError(t, s.StoreBlock(b))

		account, err := s.GetAccount(g.address)
		require.NoError(t, err)
		assert.Len(t, account.OutChain, 1)

		requireBalance(t, s, a.address, 100)
	})
}

func TestStoreBlockLinkage(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		g := genesisKey(t)
		a := newTestKey(t)

		g1 := first(t, g, a.address, 100)
		require.NoError(t, s.StoreBlock(g1))

		// previous hash is not a stored block
		dangling := send(t, a, g.address, 1, crypto.EncodedHash([]byte("nothing")))
		assert.Equal(t, ErrUnknownPrevious, s.StoreBlock(dangling))

		// previous hash belongs to another sender
		stolen := send(t, a, g.address, 1, g1.Hash)
		assert.Equal(t, ErrUnknownPrevious, s.StoreBlock(stolen))

		requireAbsent(t, s, dangling, stolen)
	})
}

// A receives 15 and sends 10. Spending 6 more must fail, 5 must succeed.
func TestStoreBlockBalance(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		g := genesisKey(t)
		a := newTestKey(t)
		b := newTestKey(t)

		require.NoError(t, s.StoreBlock(first(t, g, a.address, 15)))

		b1 := first(t, a, b.address, 10)
		require.NoError(t, s.StoreBlock(b1))
		requireBalance(t, s, a.address, 5)

		tooMuch := send(t, a, b.address, 6, b1.Hash)
		assert.Equal(t, ErrInsufficientBalance, s.StoreBlock(tooMuch))
		requireAbsent(t, s, tooMuch)
		requireBalance(t, s, a.address, 5)

		b2 := send(t, a, b.address, 5, b1.Hash)
		require.NoError(t, s.StoreBlock(b2))
		requireBalance(t, s, a.address, 0)
		requireBalance(t, s, b.address, 15)

		account, err := s.GetAccount(a.address)
		require.NoError(t, err)
		require.Equal(t, []*Block{b1, b2}, account.OutChain)
	})
}

func TestStoreBlockSelfSend(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		g := genesisKey(t)
		a := newTestKey(t)

		require.NoError(t, s.StoreBlock(first(t, g, a.address, 5)))

		assert.Equal(t, ErrInsufficientBalance, s.StoreBlock(first(t, a, a.address, 6)))

		loop := first(t, a, a.address, 5)
		require.NoError(t, s.StoreBlock(loop))
		requireBalance(t, s, a.address, 5)
	})
}

// Two blocks claim the slot after b1. Storing the second one removes the
// first and the block built on it.
func TestStoreBlockForkReplacement(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		g := genesisKey(t)
		a := newTestKey(t)
		b := newTestKey(t)
		c := newTestKey(t)

		require.NoError(t, s.StoreBlock(first(t, g, a.address, 100)))

		b1 := first(t, a, b.address, 10)
		b2 := send(t, a, b.address, 20, b1.Hash)
		b3 := send(t, a, c.address, 30, b2.Hash)
		for _, blk := range []*Block{b1, b2, b3} {
			require.NoError(t, s.StoreBlock(blk))
		}

		b2bis := send(t, a, c.address, 5, b1.Hash)
		require.NoError(t, s.StoreBlock(b2bis))

		requireAbsent(t, s, b2, b3)
		requirePresent(t, s, b1, b2bis)

		pref, err := s.GetPreference(b1.Hash)
		require.NoError(t, err)
		assert.Equal(t, b2bis, pref)

		_, err = s.GetPreference(b2.Hash)
		assert.True(t, common.IsStore(err, common.KeyNotFound))

		account, err := s.GetAccount(a.address)
		require.NoError(t, err)
		assert.Equal(t, []*Block{b1, b2bis}, account.OutChain)
		assert.Equal(t, uint64(85), account.Balance())

		requireBalance(t, s, b.address, 10)
		requireBalance(t, s, c.address, 5)

		// the original branch can come back
		require.NoError(t, s.StoreBlock(b2))
		requireAbsent(t, s, b2bis)
		requireBalance(t, s, b.address, 30)
	})
}

func TestStoreBlockFirstSlotReplacement(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		g := genesisKey(t)
		a := newTestKey(t)
		b := newTestKey(t)

		require.NoError(t, s.StoreBlock(first(t, g, a.address, 100)))

		a1 := first(t, a, b.address, 10)
		require.NoError(t, s.StoreBlock(a1))

		a1bis := first(t, a, b.address, 11)
		require.NoError(t, s.StoreBlock(a1bis))

		requireAbsent(t, s, a1)
		requireBalance(t, s, a.address, 89)
		requireBalance(t, s, b.address, 11)
	})
}

// Replacing a block that funded B prunes what B spent with it.
func TestStoreBlockPrunesDependants(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		g := genesisKey(t)
		a := newTestKey(t)
		b := newTestKey(t)
		c := newTestKey(t)
		d := newTestKey(t)

		require.NoError(t, s.StoreBlock(first(t, g, a.address, 10)))

		a1 := first(t, a, b.address, 10)
		require.NoError(t, s.StoreBlock(a1))

		b1 := first(t, b, c.address, 4)
		b2 := send(t, b, c.address, 6, b1.Hash)
		require.NoError(t, s.StoreBlock(b1))
		require.NoError(t, s.StoreBlock(b2))

		c1 := first(t, c, d.address, 10)
		require.NoError(t, s.StoreBlock(c1))

		// a1 is replaced, B is left with nothing
		a1bis := first(t, a, d.address, 10)
		require.NoError(t, s.StoreBlock(a1bis))

		requireAbsent(t, s, a1, b1, b2, c1)
		requirePresent(t, s, a1bis)

		_, err := s.GetAccount(b.address)
		assert.True(t, common.IsStore(err, common.KeyNotFound))
		_, err = s.GetAccount(c.address)
		assert.True(t, common.IsStore(err, common.KeyNotFound))

		requireBalance(t, s, a.address, 0)
		requireBalance(t, s, d.address, 10)
	})
}

// Pruning only goes as far as needed.
func TestStoreBlockPartialPrune(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		g := genesisKey(t)
		a := newTestKey(t)
		b := newTestKey(t)
		c := newTestKey(t)

		g1 := first(t, g, a.address, 100)
		require.NoError(t, s.StoreBlock(g1))
		require.NoError(t, s.StoreBlock(send(t, g, b.address, 5, g1.Hash)))

		a1 := first(t, a, b.address, 10)
		require.NoError(t, s.StoreBlock(a1))

		b1 := first(t, b, c.address, 5)
		b2 := send(t, b, c.address, 5, b1.Hash)
		require.NoError(t, s.StoreBlock(b1))
		require.NoError(t, s.StoreBlock(b2))

		a1bis := first(t, a, c.address, 3)
		require.NoError(t, s.StoreBlock(a1bis))

		requireAbsent(t, s, a1, b2)
		requirePresent(t, s, b1)
		requireBalance(t, s, b.address, 0)
		requireBalance(t, s, c.address, 8)
	})
}

// A replacement that would make its own sender insolvent, through the funds it
// took back, is rejected and nothing changes.
func TestStoreBlockRejectsSelfDefeatingReplacement(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		g := genesisKey(t)
		a := newTestKey(t)
		b := newTestKey(t)
		d := newTestKey(t)

		g1 := first(t, g, a.address, 10)
		require.NoError(t, s.StoreBlock(g1))

		a1 := first(t, a, b.address, 10)
		require.NoError(t, s.StoreBlock(a1))

		b1 := first(t, b, a.address, 10)
		require.NoError(t, s.StoreBlock(b1))

		// counts on b1, which only exists because of a1
		a1bis := first(t, a, d.address, 20)
		assert.Equal(t, ErrInsufficientBalance, s.StoreBlock(a1bis))

		requireAbsent(t, s, a1bis)
		requirePresent(t, s, g1, a1, b1)
		requireBalance(t, s, a.address, 10)
		requireBalance(t, s, b.address, 0)
	})
}

// Random sequences of blocks, conflicting or not, never leave an account with a
// negative balance.
func TestStoreBalancesNeverNegative(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		rnd := rand.New(rand.NewSource(42))

		g := genesisKey(t)
		accounts := []testKey{g}
		for i := 0; i < 5; i++ {
			accounts = append(accounts, newTestKey(t))
		}

		// known blocks per sender, stored or not, to build conflicts from
		history := map[string][]*Block{}

		for i := 0; i < 150; i++ {
			from := accounts[rnd.Intn(len(accounts))]
			to := accounts[rnd.Intn(len(accounts))]

			prev := crypto.GenesisSentinel
			if h := history[from.address]; len(h) > 0 && rnd.Intn(4) > 0 {
				prev = h[rnd.Intn(len(h))].Hash
			}

			amount := uint64(rnd.Intn(60) + 1)
			if from.address == g.address {
				amount *= 10
			}

			blk := send(t, from, to.address, amount, prev)
			if err := s.StoreBlock(blk); err == nil {
				history[from.address] = append(history[from.address], blk)
			}

			for _, acc := range accounts {
				account, err := s.GetAccount(acc.address)
				if err != nil {
					require.True(t, common.IsStore(err, common.KeyNotFound))
					continue
				}
				require.GreaterOrEqual(t, account.Received(), account.Sent(),
					"account %s went negative at step %d", acc.address, i)

				for j, b := range account.OutChain {
					if j == 0 {
						require.Equal(t, crypto.GenesisSentinel, b.PreviousHash)
					} else {
						require.Equal(t, account.OutChain[j-1].Hash, b.PreviousHash)
					}
				}
			}
		}
	})
}

func TestLockAccount(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		release, err := s.LockAccount(ctx, "A")
		require.NoError(t, err)

		// other addresses are independent
		releaseB, err := s.LockAccount(ctx, "B")
		require.NoError(t, err)
		releaseB()

		timeout, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err = s.LockAccount(timeout, "A")
		assert.Error(t, err)

		acquired := make(chan func())
		go func() {
			r, err := s.LockAccount(ctx, "A")
			if err == nil {
				acquired <- r
			}
		}()

		select {
		case <-acquired:
			t.Fatal("lock acquired twice")
		case <-time.After(50 * time.Millisecond):
		}

		release()
		release() // no effect

		select {
		case r := <-acquired:
			r()
		case <-time.After(time.Second):
			t.Fatal("lock not handed over")
		}
	})
}

func TestBadgerStorePersistence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "badger")
	logger := common.NewTestEntry(t, common.TestLogLevel)

	g := genesisKey(t)
	a := newTestKey(t)

	store, err := NewBadgerStore(path, 10, logger)
	require.NoError(t, err)
	require.NoError(t, EnsureGenesis(store, NewGenesisBlock(g.address)))

	g1 := first(t, g, a.address, 100)
	require.NoError(t, store.StoreBlock(g1))
	require.NoError(t, store.Close())

	store, err = NewBadgerStore(path, 10, logger)
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, path, store.StorePath())
	requirePresent(t, store, g1)
	requireBalance(t, store, a.address, 100)
	requireBalance(t, store, g.address, MaxAmount-100)
}

func TestSQLStorePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	logger := common.NewTestEntry(t, common.TestLogLevel)

	g := genesisKey(t)
	a := newTestKey(t)

	store, err := NewSQLStore(path, logger)
	require.NoError(t, err)
	require.NoError(t, EnsureGenesis(store, NewGenesisBlock(g.address)))

	g1 := first(t, g, a.address, 100)
	require.NoError(t, store.StoreBlock(g1))
	require.NoError(t, store.Close())

	store, err = NewSQLStore(path, logger)
	require.NoError(t, err)
	defer store.Close()

	requirePresent(t, store, g1)
	requireBalance(t, store, a.address, 100)
}

func TestNewStoreUnknownKind(t *testing.T) {
	_, err := NewStore("mongo", "", 0, nil)
	assert.Error(t, err)
}
