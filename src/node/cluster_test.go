package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/snowdag/src/common"
	"github.com/mosaicnetworks/snowdag/src/config"
	"github.com/mosaicnetworks/snowdag/src/crypto"
	"github.com/mosaicnetworks/snowdag/src/crypto/keys"
	"github.com/mosaicnetworks/snowdag/src/ledger"
	"github.com/mosaicnetworks/snowdag/src/net"
	"github.com/stretchr/testify/require"
)

// cluster implements net.Client by calling the nodes directly.
type cluster struct {
	mu    sync.Mutex
	nodes map[string]*Node
	down  map[string]bool
}

func newCluster() *cluster {
	return &cluster{
		nodes: map[string]*Node{},
		down:  map[string]bool{},
	}
}

func (c *cluster) node(url string) (*Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[url]
	if !ok || c.down[url] {
		return nil, fmt.Errorf("%s unreachable", url)
	}
	return n, nil
}

func (c *cluster) setDown(url string, down bool) {
	c.mu.Lock()
	c.down[url] = down
	c.mu.Unlock()
}

// call runs f against the node at url the way a remote call would: the
// caller gives up when ctx is done, the callee carries on.
func (c *cluster) call(ctx context.Context, url string, f func(n *Node) error) error {
	n, err := c.node(url)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- f(n)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *cluster) Ping(ctx context.Context, url string) error {
	return c.call(ctx, url, func(n *Node) error { return nil })
}

func (c *cluster) GetPreference(ctx context.Context, url string, slot string) (*ledger.Block, error) {
	var pref *ledger.Block
	err := c.call(ctx, url, func(n *Node) (err error) {
		pref, err = n.Preference(slot)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pref, nil
}

func (c *cluster) GetNodes(ctx context.Context, url string) ([]string, error) {
	var nodes []string
	err := c.call(ctx, url, func(n *Node) error {
		nodes = n.Nodes()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

func (c *cluster) GetAccount(ctx context.Context, url string, address string) (*ledger.Account, error) {
	var account *ledger.Account
	err := c.call(ctx, url, func(n *Node) (err error) {
		account, err = n.GetAccount(address)
		return err
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (c *cluster) AddNode(ctx context.Context, url string, nodeURL string) error {
	return c.call(ctx, url, func(n *Node) error {
		err := n.AddNode(context.Background(), nodeURL)
		switch {
		case errors.Is(err, ErrNodeKnown):
			return &net.StatusError{Code: http.StatusConflict}
		case errors.Is(err, ErrNodeUnreachable):
			return &net.StatusError{Code: http.StatusUnprocessableEntity}
		}
		return err
	})
}

func (c *cluster) PostBlock(ctx context.Context, url string, block *ledger.Block) error {
	return c.call(ctx, url, func(n *Node) error {
		_, err := n.SubmitBlock(context.Background(), block.Copy())
		return err
	})
}

func (c *cluster) GossipBlock(ctx context.Context, url string, block *ledger.Block) error {
	return c.call(ctx, url, func(n *Node) error {
		err := n.ReceiveBlock(block.Copy())
		switch {
		case errors.Is(err, ErrInvalidBlock):
			return &net.StatusError{Code: http.StatusBadRequest}
		case err != nil:
			return &net.StatusError{Code: http.StatusServiceUnavailable}
		}
		return nil
	})
}

// nodeOptions adjust the nodes created by newNodeWith.
type nodeOptions struct {
	configure func(conf *config.Config)
	wrapStore func(store ledger.Store) ledger.Store
}

// newNode creates a node in dataDir, or in a new temporary directory when
// dataDir is empty. It is not initialised.
func (c *cluster) newNode(t *testing.T, url string, dataDir string) *Node {
	return c.newNodeWith(t, url, dataDir, nodeOptions{})
}

func (c *cluster) newNodeWith(t *testing.T, url string, dataDir string, opts nodeOptions) *Node {
	if dataDir == "" {
		dataDir = t.TempDir()
	}

	conf := config.NewTestConfig(t, common.TestLogLevel)
	conf.SetDataDir(dataDir)
	conf.AdvertiseAddr = url
	if opts.configure != nil {
		opts.configure(conf)
	}

	var store ledger.Store = ledger.NewInmemStore(conf.Logger())
	if opts.wrapStore != nil {
		store = opts.wrapStore(store)
	}

	n := NewNode(conf, store, c)

	c.mu.Lock()
	c.nodes[url] = n
	c.mu.Unlock()

	t.Cleanup(func() { n.Shutdown() })

	return n
}

// addNodes creates and initialises count connected nodes.
func (c *cluster) addNodes(t *testing.T, count int) []*Node {
	nodes := make([]*Node, count)
	for i := range nodes {
		nodes[i] = c.newNode(t, fmt.Sprintf("http://node%d", i), "")
		require.NoError(t, nodes[i].Init(context.Background()))
	}
	connect(nodes...)
	return nodes
}

// connect makes every node know every other node.
func connect(nodes ...*Node) {
	for _, a := range nodes {
		for _, b := range nodes {
			a.peers.AddPeer(b.URL())
		}
	}
}

// slowStore delays every StoreBlock.
type slowStore struct {
	ledger.Store
	delay time.Duration
}

func (s *slowStore) StoreBlock(b *ledger.Block) error {
	time.Sleep(s.delay)
	return s.Store.StoreBlock(b)
}

// closingStore counts the blocks stored after Close.
type closingStore struct {
	ledger.Store
	closed atomic.Bool
	late   atomic.Int32
}

func (s *closingStore) Close() error {
	s.closed.Store(true)
	return s.Store.Close()
}

func (s *closingStore) StoreBlock(b *ledger.Block) error {
	if s.closed.Load() {
		s.late.Add(1)
	}
	return s.Store.StoreBlock(b)
}

func storeAll(t *testing.T, blocks []*ledger.Block, nodes ...*Node) {
	for _, n := range nodes {
		for _, b := range blocks {
			require.NoError(t, n.store.StoreBlock(b))
		}
	}
}

type testKey struct {
	priv    *btcec.PrivateKey
	address string
}

func newTestKey(t *testing.T) testKey {
	priv, err := keys.GenerateKey()
	require.NoError(t, err)
	return testKey{priv, keys.Address(priv.PubKey())}
}

func genesisKey(t *testing.T) testKey {
	d := make([]byte, 32)
	d[31] = 1
	priv, err := keys.ParsePrivateKey(d)
	require.NoError(t, err)
	return testKey{priv, keys.Address(priv.PubKey())}
}

type chain struct {
	key  testKey
	tail string
}

func newChain(key testKey) *chain {
	return &chain{key: key, tail: crypto.GenesisSentinel}
}

func (c *chain) send(t *testing.T, to string, amount uint64) *ledger.Block {
	b := ledger.NewBlock(c.key.address, to, amount, c.tail)
	require.NoError(t, b.Sign(c.key.priv))
	c.tail = b.Hash
	return b
}

func hasBlock(n *Node, hash string) bool {
	_, err := n.store.GetBlock(hash)
	return err == nil
}
