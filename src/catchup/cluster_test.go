package catchup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/snowdag/src/common"
	"github.com/mosaicnetworks/snowdag/src/consensus"
	"github.com/mosaicnetworks/snowdag/src/crypto"
	"github.com/mosaicnetworks/snowdag/src/crypto/keys"
	"github.com/mosaicnetworks/snowdag/src/ledger"
	"github.com/mosaicnetworks/snowdag/src/net"
	"github.com/mosaicnetworks/snowdag/src/peers"
	"github.com/stretchr/testify/require"
)

// testNode is a node without an HTTP service: other nodes reach it through
// clusterClient.
type testNode struct {
	url     string
	store   ledger.Store
	peers   *peers.PeerSet
	sampler *net.Sampler
	layer   *consensus.Layer
	sync    *Synchronizer
}

// cluster routes client calls to in-process nodes.
type cluster struct {
	mu    sync.Mutex
	nodes map[string]*testNode
	down  map[string]bool
}

func (c *cluster) node(url string) (*testNode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[url]
	if !ok || c.down[url] {
		return nil, fmt.Errorf("%s unreachable", url)
	}
	return n, nil
}

func (c *cluster) Ping(ctx context.Context, url string) error {
	_, err := c.node(url)
	return err
}

func (c *cluster) GetPreference(ctx context.Context, url string, slot string) (*ledger.Block, error) {
	n, err := c.node(url)
	if err != nil {
		return nil, err
	}
	if pref, ok := n.layer.GetPreference(slot); ok && pref != nil {
		return pref, nil
	}
	b, err := n.store.GetPreference(slot)
	if common.IsStore(err, common.KeyNotFound) {
		return nil, nil
	}
	return b, err
}

func (c *cluster) GetNodes(ctx context.Context, url string) ([]string, error) {
	n, err := c.node(url)
	if err != nil {
		return nil, err
	}
	return append([]string{n.url}, n.peers.Peers()...), nil
}

func (c *cluster) GetAccount(ctx context.Context, url string, address string) (*ledger.Account, error) {
	n, err := c.node(url)
	if err != nil {
		return nil, err
	}
	a, err := n.store.GetAccount(address)
	if common.IsStore(err, common.KeyNotFound) {
		return nil, nil
	}
	return a, err
}

func (c *cluster) AddNode(ctx context.Context, url string, nodeURL string) error {
	n, err := c.node(url)
	if err != nil {
		return err
	}
	n.peers.AddPeer(nodeURL)
	return nil
}

func (c *cluster) PostBlock(ctx context.Context, url string, block *ledger.Block) error {
	_, err := c.node(url)
	return err
}

func (c *cluster) GossipBlock(ctx context.Context, url string, block *ledger.Block) error {
	_, err := c.node(url)
	return err
}

func newCluster() *cluster {
	return &cluster{
		nodes: map[string]*testNode{},
		down:  map[string]bool{},
	}
}

func (c *cluster) addNode(t *testing.T, url string) *testNode {
	logger := common.NewTestEntry(t, common.TestLogLevel).WithField("node", url)

	store := ledger.NewInmemStore(logger)
	require.NoError(t, ledger.EnsureGenesis(store, ledger.NewGenesisBlock(ledger.DefaultGenesisAddress)))

	ps := peers.NewPeerSet(url)
	sampler := net.NewSampler(ps, c, 200*time.Millisecond, net.DefaultFanout, logger)
	layer := consensus.NewLayer(sampler, consensus.DefaultParams(), nil, logger)

	n := &testNode{
		url:     url,
		store:   store,
		peers:   ps,
		sampler: sampler,
		layer:   layer,
		sync:    NewSynchronizer(store, layer, sampler, ledger.DefaultGenesisAddress, 200*time.Millisecond, logger),
	}

	c.mu.Lock()
	c.nodes[url] = n
	c.mu.Unlock()

	return n
}

// connect makes every node know every other node.
func (c *cluster) connect(nodes ...*testNode) {
	for _, a := range nodes {
		for _, b := range nodes {
			a.peers.AddPeer(b.url)
		}
	}
}

// storeAll stores blocks on every node.
func storeAll(t *testing.T, blocks []*ledger.Block, nodes ...*testNode) {
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

// chain builds consecutive blocks from one sender.
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

func requireSameAccount(t *testing.T, expected, actual ledger.Store, address string) {
	t.Helper()
	e, err := expected.GetAccount(address)
	require.NoError(t, err)
	a, err := actual.GetAccount(address)
	require.NoError(t, err)
	require.Equal(t, e, a)
}

// recordingConformer wraps a Conformer and records the slots it is asked
// about.
type recordingConformer struct {
	Conformer
	mu    sync.Mutex
	slots []string
}

func (r *recordingConformer) ConformOnSlot(ctx context.Context, slot string, initial *ledger.Block) (consensus.Result, error) {
	r.mu.Lock()
	r.slots = append(r.slots, slot)
	r.mu.Unlock()
	return r.Conformer.ConformOnSlot(ctx, slot, initial)
}

// stubConformer always returns the same result.
type stubConformer struct {
	res consensus.Result
	err error
}

func (s stubConformer) ConformOnSlot(ctx context.Context, slot string, initial *ledger.Block) (consensus.Result, error) {
	return s.res, s.err
}

var errStub = errors.New("stub")
