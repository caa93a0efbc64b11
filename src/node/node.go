package node

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mosaicnetworks/snowdag/src/catchup"
	"github.com/mosaicnetworks/snowdag/src/common"
	"github.com/mosaicnetworks/snowdag/src/config"
	"github.com/mosaicnetworks/snowdag/src/consensus"
	"github.com/mosaicnetworks/snowdag/src/ledger"
	"github.com/mosaicnetworks/snowdag/src/net"
	"github.com/mosaicnetworks/snowdag/src/node/state"
	"github.com/mosaicnetworks/snowdag/src/peers"
	"github.com/mosaicnetworks/snowdag/src/validation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNodeKnown is returned by AddNode when the node is already a peer.
	ErrNodeKnown = errors.New("node already added")
	// ErrNodeUnreachable is returned by AddNode when the node does not answer
	// a ping.
	ErrNodeUnreachable = errors.New("could not reach node")
	// ErrBusy is returned when too many background routines are running.
	ErrBusy = errors.New("too many background routines")
)

// Node defines a snowdag node
type Node struct {
	state.Manager

	conf   *config.Config
	logger *logrus.Entry

	store     ledger.Store
	peers     *peers.PeerSet
	peerStore *peers.JSONPeerSet
	client    net.Client
	sampler   *net.Sampler
	layer     *consensus.Layer
	sync      *catchup.Synchronizer
	validator *validation.Validator

	registry *prometheus.Registry
	metrics  *metrics

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

// NewNode is a factory method that returns a Node instance. The store is owned
// by the node from then on and closed by Shutdown.
func NewNode(conf *config.Config, store ledger.Store, client net.Client) *Node {
	logger := conf.Logger().WithField("node", conf.URL())

	var registry *prometheus.Registry
	if conf.EnableMetrics {
		registry = prometheus.NewRegistry()
	}

	peerSet := peers.NewPeerSet(conf.URL())
	sampler := net.NewSampler(peerSet, client, conf.Timeout, conf.Fanout, logger)

	var reg prometheus.Registerer
	if registry != nil {
		reg = registry
	}
	layer := consensus.NewLayer(sampler, conf.Params(), consensus.NewMetrics(reg), logger)

	ctx, cancel := context.WithCancel(context.Background())

	node := Node{
		conf:      conf,
		logger:    logger,
		store:     store,
		peers:     peerSet,
		peerStore: peers.NewJSONPeerSet(conf.DataDir),
		client:    client,
		sampler:   sampler,
		layer:     layer,
		sync:      catchup.NewSynchronizer(store, layer, sampler, conf.Genesis, conf.Timeout, logger),
		validator: validation.NewValidator(store),
		registry:  registry,
		metrics:   newMetrics(reg),
		ctx:       ctx,
		cancel:    cancel,
	}

	return &node
}

// Init stores the genesis block, reconnects to the saved peers, discovers the
// network through the configured seed, catches up the ledger and announces the
// node to its neighbours.
func (n *Node) Init(ctx context.Context) error {
	n.SetState(state.Initialising)

	genesis := ledger.NewGenesisBlock(n.conf.Genesis)
	if err := ledger.EnsureGenesis(n.store, genesis); err != nil {
		return fmt.Errorf("storing genesis block: %w", err)
	}
	n.logger.WithField("genesis", genesis.Hash).Debug("Genesis block")

	if err := n.loadPeers(ctx); err != nil {
		return err
	}

	n.SetState(state.CatchingUp)

	if n.conf.Seed != "" {
		if err := n.sync.Bootstrap(ctx, n.conf.Seed); err != nil {
			return fmt.Errorf("bootstrapping from %s: %w", n.conf.Seed, err)
		}
	} else if n.peers.Len() > 0 {
		if err := n.sync.SyncAll(ctx); err != nil {
			return fmt.Errorf("syncing with saved peers: %w", err)
		}
	}

	reached := n.sampler.AnnounceNode(ctx, n.peers.Self())
	n.logger.WithFields(logrus.Fields{
		"peers":   n.peers.Len(),
		"reached": reached,
	}).Info("Announced node")

	n.SetState(state.Running)

	return nil
}

// loadPeers adds the saved peers that answer a ping.
func (n *Node) loadPeers(ctx context.Context) error {
	urls, err := n.peerStore.URLs()
	if err != nil {
		return fmt.Errorf("reading %s: %w", n.peerStore.Path(), err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, url := range urls {
		url := url
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, n.conf.Timeout)
			defer cancel()

			if err := n.client.Ping(pctx, url); err != nil {
				n.logger.WithError(err).WithField("peer", url).Debug("Saved peer unreachable")
				return nil
			}
			n.peers.AddPeer(url)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	n.logger.WithFields(logrus.Fields{
		"saved":   len(urls),
		"reached": n.peers.Len(),
	}).Debug("Loaded saved peers")

	return ctx.Err()
}

// AddNode pings url and adds it to the peers, then forwards the announcement
// to the ring neighbours in the background.
func (n *Node) AddNode(ctx context.Context, url string) error {
	url = peers.NormalizeURL(url)
	if url == "" {
		return ErrNodeUnreachable
	}
	if url == peers.NormalizeURL(n.peers.Self()) || n.peers.HasPeer(url) {
		return ErrNodeKnown
	}

	pctx, cancel := context.WithTimeout(ctx, n.conf.Timeout)
	defer cancel()
	if err := n.client.Ping(pctx, url); err != nil {
		n.logger.WithError(err).WithField("peer", url).Debug("Could not reach node")
		return ErrNodeUnreachable
	}

	if !n.peers.AddPeer(url) {
		return ErrNodeKnown
	}
	n.logger.WithField("peer", url).Info("Added node")

	n.goFunc("announce", func() {
		n.sampler.AnnounceNode(n.ctx, url)
	})

	return nil
}

// Preference returns the block this node prefers for slot: the preference of
// a running session, otherwise the block stored in the slot. It returns nil
// when the node has no preference.
func (n *Node) Preference(slot string) (*ledger.Block, error) {
	if pref, ok := n.layer.GetPreference(slot); ok && pref != nil {
		return pref, nil
	}

	b, err := n.store.GetPreference(slot)
	if common.IsStore(err, common.KeyNotFound) {
		return nil, nil
	}
	return b, err
}

// Nodes returns the URL of this node followed by the URLs of its peers.
func (n *Node) Nodes() []string {
	return append([]string{n.peers.Self()}, n.peers.Peers()...)
}

// GetAccount returns the account of address, or nil when the ledger has no
// block sent or received by it.
func (n *Node) GetAccount(address string) (*ledger.Account, error) {
	account, err := n.store.GetAccount(address)
	if common.IsStore(err, common.KeyNotFound) {
		return nil, nil
	}
	return account, err
}

// Registry returns the Prometheus registry of the node, nil when metrics are
// disabled.
func (n *Node) Registry() *prometheus.Registry {
	return n.registry
}

// Peers returns the peer set of the node.
func (n *Node) Peers() *peers.PeerSet {
	return n.peers
}

// Store returns the ledger store of the node.
func (n *Node) Store() ledger.Store {
	return n.store
}

// URL returns the URL advertised by the node.
func (n *Node) URL() string {
	return n.peers.Self()
}

// Shutdown cancels the submissions in progress, waits for them and for the
// background routines, saves the peers and closes the store.
func (n *Node) Shutdown() error {
	var err error

	n.shutdownOnce.Do(func() {
		n.logger.Info("Shutdown")
		n.SetState(state.Shutdown)

		n.cancel()
		n.WaitTasks()
		n.WaitRoutines()

		if werr := n.peerStore.Write(n.peers.Peers()); werr != nil {
			n.logger.WithError(werr).Error("Saving peers")
			err = werr
		}

		if cerr := n.store.Close(); cerr != nil {
			n.logger.WithError(cerr).Error("Closing store")
			if err == nil {
				err = cerr
			}
		}
	})

	return err
}

// goTask runs f on a background routine that Shutdown waits for. It fails
// when the node is shutting down or too many routines are running.
func (n *Node) goTask(f func()) error {
	if !n.BeginTask() {
		return ErrShutdown
	}
	ok := n.GoFunc(func() {
		defer n.EndTask()
		f()
	})
	if !ok {
		n.EndTask()
		return ErrBusy
	}
	return nil
}

// goFunc is goTask for work that can be dropped.
func (n *Node) goFunc(what string, f func()) {
	if err := n.goTask(f); errors.Is(err, ErrBusy) {
		n.logger.WithField("task", what).Warn("Too many background routines, dropped")
	}
}
