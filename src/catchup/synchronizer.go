package catchup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mosaicnetworks/snowdag/src/common"
	"github.com/mosaicnetworks/snowdag/src/consensus"
	"github.com/mosaicnetworks/snowdag/src/crypto"
	"github.com/mosaicnetworks/snowdag/src/ledger"
	"github.com/mosaicnetworks/snowdag/src/net"
	"github.com/mosaicnetworks/snowdag/src/peers"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrSessionRunning is returned when a slot of the account is already
	// being decided by another session.
	ErrSessionRunning = errors.New("consensus session already running")
	// ErrInconclusive is returned when the network did not agree on a slot in
	// time.
	ErrInconclusive = errors.New("consensus inconclusive")
)

// resumeDepth is how many blocks back from the tail an account is re-checked.
const resumeDepth = 4

// Conformer runs consensus on a slot.
type Conformer interface {
	ConformOnSlot(ctx context.Context, slot string, initial *ledger.Block) (consensus.Result, error)
}

// Network is what the Synchronizer needs from the peer layer. *net.Sampler
// implements it.
type Network interface {
	Size() int
	Peers() *peers.PeerSet
	Client() net.Client
	FetchAccount(ctx context.Context, address string) (*ledger.Account, error)
}

// Synchronizer catches up accounts and discovers peers.
type Synchronizer struct {
	store   ledger.Store
	layer   Conformer
	network Network
	genesis string
	timeout time.Duration
	logger  *logrus.Entry
}

// NewSynchronizer creates a Synchronizer. genesis is the recipient of the
// genesis block, where full synchronization starts. timeout bounds discovery
// calls and the wait for the locks of funding senders.
func NewSynchronizer(store ledger.Store, layer Conformer, network Network, genesis string, timeout time.Duration, logger *logrus.Entry) *Synchronizer {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	return &Synchronizer{
		store:   store,
		layer:   layer,
		network: network,
		genesis: genesis,
		timeout: timeout,
		logger:  logger,
	}
}

// Bootstrap discovers the network through seed and catches up every account
// reachable from the genesis recipient. It does nothing without a seed, and
// skips synchronization when no peer could be found.
func (s *Synchronizer) Bootstrap(ctx context.Context, seed string) error {
	if seed == "" {
		return nil
	}

	if err := s.DiscoverPeers(ctx, seed); err != nil {
		return err
	}

	if s.network.Size() == 0 {
		s.logger.Info("No peers found, skipping sync")
		return nil
	}

	return s.SyncAll(ctx)
}

// DiscoverPeers asks seed for its peers, pings every new one before adding
// it, and repeats with every added peer until no new peer shows up.
func (s *Synchronizer) DiscoverPeers(ctx context.Context, seed string) error {
	peerSet := s.network.Peers()
	client := s.network.Client()
	self := peers.NormalizeURL(peerSet.Self())

	queue := []string{peers.NormalizeURL(seed)}
	asked := map[string]bool{self: true}

	for len(queue) > 0 {
		url := queue[0]
		queue = queue[1:]

		if asked[url] {
			continue
		}
		asked[url] = true

		nodes, err := s.getNodes(ctx, client, url)
		if err != nil {
			if url == peers.NormalizeURL(seed) {
				return fmt.Errorf("fetching peers from seed %s: %w", seed, err)
			}
			s.logger.WithError(err).WithField("peer", url).Debug("Could not fetch peers")
			continue
		}

		added := make(chan string, len(nodes))

		g, gctx := errgroup.WithContext(ctx)
		seen := map[string]bool{}
		for _, n := range nodes {
			n := peers.NormalizeURL(n)
			if n == "" || n == self || seen[n] || peerSet.HasPeer(n) {
				continue
			}
			seen[n] = true

			g.Go(func() error {
				pctx, cancel := context.WithTimeout(gctx, s.timeout)
				defer cancel()

				if err := client.Ping(pctx, n); err != nil {
					s.logger.WithError(err).WithField("peer", n).Debug("Unreachable peer")
					return nil
				}
				if peerSet.AddPeer(n) {
					added <- n
				}
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return err
		}
		close(added)

		for n := range added {
			s.logger.WithField("peer", n).Debug("Discovered peer")
			queue = append(queue, n)
		}
	}

	s.logger.WithField("peers", s.network.Size()).Info("Peer discovery done")

	return ctx.Err()
}

func (s *Synchronizer) getNodes(ctx context.Context, client net.Client, url string) ([]string, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return client.GetNodes(cctx, url)
}

// SyncAll catches up every account reachable from the genesis recipient,
// breadth first along out-chain recipients. Accounts whose slots cannot be
// decided now are skipped.
func (s *Synchronizer) SyncAll(ctx context.Context) error {
	queue := []string{s.genesis}
	synced := map[string]bool{}

	for len(queue) > 0 {
		address := queue[0]
		queue = queue[1:]

		if synced[address] {
			continue
		}
		synced[address] = true

		account, err := s.SyncAccount(ctx, address, true)
		if errors.Is(err, ErrSessionRunning) || errors.Is(err, ErrInconclusive) {
			s.logger.WithError(err).WithField("account", address).Warn("Skipping account")
			continue
		}
		if err != nil {
			return err
		}
		if account == nil {
			continue
		}

		for _, b := range account.OutChain {
			if !synced[b.Recipient] {
				queue = append(queue, b.Recipient)
			}
		}
	}

	s.logger.WithField("accounts", len(synced)).Info("Sync done")

	return nil
}

// SyncAccount catches up the out-chain of address and returns the refreshed
// account, nil if the address has no blocks. acquireLock is false when the
// caller already holds the address's lock.
func (s *Synchronizer) SyncAccount(ctx context.Context, address string, acquireLock bool) (*ledger.Account, error) {
	return s.newRun().syncAccount(ctx, address, acquireLock)
}

// SyncUnknownAccount catches up an address the node knows nothing about. The
// senders that funded it, according to a random peer, are caught up first.
func (s *Synchronizer) SyncUnknownAccount(ctx context.Context, address string, acquireLock bool) (*ledger.Account, error) {
	return s.newRun().syncUnknownAccount(ctx, address, acquireLock)
}

// run carries the accounts already visited during one top-level sync, so that
// each is caught up at most once.
type run struct {
	*Synchronizer
	visited map[string]bool
}

func (s *Synchronizer) newRun() *run {
	return &run{
		Synchronizer: s,
		visited:      map[string]bool{crypto.GenesisSentinel: true},
	}
}

func (r *run) syncUnknownAccount(ctx context.Context, address string, acquireLock bool) (*ledger.Account, error) {
	r.visited[address] = true

	if err := r.syncFunding(ctx, address); err != nil {
		return nil, err
	}

	return r.syncAccount(ctx, address, acquireLock)
}

// syncFunding catches up the senders of the inbound blocks a peer reports for
// address.
func (r *run) syncFunding(ctx context.Context, address string) error {
	remote, err := r.network.FetchAccount(ctx, address)
	if err != nil {
		return fmt.Errorf("fetching account %s: %w", address, err)
	}
	if remote == nil {
		return nil
	}

	for _, b := range remote.InChain {
		sender := b.Sender
		if r.visited[sender] {
			continue
		}
		r.visited[sender] = true

		_, err := r.store.GetAccount(sender)
		switch {
		case common.IsStore(err, common.KeyNotFound):
			if err = r.syncFunding(ctx, sender); err == nil {
				err = r.syncSender(ctx, sender)
			}
		case err == nil:
			err = r.syncSender(ctx, sender)
		}
		if err != nil {
			return fmt.Errorf("syncing sender %s: %w", sender, err)
		}
	}

	return nil
}

// syncSender catches up a funding sender. The caller may hold the lock of the
// account being funded, and that account may in turn fund the sender, so the
// wait for the sender's lock is bounded. A sender that stays locked is being
// processed by someone else and is skipped.
func (r *run) syncSender(ctx context.Context, sender string) error {
	lctx, cancel := context.WithTimeout(ctx, r.timeout)
	release, err := r.store.LockAccount(lctx, sender)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger.WithField("account", sender).Debug("Sender locked, skipping")
		return nil
	}
	defer release()

	_, err = r.syncAccount(ctx, sender, false)
	return err
}

func (r *run) syncAccount(ctx context.Context, address string, acquireLock bool) (*ledger.Account, error) {
	r.visited[address] = true

	if acquireLock {
		release, err := r.store.LockAccount(ctx, address)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	slot, err := r.resumeSlot(address)
	if err != nil {
		return nil, err
	}

	logger := r.logger.WithField("account", address)
	fundingSynced := false
	added := 0

	for {
		candidate, err := r.occupant(slot)
		if err != nil {
			return nil, err
		}

		res, err := r.layer.ConformOnSlot(ctx, slot, candidate)
		if err != nil && res.Outcome != consensus.Inconclusive {
			return nil, err
		}

		switch res.Outcome {
		case consensus.AlreadyRunning:
			return nil, fmt.Errorf("slot %s: %w", slot, ErrSessionRunning)
		case consensus.Inconclusive:
			if err != nil {
				return nil, fmt.Errorf("slot %s: %w: %v", slot, ErrInconclusive, err)
			}
			return nil, fmt.Errorf("slot %s: %w", slot, ErrInconclusive)
		}

		if res.Outcome == consensus.NoPreference {
			break
		}

		block := res.Block
		err = r.store.StoreBlock(block)
		if errors.Is(err, ledger.ErrInsufficientBalance) && !fundingSynced {
			fundingSynced = true
			logger.WithField("block", block.Hash).Debug("Syncing funding senders")
			if ferr := r.syncFunding(ctx, address); ferr != nil {
				return nil, ferr
			}
			err = r.store.StoreBlock(block)
		}
		if err != nil {
			return nil, fmt.Errorf("storing block %s: %w", block.Hash, err)
		}

		if candidate == nil || candidate.Hash != block.Hash {
			added++
		}
		slot = block.Hash
	}

	logger.WithField("added", added).Debug("Account synced")

	account, err := r.store.GetAccount(address)
	if common.IsStore(err, common.KeyNotFound) {
		return nil, nil
	}
	return account, err
}

// resumeSlot returns the slot of the block resumeDepth positions back from the
// tail, or the first slot for short chains.
func (r *run) resumeSlot(address string) (string, error) {
	account, err := r.store.GetAccount(address)
	if common.IsStore(err, common.KeyNotFound) {
		return ledger.FirstSlot(address), nil
	}
	if err != nil {
		return "", err
	}

	if len(account.OutChain) < resumeDepth {
		return ledger.FirstSlot(address), nil
	}

	return account.OutChain[len(account.OutChain)-resumeDepth].Slot(), nil
}

func (r *run) occupant(slot string) (*ledger.Block, error) {
	b, err := r.store.GetPreference(slot)
	if common.IsStore(err, common.KeyNotFound) {
		return nil, nil
	}
	return b, err
}
