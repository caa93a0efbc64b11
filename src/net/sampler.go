package net

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/mosaicnetworks/snowdag/src/ledger"
	"github.com/mosaicnetworks/snowdag/src/peers"
	"github.com/sirupsen/logrus"
)

// DefaultFanout is the number of ring neighbours a broadcast reaches.
const DefaultFanout = 8

// ErrNoPeers is returned by operations that need at least one peer.
var ErrNoPeers = errors.New("no peers")

// Sampler issues concurrent requests to random samples of peers, or to the
// local node's ring neighbours, and evicts peers that do not reply.
type Sampler struct {
	peers   *peers.PeerSet
	client  Client
	timeout time.Duration
	fanout  int
	logger  *logrus.Entry
}

// NewSampler creates a Sampler. timeout bounds every single peer call.
func NewSampler(peerSet *peers.PeerSet, client Client, timeout time.Duration, fanout int, logger *logrus.Entry) *Sampler {
	if fanout <= 0 {
		fanout = DefaultFanout
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	return &Sampler{
		peers:   peerSet,
		client:  client,
		timeout: timeout,
		fanout:  fanout,
		logger:  logger,
	}
}

// Peers returns the underlying peer set.
func (s *Sampler) Peers() *peers.PeerSet {
	return s.peers
}

// Client returns the underlying client.
func (s *Sampler) Client() Client {
	return s.client
}

// Size returns the number of known peers.
func (s *Sampler) Size() int {
	return s.peers.Len()
}

// Sample calls fn on n distinct random peers concurrently and waits for all
// calls to settle. It returns the number of calls that succeeded.
func (s *Sampler) Sample(ctx context.Context, n int, fn func(ctx context.Context, url string) error) int {
	return s.call(ctx, s.peers.RandomSample(n), fn)
}

// Broadcast calls fn on the ring neighbours concurrently and waits for all
// calls to settle. It returns the number of calls that succeeded.
func (s *Sampler) Broadcast(ctx context.Context, fn func(ctx context.Context, url string) error) int {
	return s.call(ctx, s.peers.Neighbors(s.fanout), fn)
}

func (s *Sampler) call(ctx context.Context, urls []string, fn func(ctx context.Context, url string) error) int {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)

	for _, url := range urls {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()

			callCtx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			err := fn(callCtx, url)
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
				return
			}

			if ctx.Err() != nil || !IsNoReply(err) {
				s.logger.WithError(err).WithField("peer", url).Debug("Peer call failed")
				return
			}

			if s.peers.RemovePeer(url) {
				s.logger.WithError(err).WithField("peer", url).Debug("Evicted unreachable peer")
			}
		}(url)
	}

	wg.Wait()

	return ok
}

// SamplePreference queries k random peers for their preference on slot and
// calls onReply as each reply arrives. Peers that do not reply are evicted and
// never reported. onReply may be called concurrently.
func (s *Sampler) SamplePreference(ctx context.Context, slot string, k int, onReply func(peer string, pref *ledger.Block)) {
	s.Sample(ctx, k, func(ctx context.Context, url string) error {
		pref, err := s.client.GetPreference(ctx, url, slot)
		if err != nil {
			return err
		}
		onReply(url, pref)
		return nil
	})
}

// BroadcastBlock gossips a block to the ring neighbours. Neighbours reply
// before processing it, so a timeout means the neighbour is gone.
func (s *Sampler) BroadcastBlock(ctx context.Context, block *ledger.Block) int {
	return s.Broadcast(ctx, func(ctx context.Context, url string) error {
		return s.client.GossipBlock(ctx, url, block)
	})
}

// AnnounceNode tells the ring neighbours about nodeURL. Neighbours that
// already know it count as reached.
func (s *Sampler) AnnounceNode(ctx context.Context, nodeURL string) int {
	return s.Broadcast(ctx, func(ctx context.Context, url string) error {
		if url == nodeURL {
			return nil
		}
		err := s.client.AddNode(ctx, url, nodeURL)
		if IsStatus(err, http.StatusConflict) {
			return nil
		}
		return err
	})
}

// maxFetchAttempts bounds FetchAccount when peers keep failing.
const maxFetchAttempts = 3

// FetchAccount asks one random peer for its view of an account. When the peer
// does not reply it is evicted and another one is tried. A nil account with a
// nil error means the peer does not know the address.
func (s *Sampler) FetchAccount(ctx context.Context, address string) (*ledger.Account, error) {
	var lastErr error = ErrNoPeers

	for i := 0; i < maxFetchAttempts; i++ {
		var (
			account *ledger.Account
			err     error
		)

		sampled := s.Sample(ctx, 1, func(ctx context.Context, url string) error {
			account, err = s.client.GetAccount(ctx, url, address)
			return err
		})

		if sampled == 1 {
			return account, nil
		}
		if err == nil {
			// nobody was sampled
			return nil, lastErr
		}

		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}
