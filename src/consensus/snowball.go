package consensus

import (
	"context"
	"sync"

	"github.com/mosaicnetworks/snowdag/src/ledger"
	"github.com/sirupsen/logrus"
)

// Network is what a session needs from the peer layer.
type Network interface {
	// Size returns the number of peers available for sampling.
	Size() int
	// SamplePreference polls k distinct random peers for their preference on
	// slot, calls onReply for every reply (nil meaning no preference) and
	// returns once all polls have settled. Peers that do not reply are not
	// reported.
	SamplePreference(ctx context.Context, slot string, k int, onReply func(peer string, pref *ledger.Block))
}

// Outcome is how a session ended.
type Outcome int

const (
	// Finalized means Result.Block is final for the slot.
	Finalized Outcome = iota
	// NoPreference means the network agreed that nothing occupies the slot.
	NoPreference
	// AlreadyRunning means another session is active for the slot.
	AlreadyRunning
	// Inconclusive means the session ran out of rounds or was cancelled
	// before the network agreed.
	Inconclusive
)

func (o Outcome) String() string {
	switch o {
	case Finalized:
		return "Finalized"
	case NoPreference:
		return "NoPreference"
	case AlreadyRunning:
		return "AlreadyRunning"
	case Inconclusive:
		return "Inconclusive"
	default:
		return "Unknown"
	}
}

// Result is returned by the Layer's Conform methods.
type Result struct {
	Outcome Outcome
	// Block is set when Outcome is Finalized.
	Block  *ledger.Block
	Rounds int
}

// session is the Snowball state of one slot.
type session struct {
	slot    string
	params  Params
	network Network
	metrics *Metrics
	logger  *logrus.Entry

	mu         sync.Mutex
	preference *ledger.Block
	successes  int

	// verified caches the validity of replied blocks by hash
	verified map[string]bool
}

func newSession(slot string, initial *ledger.Block, params Params, network Network, metrics *Metrics, logger *logrus.Entry) *session {
	return &session{
		slot:       slot,
		params:     params,
		network:    network,
		metrics:    metrics,
		logger:     logger,
		preference: initial,
		verified:   make(map[string]bool),
	}
}

// Preference returns the current tentative preference.
func (s *session) Preference() *ledger.Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preference
}

// run executes rounds until the preference is final, the round budget is
// exhausted or ctx is done.
func (s *session) run(ctx context.Context) (Result, error) {
	rounds := 0

	for {
		if err := ctx.Err(); err != nil {
			return Result{Outcome: Inconclusive, Rounds: rounds}, err
		}

		k := s.params.K(s.network.Size())
		if k == 0 {
			// nobody to contest the preference
			return s.final(rounds), nil
		}

		if s.params.MaxRounds > 0 && rounds >= s.params.MaxRounds {
			s.logger.WithFields(logrus.Fields{
				"rounds":     rounds,
				"preference": s.Preference(),
			}).Warn("Round budget exhausted")
			return Result{Outcome: Inconclusive, Rounds: rounds}, nil
		}

		winner, decided := s.round(ctx, k)
		rounds++
		s.metrics.Rounds.Inc()

		if s.update(winner, decided) {
			return s.final(rounds), nil
		}
	}
}

// round polls k peers and returns the first value to gather alpha votes.
// Replies are tallied in arrival order.
func (s *session) round(ctx context.Context, k int) (*ledger.Block, bool) {
	alpha := s.params.Alpha(k)

	var (
		mu      sync.Mutex
		counts  = make(map[string]int)
		winner  *ledger.Block
		decided bool
	)

	s.network.SamplePreference(ctx, s.slot, k, func(peer string, pref *ledger.Block) {
		vote := s.vote(pref)
		if vote.Kind == VoteNoReply {
			s.logger.WithField("peer", peer).Debug("Discarded invalid preference")
			return
		}

		mu.Lock()
		defer mu.Unlock()

		if decided {
			return
		}

		key := vote.key()
		counts[key]++
		if counts[key] >= alpha {
			winner = vote.Block
			decided = true
		}
	})

	return winner, decided
}

// update applies a round result and reports whether the preference is final.
func (s *session) update(winner *ledger.Block, decided bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case !decided:
		s.successes = 0
	case samePreference(winner, s.preference):
		s.successes++
	default:
		s.preference = winner
		s.successes = 1
	}

	return s.successes > s.params.Beta
}

func (s *session) final(rounds int) Result {
	pref := s.Preference()
	if pref == nil {
		return Result{Outcome: NoPreference, Rounds: rounds}
	}
	return Result{Outcome: Finalized, Block: pref.Copy(), Rounds: rounds}
}

// vote turns a reply into a Vote. Blocks that do not belong to the slot, or
// whose hash or signature is wrong, are treated as no reply.
func (s *session) vote(pref *ledger.Block) Vote {
	if pref == nil {
		return PreferenceVote(nil)
	}

	if pref.Slot() != s.slot {
		return Vote{Kind: VoteNoReply}
	}

	s.mu.Lock()
	valid, ok := s.verified[pref.Hash]
	s.mu.Unlock()

	if !ok {
		if pref.IsGenesis() {
			valid = pref.Hash == pref.ComputeHash()
		} else {
			valid = pref.Verify() == nil
		}
		s.mu.Lock()
		s.verified[pref.Hash] = valid
		s.mu.Unlock()
	}

	if !valid {
		return Vote{Kind: VoteNoReply}
	}

	return PreferenceVote(pref)
}
