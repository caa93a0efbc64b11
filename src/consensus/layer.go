package consensus

import (
	"context"
	"fmt"

	"github.com/algorand/go-deadlock"
	"github.com/mosaicnetworks/snowdag/src/ledger"
	"github.com/sirupsen/logrus"
)

// Layer runs at most one Snowball session per slot and exposes the tentative
// preference of running sessions.
type Layer struct {
	params  Params
	network Network
	metrics *Metrics
	logger  *logrus.Entry

	mu       deadlock.Mutex
	sessions map[string]*session
}

// NewLayer creates a Layer. A nil metrics creates unregistered ones.
func NewLayer(network Network, params Params, metrics *Metrics, logger *logrus.Entry) *Layer {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	return &Layer{
		params:   params,
		network:  network,
		metrics:  metrics,
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

// ConformOnBlock runs a session for the block's slot with the block as initial
// preference.
func (l *Layer) ConformOnBlock(ctx context.Context, block *ledger.Block) (Result, error) {
	return l.ConformOnSlot(ctx, block.Slot(), block)
}

// ConformOnSlot runs a session for slot, starting from initial, which may be
// nil for no preference. It returns AlreadyRunning at once when a session is
// active for the slot.
func (l *Layer) ConformOnSlot(ctx context.Context, slot string, initial *ledger.Block) (Result, error) {
	if initial != nil && initial.Slot() != slot {
		return Result{}, fmt.Errorf("block %s does not belong to slot %s", initial.Hash, slot)
	}

	s, ok := l.register(slot, initial)
	if !ok {
		l.metrics.Sessions.WithLabelValues(AlreadyRunning.String()).Inc()
		return Result{Outcome: AlreadyRunning}, nil
	}
	defer l.unregister(slot)

	res, err := s.run(ctx)

	l.metrics.Sessions.WithLabelValues(res.Outcome.String()).Inc()

	entry := s.logger.WithFields(logrus.Fields{
		"outcome": res.Outcome,
		"rounds":  res.Rounds,
	})
	if res.Block != nil {
		entry = entry.WithField("block", res.Block.Hash)
	}
	entry.Debug("Session ended")

	return res, err
}

// GetPreference returns the tentative preference of the session running for
// slot. The bool is false when no session is running. A nil block with true
// means the session currently has no preference.
func (l *Layer) GetPreference(slot string) (*ledger.Block, bool) {
	l.mu.Lock()
	s, ok := l.sessions[slot]
	l.mu.Unlock()

	if !ok {
		return nil, false
	}

	pref := s.Preference()
	if pref != nil {
		pref = pref.Copy()
	}
	return pref, true
}

// Active returns the number of running sessions.
func (l *Layer) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}

func (l *Layer) register(slot string, initial *ledger.Block) (*session, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.sessions[slot]; ok {
		return nil, false
	}

	s := newSession(slot, initial, l.params, l.network, l.metrics,
		l.logger.WithField("slot", slot))
	l.sessions[slot] = s
	l.metrics.Active.Inc()

	return s, true
}

func (l *Layer) unregister(slot string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.sessions, slot)
	l.metrics.Active.Dec()
}
