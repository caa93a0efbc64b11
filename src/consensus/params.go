package consensus

import "math"

const (
	// DefaultMaxSampleSize bounds k.
	DefaultMaxSampleSize = 20
	// DefaultQuorumRatio is alpha / k.
	DefaultQuorumRatio = 0.7
	// DefaultBeta is the number of consecutive successes beyond which a
	// preference is final.
	DefaultBeta = 20
	// DefaultMaxRounds bounds a session. Sessions that reach it are
	// Inconclusive.
	DefaultMaxRounds = 10000
)

// Params configures Snowball sessions.
type Params struct {
	MaxSampleSize int
	QuorumRatio   float64
	Beta          int
	// MaxRounds is the round budget of a session, 0 for unbounded.
	MaxRounds int
}

// DefaultParams returns the standard parameters.
func DefaultParams() Params {
	return Params{
		MaxSampleSize: DefaultMaxSampleSize,
		QuorumRatio:   DefaultQuorumRatio,
		Beta:          DefaultBeta,
		MaxRounds:     DefaultMaxRounds,
	}
}

// K returns the sample size for a network of peerCount peers.
func (p Params) K(peerCount int) int {
	if peerCount < p.MaxSampleSize {
		return peerCount
	}
	return p.MaxSampleSize
}

// Alpha returns the quorum for a sample of size k.
func (p Params) Alpha(k int) int {
	alpha := int(math.Floor(p.QuorumRatio * float64(k)))
	if alpha < 1 {
		return 1
	}
	return alpha
}
