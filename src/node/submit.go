package node

import (
	"context"
	"errors"
	"fmt"

	"github.com/mosaicnetworks/snowdag/src/catchup"
	"github.com/mosaicnetworks/snowdag/src/consensus"
	"github.com/mosaicnetworks/snowdag/src/ledger"
	"github.com/mosaicnetworks/snowdag/src/validation"
	"github.com/sirupsen/logrus"
)

var (
	// ErrShutdown is returned by SubmitBlock once the node is shutting down.
	ErrShutdown = errors.New("node is shutting down")
	// ErrInvalidBlock is returned by ReceiveBlock for malformed blocks.
	ErrInvalidBlock = errors.New("invalid block")
)

// SubmitStatus is the outcome of SubmitBlock.
type SubmitStatus int

const (
	// Added means the block was valid and stored.
	Added SubmitStatus = iota
	// Accepted means the slot was contested and the block the network settled
	// on, maybe another one, was stored.
	Accepted
	// AlreadyAccepted means the block was stored before.
	AlreadyAccepted
	// Pending means a consensus session is already running on the slot.
	Pending
	// Rejected means the slot was contested and the network has no
	// preference for it.
	Rejected
	// Invalid means the block failed validation.
	Invalid
)

func (s SubmitStatus) String() string {
	switch s {
	case Added:
		return "Added"
	case Accepted:
		return "Accepted"
	case AlreadyAccepted:
		return "AlreadyAccepted"
	case Pending:
		return "Pending"
	case Rejected:
		return "Rejected"
	case Invalid:
		return "Invalid"
	default:
		return "Unknown"
	}
}

// SubmitResult describes what SubmitBlock did with a block. Hash is the hash
// of the block that now occupies the slot, when there is one.
type SubmitResult struct {
	Status SubmitStatus
	Code   validation.Code
	Hash   string
}

// Message returns a human readable description of the result.
func (r SubmitResult) Message() string {
	switch r.Status {
	case Added:
		return "Block added."
	case Accepted:
		return fmt.Sprintf("Conflicting block, block with hash: %s accepted.", r.Hash)
	case AlreadyAccepted:
		return "Block already accepted!"
	case Pending:
		return "Consensus already running on this slot."
	case Rejected:
		return "Conflicting block, the network has no preference."
	default:
		return "Invalid Block: " + r.Code.String()
	}
}

// SubmitBlock validates a block and adds it to the ledger, catching up the
// sender's account or running consensus on the block's slot when needed.
// Stored blocks are broadcast to the ring neighbours in the background. An
// error is only returned when the block could not be processed. Processing
// stops when ctx is done or the node shuts down.
func (n *Node) SubmitBlock(ctx context.Context, block *ledger.Block) (SubmitResult, error) {
	if !n.BeginTask() {
		return SubmitResult{}, ErrShutdown
	}
	defer n.EndTask()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(n.ctx, cancel)
	defer stop()

	res, err := n.processBlock(ctx, block)
	if err != nil {
		n.metrics.submissions.WithLabelValues("Error").Inc()
		return res, err
	}
	n.metrics.submissions.WithLabelValues(res.Status.String()).Inc()

	if res.Status == Added || res.Status == Accepted {
		stored, err := n.store.GetBlock(res.Hash)
		if err != nil {
			n.logger.WithError(err).WithField("block", res.Hash).Error("Reading block to broadcast")
			return res, nil
		}
		n.goFunc("broadcast", func() {
			reached := n.sampler.BroadcastBlock(n.ctx, stored)
			n.metrics.broadcasts.Inc()
			n.logger.WithFields(logrus.Fields{
				"block":   stored.Hash,
				"reached": reached,
			}).Debug("Broadcast block")
		})
	}

	return res, nil
}

// ReceiveBlock takes a block gossiped by a peer. Only the fields are checked
// before it returns; the block is then submitted on a background routine, so
// that the peer is not kept waiting on catch-up or consensus.
func (n *Node) ReceiveBlock(block *ledger.Block) error {
	if err := validation.CheckFields(block); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBlock, err)
	}

	return n.goTask(func() {
		res, err := n.SubmitBlock(n.ctx, block)
		logger := n.logger.WithField("block", block.Hash)
		if err != nil {
			logger.WithError(err).Debug("Could not process gossiped block")
			return
		}
		logger.WithField("status", res.Status.String()).Debug("Processed gossiped block")
	})
}

// processBlock runs with the sender's account locked, so that no two blocks
// are added to the same slot concurrently.
func (n *Node) processBlock(ctx context.Context, block *ledger.Block) (SubmitResult, error) {
	if err := validation.CheckFields(block); err != nil {
		return SubmitResult{Status: Invalid, Code: validation.InvalidFields}, nil
	}

	release, err := n.store.LockAccount(ctx, block.Sender)
	if err != nil {
		return SubmitResult{}, err
	}
	defer release()

	logger := n.logger.WithFields(logrus.Fields{
		"block":  block.Hash,
		"sender": block.Sender,
	})

	code, err := n.validator.Validate(block)
	if err != nil {
		return SubmitResult{}, err
	}

	if code == validation.AccountNotFound {
		logger.Debug("Unknown sender, syncing")
		if _, err := n.sync.SyncUnknownAccount(ctx, block.Sender, false); err != nil {
			return n.syncFailed(err)
		}
		if code, err = n.validator.Validate(block); err != nil {
			return SubmitResult{}, err
		}
	}

	// with an empty local out-chain, a block that does not start the chain
	// means this node is behind
	if code == validation.OutOfSync || code == validation.BadFirstBlock {
		logger.Debug("Sender out of sync, syncing")
		if _, err := n.sync.SyncAccount(ctx, block.Sender, false); err != nil {
			return n.syncFailed(err)
		}
		if code, err = n.validator.Validate(block); err != nil {
			return SubmitResult{}, err
		}
	}

	logger = logger.WithField("code", code.String())

	switch code {
	case validation.Valid:
		if err := n.store.StoreBlock(block); err != nil {
			return SubmitResult{}, fmt.Errorf("storing block: %w", err)
		}
		logger.Info("Block added")
		return SubmitResult{Status: Added, Code: code, Hash: block.Hash}, nil

	case validation.Conflict:
		return n.resolveConflict(ctx, block, logger)

	case validation.AlreadyExists:
		return SubmitResult{Status: AlreadyAccepted, Code: code, Hash: block.Hash}, nil

	default:
		logger.Debug("Invalid block")
		return SubmitResult{Status: Invalid, Code: code}, nil
	}
}

// resolveConflict runs consensus on the slot of block, which is occupied by
// another block, and stores the block the network settles on.
func (n *Node) resolveConflict(ctx context.Context, block *ledger.Block, logger *logrus.Entry) (SubmitResult, error) {
	logger.Debug("Conflicting block, starting consensus")

	res, err := n.layer.ConformOnBlock(ctx, block)
	if err != nil && res.Outcome != consensus.Inconclusive {
		return SubmitResult{}, err
	}

	switch res.Outcome {
	case consensus.Finalized:
		if err := n.store.StoreBlock(res.Block); err != nil {
			return SubmitResult{}, fmt.Errorf("storing finalized block: %w", err)
		}
		logger.WithFields(logrus.Fields{
			"winner": res.Block.Hash,
			"rounds": res.Rounds,
		}).Info("Conflict resolved")
		return SubmitResult{Status: Accepted, Code: validation.Conflict, Hash: res.Block.Hash}, nil

	case consensus.NoPreference:
		logger.Info("Network has no preference")
		return SubmitResult{Status: Rejected, Code: validation.Conflict}, nil

	case consensus.AlreadyRunning:
		return SubmitResult{Status: Pending, Code: validation.Conflict}, nil

	default:
		if err == nil {
			err = catchup.ErrInconclusive
		}
		return SubmitResult{}, fmt.Errorf("consensus on slot %s: %w", block.Slot(), err)
	}
}

func (n *Node) syncFailed(err error) (SubmitResult, error) {
	if errors.Is(err, catchup.ErrSessionRunning) {
		return SubmitResult{Status: Pending}, nil
	}
	return SubmitResult{}, fmt.Errorf("syncing sender: %w", err)
}
