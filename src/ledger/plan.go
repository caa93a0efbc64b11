package ledger

import (
	"sort"

	"github.com/mosaicnetworks/snowdag/src/crypto"
)

// chainReader is the read side every engine exposes to the planner, bound to
// the engine's lock or transaction. Lookups return nil, nil when the key is
// absent.
type chainReader interface {
	block(hash string) (*Block, error)
	occupant(slot string) (*Block, error)
	inbound(address string) ([]*Block, error)
}

// storePlan is the set of changes StoreBlock must apply atomically.
type storePlan struct {
	insert  *Block
	removed []*Block
}

// planner evaluates the ledger as it would look after inserting a block and
// removing the blocks marked so far.
type planner struct {
	r       chainReader
	insert  *Block
	removed map[string]bool
	order   []*Block
}

// planStore computes the changes needed to store b. It returns nil when b is
// already stored.
func planStore(r chainReader, b *Block) (*storePlan, error) {
	existing, err := r.block(b.Hash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, nil
	}

	if b.Amount == 0 || b.Amount > MaxAmount {
		return nil, ErrInvalidAmount
	}

	if b.PreviousHash != crypto.GenesisSentinel {
		prev, err := r.block(b.PreviousHash)
		if err != nil {
			return nil, err
		}
		if prev == nil || prev.Sender != b.Sender {
			return nil, ErrUnknownPrevious
		}
	}

	p := &planner{
		r:       r,
		insert:  b,
		removed: make(map[string]bool),
	}

	occupant, err := r.occupant(b.Slot())
	if err != nil {
		return nil, err
	}
	if occupant != nil {
		if err := p.removeChain(occupant); err != nil {
			return nil, err
		}
	}

	if b.Sender != crypto.GenesisSentinel {
		in, out, _, err := p.totals(b.Sender)
		if err != nil {
			return nil, err
		}
		// the block cannot fund itself
		if b.Recipient == b.Sender {
			in -= b.Amount
		}
		if out > in {
			return nil, ErrInsufficientBalance
		}
	}

	if err := p.pruneDependants(); err != nil {
		return nil, err
	}

	return &storePlan{insert: b, removed: p.order}, nil
}

func (p *planner) remove(b *Block) {
	p.removed[b.Hash] = true
	p.order = append(p.order, b)
}

// removeChain marks start and every block chained after it.
func (p *planner) removeChain(start *Block) error {
	cur := start
	for cur != nil && !p.removed[cur.Hash] {
		p.remove(cur)
		next, err := p.r.occupant(cur.Hash)
		if err != nil {
			return err
		}
		cur = next
	}
	return nil
}

// outChain returns the out-chain of address with removed blocks cut off and
// the pending insert appended where it belongs.
func (p *planner) outChain(address string) ([]*Block, error) {
	chain, slot, err := walkOutChain(p.r, address, p.removed)
	if err != nil {
		return nil, err
	}
	if p.insert.Sender == address &&
		p.insert.Slot() == slot &&
		!p.removed[p.insert.Hash] {
		chain = append(chain, p.insert)
	}
	return chain, nil
}

func (p *planner) totals(address string) (in, out uint64, chain []*Block, err error) {
	inbound, err := p.r.inbound(address)
	if err != nil {
		return 0, 0, nil, err
	}
	for _, b := range inbound {
		if !p.removed[b.Hash] {
			in += b.Amount
		}
	}
	if p.insert.Recipient == address && !p.removed[p.insert.Hash] {
		in += p.insert.Amount
	}

	chain, err = p.outChain(address)
	if err != nil {
		return 0, 0, nil, err
	}
	for _, b := range chain {
		out += b.Amount
	}

	return in, out, chain, nil
}

// pruneDependants removes the tail blocks of every account that would spend
// more than it receives once the removed blocks are gone. Pruning a block
// takes funds from its recipient, so the check propagates.
func (p *planner) pruneDependants() error {
	queue := make([]string, 0, len(p.order))
	for _, b := range p.order {
		queue = append(queue, b.Recipient)
	}

	for len(queue) > 0 {
		address := queue[0]
		queue = queue[1:]

		if address == crypto.GenesisSentinel {
			continue
		}

		for {
			in, out, chain, err := p.totals(address)
			if err != nil {
				return err
			}
			if out <= in {
				break
			}

			tail := chain[len(chain)-1]
			if tail.Hash == p.insert.Hash {
				return ErrInsufficientBalance
			}

			p.remove(tail)
			queue = append(queue, tail.Recipient)
		}
	}

	return nil
}

// walkOutChain follows the slots of address from its first slot. It stops at
// an empty slot or at a block in skip, and returns the slot where it stopped.
func walkOutChain(r chainReader, address string, skip map[string]bool) ([]*Block, string, error) {
	chain := []*Block{}
	seen := make(map[string]bool)
	slot := FirstSlot(address)

	for {
		next, err := r.occupant(slot)
		if err != nil {
			return nil, "", err
		}
		if next == nil || skip[next.Hash] || seen[next.Hash] {
			break
		}
		seen[next.Hash] = true
		chain = append(chain, next)
		slot = next.Hash
	}

	return chain, slot, nil
}

// readAccount builds an Account, or returns nil when address has no blocks.
func readAccount(r chainReader, address string) (*Account, error) {
	out, _, err := walkOutChain(r, address, nil)
	if err != nil {
		return nil, err
	}

	in, err := r.inbound(address)
	if err != nil {
		return nil, err
	}

	if len(out) == 0 && len(in) == 0 {
		return nil, nil
	}

	sort.Slice(in, func(i, j int) bool { return in[i].Hash < in[j].Hash })

	account := NewAccount(address)
	account.OutChain = out
	account.InChain = in

	return account, nil
}
