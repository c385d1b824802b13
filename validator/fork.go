// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package validator

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/darkrenaissance/darkfi-sub018/blockchain"
)

type ForkState uint8

const (
	Active ForkState = iota
	Winning
	Finalized
	Pruned
)

func (s ForkState) String() string {
	switch s {
	case Active:
		return "active"
	case Winning:
		return "winning"
	case Finalized:
		return "finalized"
	case Pruned:
		return "pruned"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Fork is a chain of proposals on top of the canonical chain. Its overlay
// holds every change the proposals make.
type Fork struct {
	overlay   *blockchain.Overlay
	proposals []*blockchain.BlockInfo
	score     uint64
	state     ForkState

	tipID ids.ID
	tip   blockchain.Header
}

// NewFork starts an empty fork on the last canonical block.
func NewFork(bc *blockchain.Blockchain) *Fork {
	last := bc.LastBlock()
	return &Fork{
		overlay: blockchain.NewOverlay(bc),
		tipID:   last.ID(),
		tip:     last.Header,
	}
}

// FullClone returns a fork that shares no mutable state with [f].
func (f *Fork) FullClone() (*Fork, error) {
	ov, err := f.overlay.FullClone()
	if err != nil {
		return nil, err
	}
	proposals := make([]*blockchain.BlockInfo, len(f.proposals))
	copy(proposals, f.proposals)
	return &Fork{
		overlay:   ov,
		proposals: proposals,
		score:     f.score,
		tipID:     f.tipID,
		tip:       f.tip,
	}, nil
}

func (f *Fork) Tip() ids.ID      { return f.tipID }
func (f *Fork) Height() uint64   { return f.tip.Height }
func (f *Fork) Score() uint64    { return f.score }
func (f *Fork) State() ForkState { return f.state }

// State view of the fork. Writes to it land in the fork.
func (f *Fork) Overlay() *blockchain.Overlay { return f.overlay }

func (f *Fork) Proposals() []*blockchain.BlockInfo {
	out := make([]*blockchain.BlockInfo, len(f.proposals))
	copy(out, f.proposals)
	return out
}

// contains reports whether the fork holds the proposal [blkID], and where.
func (f *Fork) contains(blkID ids.ID) (int, bool) {
	for i, p := range f.proposals {
		if p.ID() == blkID {
			return i, true
		}
	}
	return 0, false
}

// AppendProposal verifies [blk] on top of the fork and appends it. The
// fork is left untouched if any check fails.
func (f *Fork) AppendProposal(ctx context.Context, v *Verifier, blk *blockchain.BlockInfo) error {
	if err := v.VerifyHeader(f.tipID, &f.tip, blk); err != nil {
		return err
	}

	child := f.overlay.Child()
	seen := make(map[ids.ID]struct{}, len(blk.Txs))
	for _, tx := range blk.Txs {
		txID := tx.ID()
		if _, ok := seen[txID]; ok {
			return txError(txID, fmt.Errorf("%w: repeated in block", ErrDuplicate))
		}
		seen[txID] = struct{}{}
		included, err := child.Contains(blockchain.TxsTree, txID[:])
		if err != nil {
			return &FatalError{Op: "reading transactions", Err: err}
		}
		if included {
			return txError(txID, fmt.Errorf("%w: already included", ErrDuplicate))
		}
		if err := v.VerifyTransaction(ctx, child, tx, blk.Height()); err != nil {
			return err
		}
	}
	if err := child.PutBlock(blk); err != nil {
		return &FatalError{Op: "storing proposal", Err: err}
	}
	if err := child.Commit(); err != nil {
		return &FatalError{Op: "committing proposal", Err: err}
	}

	f.proposals = append(f.proposals, blk)
	f.score += blk.Header.Difficulty
	f.tipID = blk.ID()
	f.tip = blk.Header
	return nil
}

// better reports whether [a] ranks above [b]: more work first, then the
// smaller tip hash.
func better(a, b *Fork) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	return bytes.Compare(a.tipID[:], b.tipID[:]) < 0
}

// BestFork returns the index of the best of [forks], or -1 if there are
// none. It depends on nothing but the forks.
func BestFork(forks []*Fork) int {
	best := -1
	for i, f := range forks {
		if best < 0 || better(f, forks[best]) {
			best = i
		}
	}
	return best
}

// finalizable returns the fork that can be finalized, if any: the best
// fork once it holds [threshold] proposals and no other fork has as much
// work.
func finalizable(forks []*Fork, threshold int) (int, bool) {
	best := BestFork(forks)
	if best < 0 || len(forks[best].proposals) < threshold {
		return best, false
	}
	for i, f := range forks {
		if i != best && f.score >= forks[best].score {
			return best, false
		}
	}
	return best, true
}

// ForkInfo is a read-only snapshot of a fork.
type ForkInfo struct {
	Tip       ids.ID   `json:"tip"`
	Height    uint64   `json:"height"`
	Score     uint64   `json:"score"`
	State     string   `json:"state"`
	Proposals []ids.ID `json:"proposals"`
}

func (f *Fork) info() ForkInfo {
	proposals := make([]ids.ID, len(f.proposals))
	for i, p := range f.proposals {
		proposals[i] = p.ID()
	}
	return ForkInfo{
		Tip:       f.tipID,
		Height:    f.tip.Height,
		Score:     f.score,
		State:     f.state.String(),
		Proposals: proposals,
	}
}
