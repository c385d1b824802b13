// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package validator keeps the forks competing to extend the canonical
// chain, verifies what arrives from the network, and finalizes the best
// fork once it is far enough ahead.
package validator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ava-labs/avalanchego/cache"
	"github.com/ava-labs/avalanchego/cache/metercacher"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/timer/mockable"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/xlab/treeprint"
	"golang.org/x/sync/errgroup"

	log "github.com/inconshreveable/log15"

	"github.com/darkrenaissance/darkfi-sub018/blockchain"
	"github.com/darkrenaissance/darkfi-sub018/contract"
	"github.com/darkrenaissance/darkfi-sub018/p2p"
	"github.com/darkrenaissance/darkfi-sub018/zk"
)

const metricsNamespace = "validator"

type Validator struct {
	log log.Logger
	cfg Config

	// Clock used for building proposals and checking their timestamps
	clock mockable.Clock

	bc       *blockchain.Blockchain
	verifier *Verifier
	net      p2p.Network
	metrics  *metrics
	mempool  *mempool
	builder  *builder

	// seen holds the ids of network messages already handled
	seen cache.Cacher

	// lock serializes every change to the forks
	lock   sync.Mutex
	forks  []*Fork
	halted bool
}

func New(
	cfg Config,
	bc *blockchain.Blockchain,
	registry *contract.Registry,
	keys *zk.KeyCache,
	net p2p.Network,
	reg prometheus.Registerer,
) (*Validator, error) {
	if err := cfg.Verify(); err != nil {
		return nil, err
	}
	m, err := newMetrics(metricsNamespace, reg)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	seen, err := metercacher.New(metricsNamespace+"_seen_cache", reg, &cache.LRU{Size: cfg.SeenCacheSize})
	if err != nil {
		return nil, err
	}

	v := &Validator{
		log:     log.New("module", "validator"),
		cfg:     cfg,
		bc:      bc,
		net:     net,
		metrics: m,
		mempool: newMempool(cfg.MempoolSize),
		seen:    seen,
	}
	v.verifier = NewVerifier(cfg, registry, keys, &v.clock)
	v.verifier.proofTime = m.proofVerify
	v.builder = newBuilder(&v.clock, v.mempool, v.verifier, cfg)
	m.finalizedHeight.Set(float64(bc.Height()))

	v.log.Info("validator initialized", "height", bc.Height(), "tip", bc.LastBlock().ID())
	return v, nil
}

// Verifier checks proposals and transactions the way this validator does.
func (v *Validator) Verifier() *Verifier { return v.verifier }

// Ready is signalled when new transactions enter the mempool.
func (v *Validator) Ready() <-chan struct{} { return v.mempool.Ready() }

// Run handles network messages and retries failed finalizations until
// [ctx] is done.
func (v *Validator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			msg, err := v.net.Receive(ctx)
			switch {
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, p2p.ErrClosed):
				return err
			case err != nil:
				v.log.Warn("failed to receive", "err", err)
				continue
			}
			if err := v.HandleMessage(ctx, msg); err != nil && IsFatal(err) {
				v.log.Error("fatal error while handling message", "kind", msg.Kind, "err", err)
			}
		}
	})
	g.Go(func() error {
		ticker := time.NewTicker(v.cfg.RetryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if !v.Halted() {
					continue
				}
				if err := v.Finalize(); err != nil {
					v.log.Error("finalization retry failed", "err", err)
				}
			}
		}
	})
	return g.Wait()
}

// HandleMessage dispatches one network message. Messages already handled
// are dropped. A message is only remembered once it is accepted or found
// invalid, so one rejected for a reason that can clear is handled again
// when it is redelivered.
func (v *Validator) HandleMessage(ctx context.Context, msg p2p.Message) error {
	msgID := msg.ID()
	if _, ok := v.seen.Get(msgID); ok {
		v.metrics.duplicatesDropped.Inc()
		return nil
	}
	err := v.handleMessage(ctx, msg)
	if !retryable(err) {
		v.seen.Put(msgID, struct{}{})
	}
	if errors.Is(err, ErrDuplicate) {
		v.metrics.duplicatesDropped.Inc()
		return nil
	}
	return err
}

func (v *Validator) handleMessage(ctx context.Context, msg p2p.Message) error {
	switch msg.Kind {
	case p2p.KindProposal:
		blk, err := p2p.DecodeProposal(msg)
		if err != nil {
			return err
		}
		return v.AppendProposal(ctx, blk)
	case p2p.KindTransaction:
		tx, err := p2p.DecodeTransaction(msg)
		if err != nil {
			return err
		}
		return v.AppendTx(ctx, tx)
	case p2p.KindVote:
		vote, err := p2p.DecodeVote(msg)
		if err != nil {
			return err
		}
		if err := vote.Verify(); err != nil {
			return err
		}
		v.metrics.votesReceived.Inc()
		v.log.Debug("received vote", "block", vote.BlockID, "height", vote.Height, "voter", fmt.Sprintf("%x", vote.Voter))
		return nil
	default:
		return fmt.Errorf("unexpected message kind %s", msg.Kind)
	}
}

// AppendTx verifies [tx] against every fork, or against the canonical
// chain when there are none. It enters the mempool and is broadcast if it
// is valid on at least one of them.
func (v *Validator) AppendTx(ctx context.Context, tx *blockchain.Transaction) error {
	txID := tx.ID()
	if v.mempool.Has(txID) {
		return fmt.Errorf("%w: transaction %s", ErrDuplicate, txID)
	}
	included, err := v.bc.Contains(blockchain.TxsTree, txID[:])
	if err != nil {
		return &FatalError{Op: "reading transactions", Err: err}
	}
	if included {
		return fmt.Errorf("%w: transaction %s is finalized", ErrDuplicate, txID)
	}

	if err := v.verifyOnAnyFork(ctx, tx); err != nil {
		v.metrics.txsRejected.Inc()
		return err
	}
	if err := v.mempool.Add(tx); err != nil {
		return err
	}
	v.metrics.txsAccepted.Inc()
	v.metrics.mempoolSize.Set(float64(v.mempool.Len()))
	v.log.Debug("accepted transaction", "tx", txID)

	return v.net.Broadcast(ctx, p2p.EncodeTransaction(tx))
}

// snapshot is a copy of a fork's state that can be read without the lock.
type snapshot struct {
	overlay *blockchain.Overlay
	height  uint64
}

// snapshots copies the state of every fork, or the canonical tip when
// there are none.
func (v *Validator) snapshots() ([]snapshot, error) {
	v.lock.Lock()
	defer v.lock.Unlock()

	if len(v.forks) == 0 {
		return []snapshot{{overlay: blockchain.NewOverlay(v.bc), height: v.bc.Height()}}, nil
	}
	out := make([]snapshot, len(v.forks))
	for i, f := range v.forks {
		ov, err := f.overlay.FullClone()
		if err != nil {
			return nil, &FatalError{Op: "copying fork " + f.tipID.String(), Err: err}
		}
		out[i] = snapshot{overlay: ov, height: f.tip.Height}
	}
	return out, nil
}

// verifyOnAnyFork runs the expensive checks on copies of the forks, so
// the forks stay available while proofs are verified.
func (v *Validator) verifyOnAnyFork(ctx context.Context, tx *blockchain.Transaction) error {
	snaps, err := v.snapshots()
	if err != nil {
		return err
	}

	txID := tx.ID()
	for _, snap := range snaps {
		included, cerr := snap.overlay.Contains(blockchain.TxsTree, txID[:])
		if cerr != nil {
			return &FatalError{Op: "reading transactions", Err: cerr}
		}
		if included {
			err = fmt.Errorf("%w: transaction %s is in a fork", ErrDuplicate, txID)
			continue
		}
		err = v.verifier.VerifyTransaction(ctx, snap.overlay, tx, snap.height+1)
		if err == nil || IsFatal(err) {
			return err
		}
	}
	return err
}

// AppendProposal verifies [blk] and appends it to the fork it extends,
// starting a new fork if it extends the canonical tip or a proposal inside
// a fork. Accepted proposals are broadcast and may trigger finalization.
func (v *Validator) AppendProposal(ctx context.Context, blk *blockchain.BlockInfo) error {
	if err := v.appendProposal(ctx, blk); err != nil {
		if !errors.Is(err, ErrDuplicate) {
			v.metrics.proposalsRejected.Inc()
		}
		return err
	}
	v.metrics.proposalsAccepted.Inc()

	if err := v.Finalize(); err != nil {
		v.log.Error("finalization failed", "err", err)
	}
	return v.net.Broadcast(ctx, p2p.EncodeProposal(blk))
}

func (v *Validator) appendProposal(ctx context.Context, blk *blockchain.BlockInfo) error {
	v.lock.Lock()
	defer v.lock.Unlock()

	if v.halted {
		return ErrHalted
	}
	blkID := blk.ID()
	known, err := v.bc.Contains(blockchain.BlocksTree, blkID[:])
	if err != nil {
		return &FatalError{Op: "reading blocks", Err: err}
	}
	if known {
		return fmt.Errorf("%w: block %s is finalized", ErrDuplicate, blkID)
	}

	fork, index, err := v.extendedFork(ctx, blk)
	if err != nil {
		return err
	}
	if err := fork.AppendProposal(ctx, v.verifier, blk); err != nil {
		v.log.Debug("rejected proposal", "block", blkID, "height", blk.Height(), "err", err)
		return err
	}
	if index < 0 {
		v.forks = append(v.forks, fork)
	}
	v.updateStates()

	v.log.Info("accepted proposal",
		"block", blkID,
		"height", blk.Height(),
		"txs", len(blk.Txs),
		"forks", len(v.forks),
	)
	return nil
}

// extendedFork finds the fork [blk] builds on. A negative index means the
// fork is new and not yet tracked.
func (v *Validator) extendedFork(ctx context.Context, blk *blockchain.BlockInfo) (*Fork, int, error) {
	parent := blk.Parent()
	for i, f := range v.forks {
		if _, ok := f.contains(blk.ID()); ok {
			return nil, 0, fmt.Errorf("%w: block %s is in a fork", ErrDuplicate, blk.ID())
		}
		if f.tipID == parent {
			return f, i, nil
		}
	}
	for _, f := range v.forks {
		at, ok := f.contains(parent)
		if !ok {
			continue
		}
		// Replay the shared prefix onto a fresh fork.
		fork := NewFork(v.bc)
		for _, p := range f.proposals[:at+1] {
			if err := fork.AppendProposal(ctx, v.verifier, p); err != nil {
				return nil, 0, fmt.Errorf("failed to rebuild fork at %s: %w", p.ID(), err)
			}
		}
		return fork, -1, nil
	}
	if parent == v.bc.LastBlock().ID() {
		return NewFork(v.bc), -1, nil
	}
	return nil, 0, fmt.Errorf("%w: %s", ErrUnknownParent, parent)
}

func (v *Validator) updateStates() {
	best := BestFork(v.forks)
	for i, f := range v.forks {
		if i == best {
			f.state = Winning
		} else {
			f.state = Active
		}
	}
	v.metrics.forks.Set(float64(len(v.forks)))
}

// Finalize merges the best fork into the canonical chain once it can be
// finalized. A failed merge halts proposal acceptance until a later call
// succeeds.
func (v *Validator) Finalize() error {
	v.lock.Lock()
	defer v.lock.Unlock()

	best, ok := finalizable(v.forks, v.cfg.FinalizationThreshold)
	if !ok {
		v.halted = false
		return nil
	}
	winner := v.forks[best]
	if err := v.bc.Merge(winner.overlay); err != nil {
		v.halted = true
		v.metrics.finalizeFailures.Inc()
		return &FatalError{Op: "finalizing fork " + winner.tipID.String(), Err: err}
	}
	v.halted = false

	winner.state = Finalized
	for i, f := range v.forks {
		if i != best {
			f.state = Pruned
		}
	}
	for _, p := range winner.proposals {
		v.mempool.Remove(p.TxIDs()...)
	}
	v.purgeMempool()
	v.forks = []*Fork{NewFork(v.bc)}
	v.updateStates()
	v.metrics.finalizedHeight.Set(float64(v.bc.Height()))
	v.metrics.mempoolSize.Set(float64(v.mempool.Len()))

	v.log.Info("finalized fork",
		"tip", winner.tipID,
		"height", winner.tip.Height,
		"proposals", len(winner.proposals),
	)
	return nil
}

// purgeMempool drops the pending transactions the canonical chain has made
// invalid. Their proofs were verified on entry and are not checked again.
func (v *Validator) purgeMempool() {
	height := v.bc.Height() + 1
	for _, tx := range v.mempool.Pending() {
		txID := tx.ID()
		err := v.verifier.RecheckTransaction(blockchain.NewOverlay(v.bc), tx, height)
		switch {
		case err == nil:
		case IsTxInvalid(err):
			v.mempool.Remove(txID)
			v.log.Debug("dropped invalidated transaction", "tx", txID, "err", err)
		default:
			v.log.Warn("failed to recheck transaction", "tx", txID, "err", err)
		}
	}
}

func (v *Validator) Halted() bool {
	v.lock.Lock()
	defer v.lock.Unlock()

	return v.halted
}

// BuildProposal creates a proposal on the best fork, or on the canonical
// tip when there is none, out of the mempool transactions valid there.
// The proposal is not appended.
func (v *Validator) BuildProposal(ctx context.Context, producer *btcec.PrivateKey) (*blockchain.BlockInfo, error) {
	v.lock.Lock()
	var (
		fork *Fork
		err  error
	)
	if best := BestFork(v.forks); best >= 0 {
		fork, err = v.forks[best].FullClone()
	} else {
		fork = NewFork(v.bc)
	}
	v.lock.Unlock()
	if err != nil {
		return nil, &FatalError{Op: "copying best fork", Err: err}
	}

	txs, err := v.builder.selectTxs(ctx, fork)
	if err != nil {
		return nil, err
	}
	return v.builder.build(ctx, fork.tipID, fork.tip, txs, producer)
}

// Forks returns a snapshot of every fork.
func (v *Validator) Forks() []ForkInfo {
	v.lock.Lock()
	defer v.lock.Unlock()

	out := make([]ForkInfo, len(v.forks))
	for i, f := range v.forks {
		out[i] = f.info()
	}
	return out
}

// ForkTree renders the canonical tip with the proposals of every fork
// beneath it.
func (v *Validator) ForkTree() string {
	v.lock.Lock()
	defer v.lock.Unlock()

	last := v.bc.LastBlock()
	tree := treeprint.NewWithRoot(fmt.Sprintf("%d %s", last.Height(), last.ID()))
	for _, f := range v.forks {
		branch := tree.AddMetaBranch(f.state.String(), fmt.Sprintf("score %d", f.score))
		for _, p := range f.proposals {
			branch.AddNode(fmt.Sprintf("%d %s", p.Height(), p.ID()))
		}
	}
	return tree.String()
}

// MempoolTxs returns the ids of the transactions waiting in the mempool.
func (v *Validator) MempoolTxs() []ids.ID {
	txs := v.mempool.Pending()
	out := make([]ids.ID, len(txs))
	for i, tx := range txs {
		out[i] = tx.ID()
	}
	return out
}

func (v *Validator) Blockchain() *blockchain.Blockchain { return v.bc }
