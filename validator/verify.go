// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package validator

import (
	"context"
	"fmt"
	"time"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/timer/mockable"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/darkrenaissance/darkfi-sub018/blockchain"
	"github.com/darkrenaissance/darkfi-sub018/contract"
	"github.com/darkrenaissance/darkfi-sub018/zk"
	"github.com/darkrenaissance/darkfi-sub018/zkas"
)

// Verifier checks proposals and transactions against a state.
type Verifier struct {
	registry *contract.Registry
	keys     *zk.KeyCache
	clock    *mockable.Clock

	workers          int
	minDifficulty    uint64
	futureBlockLimit time.Duration

	// nil when not measured
	proofTime prometheus.Observer
}

func NewVerifier(cfg Config, registry *contract.Registry, keys *zk.KeyCache, clock *mockable.Clock) *Verifier {
	return &Verifier{
		registry:         registry,
		keys:             keys,
		clock:            clock,
		workers:          cfg.VerifyWorkers,
		minDifficulty:    cfg.MinDifficulty,
		futureBlockLimit: cfg.FutureBlockLimit,
	}
}

type proofJob struct {
	call   int
	bin    *zkas.ZkBinary
	proof  zk.Proof
	public []fr.Element
}

type verifiedCall struct {
	contract contract.Contract
	ctx      *contract.CallContext
}

// VerifyTransaction checks [tx] for a block at [height] and, if it is
// valid, applies it to [ov]. Nothing is written to [ov] otherwise.
//
// Signatures and proofs are checked before any call touches the state.
func (v *Verifier) VerifyTransaction(ctx context.Context, ov *blockchain.Overlay, tx *blockchain.Transaction, height uint64) error {
	txID := tx.ID()
	if err := tx.SyntacticVerify(); err != nil {
		return txError(txID, err)
	}
	digest, err := tx.SigningDigest()
	if err != nil {
		return txError(txID, err)
	}
	calls, metas, err := v.resolve(tx, height)
	if err != nil {
		return err
	}

	var jobs []proofJob
	for i, meta := range metas {
		sigs := tx.Signatures[i]
		if len(sigs) != len(meta.SignaturePublicKeys) {
			return txError(txID, fmt.Errorf("%w: call %d has %d, wants %d", ErrSignatureCount, i, len(sigs), len(meta.SignaturePublicKeys)))
		}
		for j, pub := range meta.SignaturePublicKeys {
			if err := blockchain.VerifySignature(digest, pub, sigs[j]); err != nil {
				return txError(txID, fmt.Errorf("call %d signature %d: %w", i, j, err))
			}
		}

		proofs := tx.Proofs[i]
		if len(proofs) != len(meta.ZkPublicInputs) {
			return txError(txID, fmt.Errorf("%w: call %d has %d, wants %d", ErrProofCount, i, len(proofs), len(meta.ZkPublicInputs)))
		}
		for j, in := range meta.ZkPublicInputs {
			bin, err := v.registry.Circuit(in.Namespace)
			if err != nil {
				return txError(txID, fmt.Errorf("call %d proof %d: %w", i, j, err))
			}
			if len(in.PublicInputs) != bin.NumInstances() {
				return txError(txID, fmt.Errorf("%w: call %d proof %d has %d, %s wants %d",
					zk.ErrPublicInputCount, i, j, len(in.PublicInputs), in.Namespace, bin.NumInstances()))
			}
			jobs = append(jobs, proofJob{call: i, bin: bin, proof: proofs[j], public: in.PublicInputs})
		}
	}

	if err := v.verifyProofs(ctx, txID, jobs); err != nil {
		return err
	}
	return v.apply(ov, txID, calls)
}

// RecheckTransaction runs [tx], whose signatures and proofs have already
// been verified, against [ov]. It catches transactions that a newer state
// made invalid, such as spends of nullifiers that were finalized since.
func (v *Verifier) RecheckTransaction(ov *blockchain.Overlay, tx *blockchain.Transaction, height uint64) error {
	calls, _, err := v.resolve(tx, height)
	if err != nil {
		return err
	}
	return v.apply(ov, tx.ID(), calls)
}

func (v *Verifier) resolve(tx *blockchain.Transaction, height uint64) ([]verifiedCall, []*contract.Metadata, error) {
	txID := tx.ID()
	calls := make([]verifiedCall, len(tx.Calls))
	metas := make([]*contract.Metadata, len(tx.Calls))
	for i := range tx.Calls {
		call := &tx.Calls[i]
		c, fn, err := v.registry.Lookup(call.ContractID, call.FunctionID)
		if err != nil {
			return nil, nil, txError(txID, fmt.Errorf("call %d: %w", i, err))
		}
		cctx := &contract.CallContext{Tx: tx, Index: i, Function: fn, Height: height}
		meta, err := c.Metadata(cctx)
		if err != nil {
			return nil, nil, txError(txID, fmt.Errorf("call %d metadata: %w", i, err))
		}
		calls[i] = verifiedCall{contract: c, ctx: cctx}
		metas[i] = meta
	}
	return calls, metas, nil
}

// apply runs [calls] on a child of [ov] and commits it only if every call
// succeeds.
func (v *Verifier) apply(ov *blockchain.Overlay, txID ids.ID, calls []verifiedCall) error {
	child := ov.Child()
	for i, c := range calls {
		up, err := c.contract.Process(c.ctx, child)
		if err != nil {
			return stateError(txID, fmt.Errorf("call %d: %w", i, err))
		}
		if err := child.AddNullifiers(up.Nullifiers, txID); err != nil {
			return stateError(txID, fmt.Errorf("call %d: %w", i, err))
		}
		if err := child.AppendCoins(up.Coins); err != nil {
			return stateError(txID, fmt.Errorf("call %d: %w", i, err))
		}
		if err := c.contract.Apply(c.ctx, child, up); err != nil {
			return stateError(txID, fmt.Errorf("call %d apply: %w", i, err))
		}
	}
	if err := child.Commit(); err != nil {
		return &FatalError{Op: "committing transaction " + txID.String(), Err: err}
	}
	return nil
}

// verifyProofs verifies [jobs] concurrently. Once one fails the rest are
// not started.
func (v *Verifier) verifyProofs(ctx context.Context, txID ids.ID, jobs []proofJob) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)
	for i := range jobs {
		job := &jobs[i]
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			vk, err := v.keys.VerifyingKey(job.bin)
			if err != nil {
				return &FatalError{Op: "building keys of " + job.bin.Namespace, Err: err}
			}
			start := time.Now()
			err = job.proof.Verify(vk, job.public)
			if v.proofTime != nil {
				v.proofTime.Observe(time.Since(start).Seconds())
			}
			if err != nil {
				return txError(txID, fmt.Errorf("call %d %s proof: %w", job.call, job.bin.Namespace, err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// VerifyHeader checks [blk] against the header of the block it extends.
func (v *Verifier) VerifyHeader(parentID ids.ID, parent *blockchain.Header, blk *blockchain.BlockInfo) error {
	h := &blk.Header
	switch {
	case h.Version != blockchain.BlockVersion:
		return fmt.Errorf("%w: %d", ErrWrongVersion, h.Version)
	case h.PreviousHash != parentID:
		return fmt.Errorf("%w: %s", ErrUnknownParent, h.PreviousHash)
	case h.Height != parent.Height+1:
		return fmt.Errorf("%w: expected %d, found %d", ErrInvalidHeight, parent.Height+1, h.Height)
	case h.Timestamp < parent.Timestamp:
		return fmt.Errorf("%w: %s < %s", ErrTimestampTooEarly, h.Time(), parent.Time())
	}
	if limit := v.clock.Time().Add(v.futureBlockLimit); h.Time().After(limit) {
		return fmt.Errorf("%w: %s is after %s", ErrTimestampTooLate, h.Time(), limit)
	}
	if h.Difficulty < v.minDifficulty {
		return fmt.Errorf("%w: %d < %d", ErrLowDifficulty, h.Difficulty, v.minDifficulty)
	}
	if !blockchain.MeetsDifficulty(blk.ID(), h.Difficulty) {
		return fmt.Errorf("%w: %s at difficulty %d", ErrInsufficientWork, blk.ID(), h.Difficulty)
	}
	if err := blk.VerifySignature(); err != nil {
		return err
	}
	return blk.VerifyTxRoot()
}
