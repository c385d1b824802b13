// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package validator

import (
	"context"
	"errors"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/timer/mockable"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	log "github.com/inconshreveable/log15"

	"github.com/darkrenaissance/darkfi-sub018/blockchain"
)

// checkEvery is how many nonces are tried between context checks.
const checkEvery = 1 << 12

var errNonceExhausted = errors.New("no nonce meets the difficulty")

type builder struct {
	log   log.Logger
	clock *mockable.Clock

	mempool  *mempool
	verifier *Verifier

	difficulty uint64
	maxTxs     int
}

func newBuilder(clock *mockable.Clock, mempool *mempool, verifier *Verifier, cfg Config) *builder {
	return &builder{
		log:        log.New("module", "builder"),
		clock:      clock,
		mempool:    mempool,
		verifier:   verifier,
		difficulty: cfg.MinDifficulty,
		maxTxs:     cfg.MaxBlockTxs,
	}
}

// selectTxs picks the mempool transactions that are valid, in order, on
// top of [f]. [f] is not modified.
func (b *builder) selectTxs(ctx context.Context, f *Fork) ([]*blockchain.Transaction, error) {
	scratch := f.overlay.Child()
	height := f.tip.Height + 1

	var txs []*blockchain.Transaction
	for _, tx := range b.mempool.Pending() {
		if len(txs) == b.maxTxs {
			break
		}
		txID := tx.ID()
		included, err := scratch.Contains(blockchain.TxsTree, txID[:])
		if err != nil {
			return nil, &FatalError{Op: "reading transactions", Err: err}
		}
		if included {
			continue
		}
		if err := b.verifier.VerifyTransaction(ctx, scratch, tx, height); err != nil {
			if IsFatal(err) || ctx.Err() != nil {
				return nil, err
			}
			b.log.Debug("skipping transaction", "tx", txID, "err", err)
			continue
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// build assembles, seals and signs a proposal extending [parent].
func (b *builder) build(
	ctx context.Context,
	parentID ids.ID,
	parent blockchain.Header,
	txs []*blockchain.Transaction,
	producer *btcec.PrivateKey,
) (*blockchain.BlockInfo, error) {
	timestamp := b.clock.Unix()
	if ts := uint64(parent.Timestamp); timestamp < ts {
		timestamp = ts
	}
	blk := &blockchain.BlockInfo{
		Header: blockchain.Header{
			Version:      blockchain.BlockVersion,
			PreviousHash: parentID,
			Height:       parent.Height + 1,
			Timestamp:    int64(timestamp),
			Difficulty:   b.difficulty,
			Producer:     schnorr.SerializePubKey(producer.PubKey()),
		},
		Txs: txs,
	}
	if err := blk.Initialize(); err != nil {
		return nil, err
	}
	blk.Header.TxRoot = blockchain.MerkleRoot(blk.TxIDs())

	if err := seal(ctx, &blk.Header); err != nil {
		return nil, err
	}
	if err := blk.Sign(producer); err != nil {
		return nil, err
	}
	return blk, nil
}

// seal searches for a nonce that makes [h] meet its difficulty.
func seal(ctx context.Context, h *blockchain.Header) error {
	for nonce := uint64(0); ; nonce++ {
		if nonce%checkEvery == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		h.Nonce = nonce
		id, err := h.Hash()
		if err != nil {
			return err
		}
		if blockchain.MeetsDifficulty(id, h.Difficulty) {
			return nil
		}
		if nonce == ^uint64(0) {
			return errNonceExhausted
		}
	}
}
