// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	log "github.com/inconshreveable/log15"

	"github.com/darkrenaissance/darkfi-sub018/validator"
)

// producer proposes a block every interval, and sooner once transactions
// are waiting.
type producer struct {
	log      log.Logger
	val      *validator.Validator
	key      *btcec.PrivateKey
	interval time.Duration
}

func (p *producer) run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-p.val.Ready():
		}
		if err := p.produce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if validator.IsFatal(err) {
				return err
			}
			p.log.Warn("failed to produce proposal", "err", err)
		}
	}
}

func (p *producer) produce(ctx context.Context) error {
	if p.val.Halted() {
		p.log.Debug("finalization halted, not producing")
		return nil
	}
	blk, err := p.val.BuildProposal(ctx, p.key)
	if err != nil {
		return err
	}
	if err := p.val.AppendProposal(ctx, blk); err != nil {
		return err
	}
	p.log.Info("produced proposal", "block", blk.ID(), "height", blk.Height(), "txs", len(blk.Txs))
	p.log.Debug("forks", "tree", p.val.ForkTree())
	return nil
}
