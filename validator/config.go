// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package validator

import (
	"errors"
	"fmt"
	"runtime"
	"time"
)

var errInvalidConfig = errors.New("invalid validator config")

type Config struct {
	// FinalizationThreshold is how many proposals the best fork must hold
	// before it is finalized.
	FinalizationThreshold int
	// VerifyWorkers bounds the proofs verified at once.
	VerifyWorkers int
	// MinDifficulty is the least work a proposal may declare.
	MinDifficulty uint64
	// FutureBlockLimit is how far ahead of the local clock a proposal's
	// timestamp may be.
	FutureBlockLimit time.Duration
	MempoolSize      int
	SeenCacheSize    int
	MaxBlockTxs      int
	// RetryInterval is how often a failed finalization is retried.
	RetryInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		FinalizationThreshold: 3,
		VerifyWorkers:         runtime.NumCPU(),
		MinDifficulty:         1,
		FutureBlockLimit:      time.Minute,
		MempoolSize:           1024,
		SeenCacheSize:         8192,
		MaxBlockTxs:           256,
		RetryInterval:         time.Second,
	}
}

func (c *Config) Verify() error {
	switch {
	case c.FinalizationThreshold < 1:
		return fmt.Errorf("%w: finalization threshold %d", errInvalidConfig, c.FinalizationThreshold)
	case c.VerifyWorkers < 1:
		return fmt.Errorf("%w: %d verify workers", errInvalidConfig, c.VerifyWorkers)
	case c.MinDifficulty < 1:
		return fmt.Errorf("%w: minimum difficulty must be positive", errInvalidConfig)
	case c.FutureBlockLimit < 0:
		return fmt.Errorf("%w: negative future block limit", errInvalidConfig)
	case c.MempoolSize < 1, c.SeenCacheSize < 1, c.MaxBlockTxs < 1:
		return fmt.Errorf("%w: sizes must be positive", errInvalidConfig)
	case c.RetryInterval <= 0:
		return fmt.Errorf("%w: retry interval must be positive", errInvalidConfig)
	}
	return nil
}
