// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package validator

import (
	"context"
	"testing"
	"time"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkrenaissance/darkfi-sub018/blockchain"
)

func scored(score uint64, tip byte, proposals int) *Fork {
	return &Fork{
		score:     score,
		tipID:     ids.ID{tip},
		proposals: make([]*blockchain.BlockInfo, proposals),
	}
}

func TestBestFork(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(-1, BestFork(nil))

	low := scored(2, 0, 2)
	tieHigh := scored(3, 2, 1)
	tieLow := scored(3, 1, 3)

	orders := [][]*Fork{
		{low, tieHigh, tieLow},
		{tieLow, low, tieHigh},
		{tieHigh, tieLow, low},
	}
	for _, forks := range orders {
		best := BestFork(forks)
		assert.Same(tieLow, forks[best])
	}
}

func TestFinalizable(t *testing.T) {
	tests := []struct {
		name  string
		forks []*Fork
		best  int
		ok    bool
	}{
		{"none", nil, -1, false},
		{"single fork below threshold", []*Fork{scored(2, 0, 2)}, 0, false},
		{"single fork at threshold", []*Fork{scored(3, 0, 3)}, 0, true},
		{"tied competitor", []*Fork{scored(3, 0, 3), scored(3, 1, 1)}, 0, false},
		{"weaker competitor", []*Fork{scored(2, 0, 1), scored(3, 1, 3)}, 1, true},
		{"best fork too short", []*Fork{scored(5, 0, 1), scored(3, 1, 3)}, 0, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			best, ok := finalizable(test.forks, 3)
			assert.Equal(t, test.best, best)
			assert.Equal(t, test.ok, ok)
		})
	}
}

func TestForkCloneIsIndependent(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	e := newEnv(t, testConfig())
	f := NewFork(e.v.bc)
	gID, g := e.tip()
	assert.Equal(gID, f.Tip())
	assert.Equal(uint64(0), f.Height())

	b1 := e.propose(t, gID, g, 1, spend(t, 1, 1))
	require.NoError(f.AppendProposal(ctx, e.v.verifier, b1))
	f.state = Winning

	clone, err := f.FullClone()
	require.NoError(err)
	assert.Equal(Active, clone.State())
	assert.Equal(f.Tip(), clone.Tip())
	assert.Equal(f.Score(), clone.Score())

	b2 := e.propose(t, b1.ID(), b1.Header, 2, spend(t, 2, 2))
	require.NoError(clone.AppendProposal(ctx, e.v.verifier, b2))

	assert.Len(f.Proposals(), 1)
	assert.Len(clone.Proposals(), 2)
	assert.Equal(uint64(1), f.Score())
	assert.Equal(uint64(3), clone.Score())
	assert.Equal(b1.ID(), f.Tip())
	assert.Equal(uint64(2), clone.Height())

	spent, err := f.Overlay().HasNullifier(element(2))
	require.NoError(err)
	assert.False(spent)
	spent, err = clone.Overlay().HasNullifier(element(2))
	require.NoError(err)
	assert.True(spent)

	// Nothing reached the canonical chain.
	spent, err = e.v.bc.HasNullifier(element(1))
	require.NoError(err)
	assert.False(spent)
}

func TestForkAppendLeavesForkOnFailure(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	e := newEnv(t, testConfig())
	f := NewFork(e.v.bc)
	gID, g := e.tip()

	bad := e.propose(t, gID, g, 1, spend(t, 1, 1), newTx(t, testCall{Reject: true}, nil))
	assert.ErrorIs(f.AppendProposal(ctx, e.v.verifier, bad), errRejected)
	assert.Empty(f.Proposals())
	assert.Equal(gID, f.Tip())

	spent, err := f.Overlay().HasNullifier(element(1))
	require.NoError(err)
	assert.False(spent)
	included, err := f.Overlay().Contains(blockchain.BlocksTree, idBytes(bad.ID()))
	require.NoError(err)
	assert.False(included)
}

func idBytes(id ids.ID) []byte { return id[:] }

func TestVerifyHeader(t *testing.T) {
	cfg := testConfig()
	cfg.MinDifficulty = 2
	e := newEnv(t, cfg)
	gID, g := e.tip()
	ctx := context.Background()

	// reseal redoes the work and the signature after [mutate].
	reseal := func(mutate func(*blockchain.Header)) *blockchain.BlockInfo {
		blk := e.propose(t, gID, g, 2)
		mutate(&blk.Header)
		require.NoError(t, seal(ctx, &blk.Header))
		require.NoError(t, blk.Sign(e.producer))
		return blk
	}

	unsealed := e.propose(t, gID, g, 2)
	unsealed.Header.Difficulty = 1 << 40
	unsealed.Header.Nonce = 0
	require.NoError(t, unsealed.Sign(e.producer))

	forged := e.propose(t, gID, g, 2)
	forged.Signature[0] ^= 1

	tests := []struct {
		name   string
		parent blockchain.Header
		blk    *blockchain.BlockInfo
		err    error
	}{
		{"valid", g, e.propose(t, gID, g, 2), nil},
		{"wrong version", g, reseal(func(h *blockchain.Header) { h.Version = 2 }), ErrWrongVersion},
		{"wrong parent", g, reseal(func(h *blockchain.Header) { h.PreviousHash = ids.GenerateTestID() }), ErrUnknownParent},
		{"wrong height", g, reseal(func(h *blockchain.Header) { h.Height = 2 }), ErrInvalidHeight},
		{"before parent", blockchain.Header{Timestamp: testTime.Unix() + 1}, e.propose(t, gID, g, 2), ErrTimestampTooEarly},
		{"too far ahead", g, reseal(func(h *blockchain.Header) { h.Timestamp = testTime.Add(2 * time.Minute).Unix() }), ErrTimestampTooLate},
		{"low difficulty", g, e.propose(t, gID, g, 1), ErrLowDifficulty},
		{"unsealed", g, unsealed, ErrInsufficientWork},
		{"bad signature", g, forged, blockchain.ErrInvalidBlockSignature},
		{"wrong tx root", g, reseal(func(h *blockchain.Header) { h.TxRoot = ids.GenerateTestID() }), blockchain.ErrTxRootMismatch},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := e.v.verifier.VerifyHeader(gID, &test.parent, test.blk)
			assert.ErrorIs(t, err, test.err)
		})
	}
}

func TestSeal(t *testing.T) {
	assert := assert.New(t)

	h := &blockchain.Header{Version: blockchain.BlockVersion, Height: 1, Difficulty: 64}
	assert.NoError(seal(context.Background(), h))
	id, err := h.Hash()
	assert.NoError(err)
	assert.True(blockchain.MeetsDifficulty(id, h.Difficulty))
}

func TestMempool(t *testing.T) {
	assert := assert.New(t)

	m := newMempool(2)
	a, b, c := spend(t, 1, 1), spend(t, 2, 2), spend(t, 3, 3)
	assert.NoError(m.Add(a))
	assert.ErrorIs(m.Add(a), ErrDuplicate)
	assert.NoError(m.Add(b))
	assert.ErrorIs(m.Add(c), ErrMempoolFull)

	assert.True(m.Has(a.ID()))
	assert.Equal([]*blockchain.Transaction{a, b}, m.Pending())

	m.Remove(a.ID(), c.ID())
	assert.False(m.Has(a.ID()))
	assert.Equal(1, m.Len())
	assert.NoError(m.Add(c))
	assert.Equal([]*blockchain.Transaction{b, c}, m.Pending())

	select {
	case <-m.Ready():
	default:
		t.Fatal("mempool did not signal")
	}
}
