// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package client

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkrenaissance/darkfi-sub018/blockchain"
	"github.com/darkrenaissance/darkfi-sub018/contract"
	"github.com/darkrenaissance/darkfi-sub018/p2p"
	"github.com/darkrenaissance/darkfi-sub018/validator"
	"github.com/darkrenaissance/darkfi-sub018/zk"
)

func TestClient(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	genesis, err := blockchain.Genesis(0, nil)
	require.NoError(err)
	bc, err := blockchain.New(memdb.New(), genesis, nil)
	require.NoError(err)
	peer, err := p2p.NewHub().Join(ids.GenerateTestShortID(), p2p.DefaultInboxSize)
	require.NoError(err)

	cfg := validator.DefaultConfig()
	cfg.FinalizationThreshold = 1
	v, err := validator.New(cfg, bc, contract.NewRegistry(), zk.NewKeyCache(), peer, prometheus.NewRegistry())
	require.NoError(err)
	handler, err := validator.NewHandler(v)
	require.NoError(err)
	server := httptest.NewServer(handler)
	defer server.Close()

	cli := New(server.URL)

	last, err := cli.GetBlock(ctx, ids.Empty)
	require.NoError(err)
	assert.Equal(genesis.ID(), last.ID)

	byHeight, err := cli.GetBlockByHeight(ctx, 0)
	require.NoError(err)
	assert.Equal(genesis.ID(), byHeight.ID)

	_, err = cli.GetBlockByHeight(ctx, 1)
	assert.Error(err)

	// No contract is registered, so any call is rejected.
	tx := &blockchain.Transaction{
		Calls:  []blockchain.ContractCall{{ContractID: contract.ContractID("Money")}},
		Proofs: [][][]byte{nil},
	}
	require.NoError(tx.Sign([][]*btcec.PrivateKey{nil}))
	_, err = cli.SubmitTransaction(ctx, tx)
	assert.Error(err)

	forks, err := cli.Forks(ctx)
	require.NoError(err)
	assert.Empty(forks.Mempool)

	blk, err := v.BuildProposal(ctx, mustKey(t))
	require.NoError(err)
	require.NoError(v.AppendProposal(ctx, blk))

	last, err = cli.GetBlock(ctx, ids.Empty)
	require.NoError(err)
	assert.Equal(blk.ID(), last.ID)
	assert.Equal(genesis.ID(), last.Header.PreviousHash)

	_, err = cli.GetTransaction(ctx, ids.GenerateTestID())
	assert.Error(err)
}

func mustKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return key
}
