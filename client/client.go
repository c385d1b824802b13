// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package client

import (
	"context"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/formatting"
	"github.com/ava-labs/avalanchego/utils/rpc"

	cjson "github.com/ava-labs/avalanchego/utils/json"

	"github.com/darkrenaissance/darkfi-sub018/blockchain"
	"github.com/darkrenaissance/darkfi-sub018/validator"
)

// Client defines darkfid client operations.
type Client interface {
	// SubmitTransaction sends a transaction to the node's mempool
	SubmitTransaction(ctx context.Context, tx *blockchain.Transaction) (ids.ID, error)

	// GetBlock fetches a finalized block. The empty id fetches the last one.
	GetBlock(ctx context.Context, blkID ids.ID) (*validator.BlockReply, error)

	GetBlockByHeight(ctx context.Context, height uint64) (*validator.BlockReply, error)

	// GetTransaction fetches a finalized transaction
	GetTransaction(ctx context.Context, txID ids.ID) (*blockchain.Transaction, error)

	// Forks returns the forks and mempool of the node
	Forks(ctx context.Context) (*validator.ForksReply, error)
}

// New creates a new client object.
func New(uri string) Client {
	req := rpc.NewEndpointRequester(uri)
	return &client{req: req}
}

type client struct {
	req rpc.EndpointRequester
}

func method(name string) string { return validator.ServiceName + "." + name }

func (cli *client) SubmitTransaction(ctx context.Context, tx *blockchain.Transaction) (ids.ID, error) {
	bytes, err := formatting.Encode(formatting.Hex, tx.Bytes())
	if err != nil {
		return ids.Empty, err
	}

	resp := new(validator.TransactionReply)
	err = cli.req.SendRequest(ctx,
		method("submitTransaction"),
		&validator.TransactionArgs{Tx: bytes, Encoding: formatting.Hex},
		resp,
	)
	return resp.TxID, err
}

func (cli *client) GetBlock(ctx context.Context, blkID ids.ID) (*validator.BlockReply, error) {
	resp := new(validator.BlockReply)
	err := cli.req.SendRequest(ctx,
		method("getBlock"),
		&validator.BlockArgs{ID: blkID},
		resp,
	)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (cli *client) GetBlockByHeight(ctx context.Context, height uint64) (*validator.BlockReply, error) {
	resp := new(validator.BlockReply)
	err := cli.req.SendRequest(ctx,
		method("getBlockByHeight"),
		&validator.HeightArgs{Height: cjson.Uint64(height)},
		resp,
	)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (cli *client) GetTransaction(ctx context.Context, txID ids.ID) (*blockchain.Transaction, error) {
	resp := new(validator.GetTransactionReply)
	err := cli.req.SendRequest(ctx,
		method("getTransaction"),
		&validator.TxIDArgs{TxID: txID, Encoding: formatting.Hex},
		resp,
	)
	if err != nil {
		return nil, err
	}
	bytes, err := formatting.Decode(formatting.Hex, resp.Tx)
	if err != nil {
		return nil, err
	}
	return blockchain.ParseTransaction(bytes)
}

func (cli *client) Forks(ctx context.Context) (*validator.ForksReply, error) {
	resp := new(validator.ForksReply)
	err := cli.req.SendRequest(ctx,
		method("forks"),
		&validator.EmptyArgs{},
		resp,
	)
	if err != nil {
		return nil, err
	}
	return resp, nil
}
