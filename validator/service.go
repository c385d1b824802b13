// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package validator

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/formatting"
	"github.com/gorilla/rpc/v2"

	cjson "github.com/ava-labs/avalanchego/utils/json"

	"github.com/darkrenaissance/darkfi-sub018/blockchain"
)

// ServiceName is the name the RPC methods are registered under.
const ServiceName = "darkfid"

var errNoTransaction = errors.New("no transaction given")

// Service is the JSON-RPC API of a validator.
type Service struct{ v *Validator }

// NewHandler serves [v]'s API.
func NewHandler(v *Validator) (http.Handler, error) {
	server := rpc.NewServer()
	codec := cjson.NewCodec()
	server.RegisterCodec(codec, "application/json")
	server.RegisterCodec(codec, "application/json;charset=UTF-8")
	return server, server.RegisterService(&Service{v: v}, ServiceName)
}

type EmptyArgs struct{}

// BlockArgs picks a block by id. The empty id picks the last block.
type BlockArgs struct {
	ID ids.ID `json:"id"`
}

type HeightArgs struct {
	Height cjson.Uint64 `json:"height"`
}

// BlockReply is a finalized block.
type BlockReply struct {
	ID     ids.ID            `json:"id"`
	Header blockchain.Header `json:"header"`
	Txs    []ids.ID          `json:"txs"`
}

func blockReply(blk *blockchain.Block, reply *BlockReply) {
	reply.ID = blk.ID()
	reply.Header = blk.Header
	reply.Txs = blk.Txs
}

// GetBlock returns the finalized block [args.ID].
func (s *Service) GetBlock(_ *http.Request, args *BlockArgs, reply *BlockReply) error {
	if args.ID == ids.Empty {
		blockReply(s.v.bc.LastBlock(), reply)
		return nil
	}
	blk, err := s.v.bc.GetBlock(args.ID)
	if err != nil {
		return fmt.Errorf("couldn't get block %s: %w", args.ID, err)
	}
	blockReply(blk, reply)
	return nil
}

// GetBlockByHeight returns the finalized block at [args.Height].
func (s *Service) GetBlockByHeight(_ *http.Request, args *HeightArgs, reply *BlockReply) error {
	blk, err := s.v.bc.GetBlockByHeight(uint64(args.Height))
	if err != nil {
		return fmt.Errorf("couldn't get block at height %d: %w", args.Height, err)
	}
	blockReply(blk, reply)
	return nil
}

// LastBlock returns the last finalized block.
func (s *Service) LastBlock(_ *http.Request, _ *EmptyArgs, reply *BlockReply) error {
	blockReply(s.v.bc.LastBlock(), reply)
	return nil
}

type TransactionArgs struct {
	// Tx is the encoded transaction.
	Tx       string              `json:"tx"`
	Encoding formatting.Encoding `json:"encoding"`
}

type TransactionReply struct {
	TxID ids.ID `json:"txID"`
}

// SubmitTransaction verifies a transaction and adds it to the mempool.
func (s *Service) SubmitTransaction(r *http.Request, args *TransactionArgs, reply *TransactionReply) error {
	if args.Tx == "" {
		return errNoTransaction
	}
	bytes, err := formatting.Decode(args.Encoding, args.Tx)
	if err != nil {
		return fmt.Errorf("couldn't decode transaction: %w", err)
	}
	tx, err := blockchain.ParseTransaction(bytes)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if r != nil {
		ctx = r.Context()
	}
	if err := s.v.AppendTx(ctx, tx); err != nil {
		return err
	}
	reply.TxID = tx.ID()
	return nil
}

// GetTransactionReply carries an encoded finalized transaction.
type GetTransactionReply struct {
	Tx       string              `json:"tx"`
	Encoding formatting.Encoding `json:"encoding"`
}

type TxIDArgs struct {
	TxID     ids.ID              `json:"txID"`
	Encoding formatting.Encoding `json:"encoding"`
}

// GetTransaction returns a finalized transaction.
func (s *Service) GetTransaction(_ *http.Request, args *TxIDArgs, reply *GetTransactionReply) error {
	tx, err := s.v.bc.GetTransaction(args.TxID)
	if err != nil {
		return fmt.Errorf("couldn't get transaction %s: %w", args.TxID, err)
	}
	reply.Tx, err = formatting.Encode(args.Encoding, tx.Bytes())
	reply.Encoding = args.Encoding
	return err
}

type ForksReply struct {
	Forks   []ForkInfo `json:"forks"`
	Mempool []ids.ID   `json:"mempool"`
}

// Forks returns the forks being tracked and the mempool.
func (s *Service) Forks(_ *http.Request, _ *EmptyArgs, reply *ForksReply) error {
	reply.Forks = s.v.Forks()
	reply.Mempool = s.v.MempoolTxs()
	return nil
}
