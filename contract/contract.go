// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package contract defines how the validator calls into native contracts.
//
// Verifying a call runs in three steps. Metadata tells the validator which
// proofs and signatures to check. Once those verify, Process inspects the
// state and returns an update, the validator applies the nullifiers and
// coins of that update itself, and Apply writes whatever else the contract
// keeps.
package contract

import (
	"github.com/ava-labs/avalanchego/ids"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/zeebo/blake3"

	"github.com/darkrenaissance/darkfi-sub018/blockchain"
	"github.com/darkrenaissance/darkfi-sub018/zkas"
)

const contractDomain = "darkfi:contract:"

// ContractID derives the id of the contract called [name].
func ContractID(name string) ids.ID {
	return ids.ID(blake3.Sum256([]byte(contractDomain + name)))
}

// FunctionID derives the id of function [fn] of [contractID].
func FunctionID(contractID ids.ID, fn string) ids.ID {
	return ids.ID(blake3.Sum256(append(contractID[:], fn...)))
}

// CallContext locates the call being verified.
type CallContext struct {
	Tx       *blockchain.Transaction
	Index    int
	Function string
	// Height of the block the transaction is verified for.
	Height uint64
}

func (c *CallContext) Call() *blockchain.ContractCall {
	return &c.Tx.Calls[c.Index]
}

// ZkInput names a circuit and the public inputs one proof must verify with.
type ZkInput struct {
	Namespace    string
	PublicInputs []fr.Element
}

// Metadata lists, in order, the proofs and signatures a call must carry.
type Metadata struct {
	ZkPublicInputs []ZkInput
	// SignaturePublicKeys are 32-byte BIP-340 public keys.
	SignaturePublicKeys [][]byte
}

// StateUpdate is what a call changes. The validator inserts Nullifiers,
// rejecting any already spent, and appends Coins to the commitment tree.
// Payload is handed back to the contract's Apply.
type StateUpdate struct {
	Nullifiers []fr.Element
	Coins      []fr.Element
	Payload    []byte
}

// State is the view of the chain a contract reads and writes.
type State interface {
	HasNullifier(nullifier fr.Element) (bool, error)
	HasMerkleRoot(root fr.Element) (bool, error)
	Contains(tree string, key []byte) (bool, error)
	Get(tree string, keys [][]byte, strict bool) ([][]byte, error)
	Insert(tree string, keys, values [][]byte) error
	Remove(tree string, keys [][]byte) error
}

// Contract is a native contract.
type Contract interface {
	Name() string
	Functions() []string
	// Circuits returns every circuit the contract's proofs are made for.
	Circuits() []*zkas.ZkBinary

	Metadata(ctx *CallContext) (*Metadata, error)
	Process(ctx *CallContext, st State) (*StateUpdate, error)
	Apply(ctx *CallContext, st State, up *StateUpdate) error
}
