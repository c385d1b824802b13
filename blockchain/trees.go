// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package blockchain

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/wrappers"
)

// Names of the trees every node keeps. Contracts get their own trees through
// ContractTree.
const (
	BlocksTree      = "blocks"
	HeightsTree     = "heights"
	TxsTree         = "txs"
	NullifiersTree  = "nullifiers"
	MerkleRootsTree = "merkle_roots"
	MerkleTree      = "frontier"
	InfoTree        = "info"
)

var (
	ErrNotFound      = database.ErrNotFound
	ErrImmutableTree = errors.New("tree is insert-only")
	// ErrStorage marks a failure of the underlying database, as opposed to
	// a missing key.
	ErrStorage = errors.New("storage failure")

	lastBlockKey  = []byte("last")
	merkleTreeKey = []byte("tree")
)

func storageError(err error) error {
	if err == nil || errors.Is(err, database.ErrNotFound) || errors.Is(err, ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}

// ContractTree names the tree [name] owned by [contractID].
func ContractTree(contractID ids.ID, name string) string {
	return "contract/" + contractID.String() + "/" + name
}

func immutable(tree string) bool {
	return tree == NullifiersTree || tree == MerkleRootsTree
}

func heightKey(height uint64) []byte {
	key := make([]byte, wrappers.LongLen)
	binary.BigEndian.PutUint64(key, height)
	return key
}
