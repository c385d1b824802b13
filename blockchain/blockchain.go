// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package blockchain

import (
	"errors"
	"fmt"
	"sync"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/avalanchego/cache"
	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/prefixdb"
	"github.com/ava-labs/avalanchego/database/versiondb"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/darkrenaissance/darkfi-sub018/merkle"
)

const blockCacheSize = 8192

var (
	ErrGenesisMismatch = errors.New("stored genesis differs from configured genesis")
	ErrMerge           = errors.New("failed to merge overlay")

	errForeignOverlay = errors.New("overlay is not based on this blockchain")
)

// Blockchain is the canonical, finalized chain state. Every tree lives under
// its own prefix of a single versioned database so that a whole overlay is
// written with one commit.
type Blockchain struct {
	log log.Logger

	// lock is held for writing only while an overlay is merged.
	lock sync.RWMutex
	db   *versiondb.Database

	treesLock sync.Mutex
	trees     map[string]database.Database

	blkCache cache.Cacher
	last     *Block
	tree     *merkle.Tree
}

// New opens the chain stored in [db]. An empty database is initialized with
// [genesis] and its initial [coins]; a non-empty one must hold the same
// genesis block.
func New(db database.Database, genesis *BlockInfo, coins []fr.Element) (*Blockchain, error) {
	bc := &Blockchain{
		log:      log.New("module", "blockchain"),
		db:       versiondb.New(db),
		trees:    make(map[string]database.Database),
		blkCache: &cache.LRU{Size: blockCacheSize},
	}

	_, err := bc.treeDB(InfoTree).Get(lastBlockKey)
	switch {
	case err == database.ErrNotFound:
		if err := bc.initGenesis(genesis, coins); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if err := bc.load(genesis); err != nil {
			return nil, err
		}
	}
	return bc, nil
}

func (bc *Blockchain) initGenesis(genesis *BlockInfo, coins []fr.Element) error {
	leaves := make([]ids.ID, len(coins))
	for i := range coins {
		leaves[i] = ids.ID(coins[i].Bytes())
	}
	if MerkleRoot(leaves) != genesis.Header.TxRoot {
		return fmt.Errorf("%w: initial coins do not match genesis root", ErrGenesisMismatch)
	}

	bc.tree = merkle.New()
	ov := NewOverlay(bc)
	if err := ov.PutBlock(genesis); err != nil {
		return err
	}
	if err := ov.AppendCoins(coins); err != nil {
		return err
	}
	if err := bc.Merge(ov); err != nil {
		return fmt.Errorf("error while saving genesis block: %w", err)
	}
	bc.log.Info("initialized genesis", "id", genesis.ID(), "coins", len(coins))
	return nil
}

func (bc *Blockchain) load(genesis *BlockInfo) error {
	stored, err := bc.GetBlockByHeight(0)
	if err != nil {
		return fmt.Errorf("couldn't get genesis block: %w", err)
	}
	if stored.ID() != genesis.ID() {
		return fmt.Errorf("%w: stored %s, configured %s", ErrGenesisMismatch, stored.ID(), genesis.ID())
	}

	idBytes, err := bc.treeDB(InfoTree).Get(lastBlockKey)
	if err != nil {
		return err
	}
	lastID, err := ids.ToID(idBytes)
	if err != nil {
		return err
	}
	last, err := bc.GetBlock(lastID)
	if err != nil {
		return fmt.Errorf("couldn't get last block %s: %w", lastID, err)
	}

	treeBytes, err := bc.treeDB(MerkleTree).Get(merkleTreeKey)
	if err != nil {
		return fmt.Errorf("couldn't get merkle tree: %w", err)
	}
	tree := merkle.New()
	if err := tree.UnmarshalBinary(treeBytes); err != nil {
		return err
	}

	bc.last = last
	bc.tree = tree
	bc.log.Info("loaded blockchain", "height", last.Height(), "last", lastID)
	return nil
}

func (bc *Blockchain) treeDB(tree string) database.Database {
	bc.treesLock.Lock()
	defer bc.treesLock.Unlock()

	db, ok := bc.trees[tree]
	if !ok {
		db = prefixdb.New([]byte(tree), bc.db)
		bc.trees[tree] = db
	}
	return db
}

func (bc *Blockchain) get(tree string, key []byte) ([]byte, error) {
	bc.lock.RLock()
	defer bc.lock.RUnlock()

	value, err := bc.treeDB(tree).Get(key)
	return value, storageError(err)
}

func (bc *Blockchain) loadMerkleTree() (*merkle.Tree, error) {
	bc.lock.RLock()
	defer bc.lock.RUnlock()

	return bc.tree.Clone(), nil
}

// Contains reports whether [key] is present in the canonical [tree].
func (bc *Blockchain) Contains(tree string, key []byte) (bool, error) {
	bc.lock.RLock()
	defer bc.lock.RUnlock()

	has, err := bc.treeDB(tree).Has(key)
	return has, storageError(err)
}

func (bc *Blockchain) GetBlock(blkID ids.ID) (*Block, error) {
	if blk, ok := bc.blkCache.Get(blkID); ok {
		return blk.(*Block), nil
	}

	bytes, err := bc.get(BlocksTree, blkID[:])
	if err != nil {
		return nil, err
	}
	blk, err := parseBlock(bytes)
	if err != nil {
		return nil, err
	}
	bc.blkCache.Put(blkID, blk)
	return blk, nil
}

func (bc *Blockchain) GetBlockByHeight(height uint64) (*Block, error) {
	idBytes, err := bc.get(HeightsTree, heightKey(height))
	if err != nil {
		return nil, err
	}
	blkID, err := ids.ToID(idBytes)
	if err != nil {
		return nil, err
	}
	return bc.GetBlock(blkID)
}

func (bc *Blockchain) GetTransaction(txID ids.ID) (*Transaction, error) {
	bytes, err := bc.get(TxsTree, txID[:])
	if err != nil {
		return nil, err
	}
	return ParseTransaction(bytes)
}

// LastBlock returns the tip of the canonical chain.
func (bc *Blockchain) LastBlock() *Block {
	bc.lock.RLock()
	defer bc.lock.RUnlock()

	return bc.last
}

func (bc *Blockchain) Height() uint64 {
	return bc.LastBlock().Height()
}

func (bc *Blockchain) HasNullifier(nullifier fr.Element) (bool, error) {
	key := nullifier.Bytes()
	return bc.Contains(NullifiersTree, key[:])
}

func (bc *Blockchain) HasMerkleRoot(root fr.Element) (bool, error) {
	key := root.Bytes()
	return bc.Contains(MerkleRootsTree, key[:])
}

// MerkleRoot returns the canonical commitment tree root.
func (bc *Blockchain) MerkleRoot() fr.Element {
	bc.lock.RLock()
	defer bc.lock.RUnlock()

	return bc.tree.Root()
}

// Merge writes every pending change of [ov] and commits them at once. If any
// write or the commit fails the canonical state is left untouched.
func (bc *Blockchain) Merge(ov *Overlay) error {
	if base, ok := ov.base.(*Blockchain); !ok || base != bc {
		return errForeignOverlay
	}

	ov.lock.RLock()
	defer ov.lock.RUnlock()

	bc.lock.Lock()
	defer bc.lock.Unlock()

	// Abort clears anything left uncommitted by a failed merge.
	defer bc.db.Abort()

	last, err := bc.writeOverlay(ov)
	if err != nil {
		bc.blkCache.Flush()
		return fmt.Errorf("%w: %v", ErrMerge, err)
	}
	if err := bc.db.Commit(); err != nil {
		bc.blkCache.Flush()
		return fmt.Errorf("%w: failed to commit: %v", ErrMerge, err)
	}

	if ov.treeDirty {
		bc.tree = ov.tree.Clone()
	}
	if last != nil {
		bc.last = last
	}
	return nil
}

// writeOverlay stages the overlay into the versioned database and returns
// the new last block, if the overlay set one.
func (bc *Blockchain) writeOverlay(ov *Overlay) (*Block, error) {
	for name, d := range ov.deltas {
		db := bc.treeDB(name)
		for key := range d.removed {
			if err := db.Delete([]byte(key)); err != nil {
				return nil, fmt.Errorf("failed to delete %x from %s: %w", key, name, err)
			}
		}
		it := d.puts.NewIterator()
		for it.Next() {
			if err := db.Put(it.Key(), it.Value()); err != nil {
				it.Release()
				return nil, fmt.Errorf("failed to put %x into %s: %w", it.Key(), name, err)
			}
		}
		err := it.Error()
		it.Release()
		if err != nil {
			return nil, err
		}
	}

	if ov.treeDirty {
		treeBytes, err := ov.tree.MarshalBinary()
		if err != nil {
			return nil, err
		}
		if err := bc.treeDB(MerkleTree).Put(merkleTreeKey, treeBytes); err != nil {
			return nil, fmt.Errorf("failed to put merkle tree: %w", err)
		}
	}

	d, ok := ov.deltas[InfoTree]
	if !ok {
		return nil, nil
	}
	idBytes, err := d.puts.Get(lastBlockKey)
	if err == database.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	bd, ok := ov.deltas[BlocksTree]
	if !ok {
		return nil, fmt.Errorf("last block %x missing from overlay", idBytes)
	}
	blkBytes, err := bd.puts.Get(idBytes)
	if err != nil {
		return nil, fmt.Errorf("last block %x missing from overlay: %w", idBytes, err)
	}
	return parseBlock(blkBytes)
}

// Close closes the underlying database.
func (bc *Blockchain) Close() error {
	bc.lock.Lock()
	defer bc.lock.Unlock()

	return bc.db.Close()
}
