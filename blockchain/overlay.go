// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package blockchain

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/wrappers"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/darkrenaissance/darkfi-sub018/merkle"
)

var (
	ErrNullifierExists = errors.New("nullifier already exists")
	ErrBatchMismatch   = errors.New("keys and values differ in length")

	errNilKey      = errors.New("nil key")
	errNotNested   = errors.New("overlay has no parent overlay")
	errNoLastBlock = errors.New("no last block recorded")

	_ Reader = (*Overlay)(nil)
	_ Reader = (*Blockchain)(nil)
)

// Reader is the read side shared by the canonical store and overlays, so an
// overlay can sit on top of either.
type Reader interface {
	get(tree string, key []byte) ([]byte, error)
	loadMerkleTree() (*merkle.Tree, error)
}

// delta holds the pending writes of one tree.
type delta struct {
	puts    *memdb.Database
	removed map[string]struct{}
}

func newDelta() *delta {
	return &delta{
		puts:    memdb.New(),
		removed: make(map[string]struct{}),
	}
}

func (d *delta) put(key, value []byte) error {
	delete(d.removed, string(key))
	return d.puts.Put(key, value)
}

func (d *delta) remove(key []byte) error {
	d.removed[string(key)] = struct{}{}
	return d.puts.Delete(key)
}

func (d *delta) clone() (*delta, error) {
	c := newDelta()
	it := d.puts.NewIterator()
	defer it.Release()
	for it.Next() {
		if err := c.puts.Put(it.Key(), it.Value()); err != nil {
			return nil, err
		}
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	for k := range d.removed {
		c.removed[k] = struct{}{}
	}
	return c, nil
}

// Overlay is a writable, uncommitted view over a Reader. Reads fall through
// to the base unless the key was written or removed in this overlay. Nothing
// reaches the base until the overlay is merged (or committed into its parent
// overlay).
type Overlay struct {
	lock sync.RWMutex

	base   Reader
	deltas map[string]*delta

	// nil until the merkle tree is first touched
	tree      *merkle.Tree
	treeDirty bool
}

func NewOverlay(base Reader) *Overlay {
	return &Overlay{
		base:   base,
		deltas: make(map[string]*delta),
	}
}

func (o *Overlay) delta(tree string) *delta {
	d, ok := o.deltas[tree]
	if !ok {
		d = newDelta()
		o.deltas[tree] = d
	}
	return d
}

func (o *Overlay) get(tree string, key []byte) ([]byte, error) {
	o.lock.RLock()
	defer o.lock.RUnlock()

	return o.getLocked(tree, key)
}

func (o *Overlay) getLocked(tree string, key []byte) ([]byte, error) {
	if d, ok := o.deltas[tree]; ok {
		value, err := d.puts.Get(key)
		if err == nil {
			return value, nil
		}
		if err != database.ErrNotFound {
			return nil, storageError(err)
		}
		if _, removed := d.removed[string(key)]; removed {
			return nil, database.ErrNotFound
		}
	}
	return o.base.get(tree, key)
}

func (o *Overlay) hasLocked(tree string, key []byte) (bool, error) {
	_, err := o.getLocked(tree, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, database.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Insert writes every (key, value) pair or none of them.
func (o *Overlay) Insert(tree string, keys, values [][]byte) error {
	if len(keys) != len(values) {
		return fmt.Errorf("%w: %d keys, %d values", ErrBatchMismatch, len(keys), len(values))
	}
	for _, key := range keys {
		if key == nil {
			return errNilKey
		}
	}

	o.lock.Lock()
	defer o.lock.Unlock()

	if immutable(tree) {
		seen := make(map[string]struct{}, len(keys))
		for _, key := range keys {
			if _, dup := seen[string(key)]; dup {
				return fmt.Errorf("%w: duplicate key %x in %s", ErrImmutableTree, key, tree)
			}
			seen[string(key)] = struct{}{}
			exists, err := o.hasLocked(tree, key)
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("%w: key %x already in %s", ErrImmutableTree, key, tree)
			}
		}
	}
	return o.insertLocked(tree, keys, values)
}

func (o *Overlay) insertLocked(tree string, keys, values [][]byte) error {
	d := o.delta(tree)
	for i, key := range keys {
		value := values[i]
		if value == nil {
			value = []byte{}
		}
		if err := d.put(key, value); err != nil {
			return fmt.Errorf("failed to insert key %x into %s: %w", key, tree, storageError(err))
		}
	}
	return nil
}

// InsertValues serializes every value with the codec before writing. If any
// value fails to serialize, nothing is written.
func (o *Overlay) InsertValues(tree string, keys [][]byte, values []interface{}) error {
	if len(keys) != len(values) {
		return fmt.Errorf("%w: %d keys, %d values", ErrBatchMismatch, len(keys), len(values))
	}
	encoded := make([][]byte, len(values))
	for i, value := range values {
		bytes, err := Codec.Marshal(CodecVersion, value)
		if err != nil {
			return fmt.Errorf("failed to serialize value %d for %s: %w", i, tree, err)
		}
		encoded[i] = bytes
	}
	return o.Insert(tree, keys, encoded)
}

// Get returns the value of every key in order. When [strict] is set a missing
// key fails the whole call with ErrNotFound; otherwise its slot is nil.
func (o *Overlay) Get(tree string, keys [][]byte, strict bool) ([][]byte, error) {
	o.lock.RLock()
	defer o.lock.RUnlock()

	values := make([][]byte, len(keys))
	for i, key := range keys {
		value, err := o.getLocked(tree, key)
		switch {
		case err == nil:
			values[i] = value
		case errors.Is(err, database.ErrNotFound):
			if strict {
				return nil, fmt.Errorf("%w: key %x in %s", ErrNotFound, key, tree)
			}
		default:
			return nil, err
		}
	}
	return values, nil
}

// GetValue decodes the value stored under [key] into [dst].
func (o *Overlay) GetValue(tree string, key []byte, dst interface{}) error {
	value, err := o.get(tree, key)
	if err != nil {
		return err
	}
	_, err = Codec.Unmarshal(value, dst)
	return err
}

func (o *Overlay) Contains(tree string, key []byte) (bool, error) {
	o.lock.RLock()
	defer o.lock.RUnlock()

	return o.hasLocked(tree, key)
}

// Remove deletes [keys] from the effective view of [tree].
func (o *Overlay) Remove(tree string, keys [][]byte) error {
	if immutable(tree) {
		return fmt.Errorf("%w: %s", ErrImmutableTree, tree)
	}

	o.lock.Lock()
	defer o.lock.Unlock()

	d := o.delta(tree)
	for _, key := range keys {
		if err := d.remove(key); err != nil {
			return storageError(err)
		}
	}
	return nil
}

// AddNullifiers records [nullifiers] as spent by [txID]. If any of them is
// already spent, or appears twice, nothing is written.
func (o *Overlay) AddNullifiers(nullifiers []fr.Element, txID ids.ID) error {
	o.lock.Lock()
	defer o.lock.Unlock()

	keys := make([][]byte, len(nullifiers))
	values := make([][]byte, len(nullifiers))
	seen := make(map[fr.Element]struct{}, len(nullifiers))
	for i := range nullifiers {
		n := nullifiers[i]
		if _, dup := seen[n]; dup {
			return fmt.Errorf("%w: %s repeated", ErrNullifierExists, n.Text(16))
		}
		seen[n] = struct{}{}

		key := n.Bytes()
		exists, err := o.hasLocked(NullifiersTree, key[:])
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrNullifierExists, n.Text(16))
		}
		keys[i] = key[:]
		values[i] = txID[:]
	}
	return o.insertLocked(NullifiersTree, keys, values)
}

func (o *Overlay) HasNullifier(nullifier fr.Element) (bool, error) {
	key := nullifier.Bytes()
	return o.Contains(NullifiersTree, key[:])
}

func (o *Overlay) HasMerkleRoot(root fr.Element) (bool, error) {
	key := root.Bytes()
	return o.Contains(MerkleRootsTree, key[:])
}

func (o *Overlay) ensureTreeLocked() error {
	if o.tree != nil {
		return nil
	}
	tree, err := o.base.loadMerkleTree()
	if err != nil {
		return err
	}
	o.tree = tree
	return nil
}

// AppendCoins appends [coins] to the commitment tree and records every root
// produced on the way. Either all coins are appended or none.
func (o *Overlay) AppendCoins(coins []fr.Element) error {
	if len(coins) == 0 {
		return nil
	}

	o.lock.Lock()
	defer o.lock.Unlock()

	if err := o.ensureTreeLocked(); err != nil {
		return err
	}
	tree := o.tree.Clone()
	keys := make([][]byte, len(coins))
	values := make([][]byte, len(coins))
	for i := range coins {
		root, err := tree.Append(coins[i])
		if err != nil {
			return err
		}
		key := root.Bytes()
		keys[i] = key[:]
		values[i] = heightKey(tree.Size())
	}
	if err := o.insertLocked(MerkleRootsTree, keys, values); err != nil {
		return err
	}
	o.tree = tree
	o.treeDirty = true
	return nil
}

// MerkleRoot returns the current root of the commitment tree.
func (o *Overlay) MerkleRoot() (fr.Element, error) {
	tree, err := o.loadMerkleTree()
	if err != nil {
		return fr.Element{}, err
	}
	return tree.Root(), nil
}

func (o *Overlay) loadMerkleTree() (*merkle.Tree, error) {
	o.lock.RLock()
	defer o.lock.RUnlock()

	if o.tree != nil {
		return o.tree.Clone(), nil
	}
	return o.base.loadMerkleTree()
}

// PutBlock stores [blk], its transactions and its height index, and makes it
// the last block of this view.
func (o *Overlay) PutBlock(blk *BlockInfo) error {
	blkBytes, err := Codec.Marshal(CodecVersion, blk.Block())
	if err != nil {
		return fmt.Errorf("failed to marshal block %s: %w", blk.ID(), err)
	}

	o.lock.Lock()
	defer o.lock.Unlock()

	blkID := blk.ID()
	errs := wrappers.Errs{}
	errs.Add(
		o.delta(BlocksTree).put(blkID[:], blkBytes),
		o.delta(HeightsTree).put(heightKey(blk.Height()), blkID[:]),
		o.delta(InfoTree).put(lastBlockKey, blkID[:]),
	)
	for _, tx := range blk.Txs {
		txID := tx.ID()
		errs.Add(o.delta(TxsTree).put(txID[:], tx.Bytes()))
	}
	return errs.Err
}

// GetBlock reads a block through the overlay.
func (o *Overlay) GetBlock(blkID ids.ID) (*Block, error) {
	bytes, err := o.get(BlocksTree, blkID[:])
	if err != nil {
		return nil, err
	}
	return parseBlock(bytes)
}

// LastBlock returns the most recent block of this view.
func (o *Overlay) LastBlock() (*Block, error) {
	idBytes, err := o.get(InfoTree, lastBlockKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errNoLastBlock, err)
	}
	blkID, err := ids.ToID(idBytes)
	if err != nil {
		return nil, err
	}
	return o.GetBlock(blkID)
}

// FullClone returns an independent copy of the overlay on the same base.
func (o *Overlay) FullClone() (*Overlay, error) {
	o.lock.RLock()
	defer o.lock.RUnlock()

	c := NewOverlay(o.base)
	for name, d := range o.deltas {
		cd, err := d.clone()
		if err != nil {
			return nil, fmt.Errorf("failed to clone tree %s: %w", name, err)
		}
		c.deltas[name] = cd
	}
	if o.tree != nil {
		c.tree = o.tree.Clone()
	}
	c.treeDirty = o.treeDirty
	return c, nil
}

// Child returns an empty overlay on top of this one. Its writes become
// visible here only through Commit.
func (o *Overlay) Child() *Overlay {
	return NewOverlay(o)
}

// Commit moves every pending write of a child overlay into its parent and
// resets the child.
func (o *Overlay) Commit() error {
	parent, ok := o.base.(*Overlay)
	if !ok {
		return errNotNested
	}

	o.lock.Lock()
	defer o.lock.Unlock()
	parent.lock.Lock()
	defer parent.lock.Unlock()

	for name, d := range o.deltas {
		pd := parent.delta(name)
		for key := range d.removed {
			if err := pd.remove([]byte(key)); err != nil {
				return err
			}
		}
		it := d.puts.NewIterator()
		for it.Next() {
			if err := pd.put(it.Key(), it.Value()); err != nil {
				it.Release()
				return err
			}
		}
		err := it.Error()
		it.Release()
		if err != nil {
			return err
		}
	}
	if o.treeDirty {
		parent.tree = o.tree
		parent.treeDirty = true
	}

	o.deltas = make(map[string]*delta)
	o.tree = nil
	o.treeDirty = false
	return nil
}
