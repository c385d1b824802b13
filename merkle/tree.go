// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package merkle implements the append-only commitment tree that anchors
// coins. Nodes are hashed with Poseidon2 over the BN254 scalar field so the
// same roots can be recomputed inside a circuit.
package merkle

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/poseidon2"
)

// Depth is the number of levels between a leaf and the root.
const Depth = 32

const encodedLen = 8 + Depth*fr.Bytes + fr.Bytes

var (
	ErrTreeFull           = errors.New("merkle tree is full")
	ErrPositionOutOfRange = errors.New("leaf position out of range")
	ErrLeavesNotRetained  = errors.New("tree does not retain leaves")
	errInvalidEncoding    = errors.New("invalid merkle tree encoding")

	// emptyRoots[i] is the root of an empty subtree of height i.
	emptyRoots [Depth + 1]fr.Element
)

func init() {
	for i := 1; i <= Depth; i++ {
		emptyRoots[i] = HashNode(emptyRoots[i-1], emptyRoots[i-1])
	}
}

// Hash is the Poseidon2 Merkle-Damgard hash of [in]. It matches the
// poseidon_hash opcode of the zk virtual machine.
func Hash(in ...fr.Element) fr.Element {
	h := poseidon2.NewMerkleDamgardHasher()
	for i := range in {
		b := in[i].Bytes()
		_, _ = h.Write(b[:])
	}
	var out fr.Element
	out.SetBytes(h.Sum(nil))
	return out
}

// HashNode combines two children into their parent.
func HashNode(left, right fr.Element) fr.Element {
	return Hash(left, right)
}

// EmptyRoot returns the root of a tree without leaves.
func EmptyRoot() fr.Element {
	return emptyRoots[Depth]
}

// ComputeRoot folds [leaf] up the authentication [path] at position [pos].
func ComputeRoot(pos uint32, path [Depth]fr.Element, leaf fr.Element) fr.Element {
	cur := leaf
	for level := 0; level < Depth; level++ {
		if (pos>>level)&1 == 1 {
			cur = HashNode(path[level], cur)
		} else {
			cur = HashNode(cur, path[level])
		}
	}
	return cur
}

// Tree is an incremental Merkle tree. Only the frontier is kept unless the
// tree was created with NewWithLeaves, in which case every leaf is kept and
// authentication paths can be produced.
type Tree struct {
	size     uint64
	frontier [Depth]fr.Element
	root     fr.Element

	retain bool
	leaves []fr.Element
}

func New() *Tree {
	return &Tree{root: emptyRoots[Depth]}
}

// NewWithLeaves returns a tree that keeps its leaves for Path.
func NewWithLeaves() *Tree {
	return &Tree{root: emptyRoots[Depth], retain: true}
}

func (t *Tree) Size() uint64     { return t.size }
func (t *Tree) Root() fr.Element { return t.root }

// Append adds [leaf] at the next free position and returns the new root.
func (t *Tree) Append(leaf fr.Element) (fr.Element, error) {
	if t.size == 1<<Depth {
		return fr.Element{}, ErrTreeFull
	}

	idx := t.size
	cur := leaf
	for level := 0; level < Depth; level++ {
		if idx&1 == 0 {
			t.frontier[level] = cur
			cur = HashNode(cur, emptyRoots[level])
		} else {
			cur = HashNode(t.frontier[level], cur)
		}
		idx >>= 1
	}

	if t.retain {
		t.leaves = append(t.leaves, leaf)
	}
	t.size++
	t.root = cur
	return cur, nil
}

// Path returns the sibling of every node on the way from leaf [pos] to the
// root, bottom first.
func (t *Tree) Path(pos uint64) ([Depth]fr.Element, error) {
	var path [Depth]fr.Element
	if !t.retain {
		return path, ErrLeavesNotRetained
	}
	if pos >= t.size {
		return path, fmt.Errorf("%w: %d >= %d", ErrPositionOutOfRange, pos, t.size)
	}
	for level := 0; level < Depth; level++ {
		sibling := (pos >> level) ^ 1
		path[level] = t.node(level, sibling)
	}
	return path, nil
}

func (t *Tree) node(level int, index uint64) fr.Element {
	if index<<level >= t.size {
		return emptyRoots[level]
	}
	if level == 0 {
		return t.leaves[index]
	}
	return HashNode(t.node(level-1, 2*index), t.node(level-1, 2*index+1))
}

// Clone returns a deep copy of the tree.
func (t *Tree) Clone() *Tree {
	c := *t
	if t.leaves != nil {
		c.leaves = make([]fr.Element, len(t.leaves))
		copy(c.leaves, t.leaves)
	}
	return &c
}

// MarshalBinary encodes the frontier. Retained leaves are not encoded.
func (t *Tree) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, encodedLen)
	b = binary.BigEndian.AppendUint64(b, t.size)
	for i := range t.frontier {
		f := t.frontier[i].Bytes()
		b = append(b, f[:]...)
	}
	r := t.root.Bytes()
	return append(b, r[:]...), nil
}

func (t *Tree) UnmarshalBinary(b []byte) error {
	if len(b) != encodedLen {
		return fmt.Errorf("%w: length %d", errInvalidEncoding, len(b))
	}
	size := binary.BigEndian.Uint64(b[:8])
	if size > 1<<Depth {
		return fmt.Errorf("%w: size %d", errInvalidEncoding, size)
	}
	b = b[8:]
	var frontier [Depth]fr.Element
	for i := range frontier {
		if err := frontier[i].SetBytesCanonical(b[:fr.Bytes]); err != nil {
			return fmt.Errorf("%w: %v", errInvalidEncoding, err)
		}
		b = b[fr.Bytes:]
	}
	var root fr.Element
	if err := root.SetBytesCanonical(b); err != nil {
		return fmt.Errorf("%w: %v", errInvalidEncoding, err)
	}
	t.size = size
	t.frontier = frontier
	t.root = root
	t.retain = false
	t.leaves = nil
	return nil
}
