// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package blockchain

import (
	"github.com/ava-labs/avalanchego/ids"
	"github.com/zeebo/blake3"
)

// Hash returns the BLAKE3-256 digest of [b].
func Hash(b []byte) ids.ID {
	return ids.ID(blake3.Sum256(b))
}

// MerkleRoot is the binary BLAKE3 Merkle root over [leaves]. An odd node at
// any level is carried up unchanged. The root of no leaves is ids.Empty.
func MerkleRoot(leaves []ids.ID) ids.ID {
	if len(leaves) == 0 {
		return ids.Empty
	}
	level := make([]ids.ID, len(leaves))
	copy(level, leaves)

	var buf [64]byte
	for len(level) > 1 {
		next := level[:0]
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			copy(buf[:32], level[i][:])
			copy(buf[32:], level[i+1][:])
			next = append(next, Hash(buf[:]))
		}
		level = next
	}
	return level[0]
}
