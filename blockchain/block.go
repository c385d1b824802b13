// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package blockchain

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// BlockVersion is the only header version this node produces and accepts.
const BlockVersion = 1

var (
	ErrInvalidBlockSignature = errors.New("invalid block signature")
	ErrTxRootMismatch        = errors.New("transaction root mismatch")

	maxHash = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// Header is the part of a block that is hashed into its id.
type Header struct {
	Version      uint8  `serialize:"true" json:"version"`
	PreviousHash ids.ID `serialize:"true" json:"previousHash"`
	Height       uint64 `serialize:"true" json:"height"`
	Timestamp    int64  `serialize:"true" json:"timestamp"`
	Difficulty   uint64 `serialize:"true" json:"difficulty"`
	Nonce        uint64 `serialize:"true" json:"nonce"`
	TxRoot       ids.ID `serialize:"true" json:"txRoot"`
	Producer     []byte `serialize:"true" json:"producer"`
}

// Hash returns the block id committed to by this header.
func (h *Header) Hash() (ids.ID, error) {
	bytes, err := Codec.Marshal(CodecVersion, h)
	if err != nil {
		return ids.Empty, fmt.Errorf("failed to marshal header: %w", err)
	}
	return Hash(bytes), nil
}

func (h *Header) Time() time.Time { return time.Unix(h.Timestamp, 0) }

// MeetsDifficulty reports whether [hash], read as a big-endian integer, is
// at most (2^256 - 1) / [difficulty].
func MeetsDifficulty(hash ids.ID, difficulty uint64) bool {
	if difficulty == 0 {
		return false
	}
	target := new(big.Int).Div(maxHash, new(big.Int).SetUint64(difficulty))
	return new(big.Int).SetBytes(hash[:]).Cmp(target) <= 0
}

// Block is the stored form of a block: its header, the ids of its
// transactions and the producer signature.
type Block struct {
	Header    Header   `serialize:"true" json:"header"`
	Txs       []ids.ID `serialize:"true" json:"txs"`
	Signature []byte   `serialize:"true" json:"signature"`

	id ids.ID
}

func (b *Block) ID() ids.ID       { return b.id }
func (b *Block) Height() uint64   { return b.Header.Height }
func (b *Block) Parent() ids.ID   { return b.Header.PreviousHash }
func (b *Block) Timestamp() int64 { return b.Header.Timestamp }

func parseBlock(bytes []byte) (*Block, error) {
	blk := &Block{}
	version, err := Codec.Unmarshal(bytes, blk)
	if err != nil {
		return nil, err
	}
	if version != CodecVersion {
		return nil, errWrongVersion
	}
	id, err := blk.Header.Hash()
	if err != nil {
		return nil, err
	}
	blk.id = id
	return blk, nil
}

// BlockInfo is a block proposal carrying its full transactions.
type BlockInfo struct {
	Header    Header         `serialize:"true" json:"header"`
	Txs       []*Transaction `serialize:"true" json:"txs"`
	Signature []byte         `serialize:"true" json:"signature"`

	id    ids.ID
	bytes []byte
}

// Initialize caches the id of the proposal and of each of its transactions.
func (b *BlockInfo) Initialize() error {
	for _, tx := range b.Txs {
		if err := tx.Initialize(); err != nil {
			return err
		}
	}
	id, err := b.Header.Hash()
	if err != nil {
		return err
	}
	bytes, err := Codec.Marshal(CodecVersion, b)
	if err != nil {
		return fmt.Errorf("failed to marshal block %s: %w", id, err)
	}
	b.id = id
	b.bytes = bytes
	return nil
}

func (b *BlockInfo) ID() ids.ID     { return b.id }
func (b *BlockInfo) Bytes() []byte  { return b.bytes }
func (b *BlockInfo) Height() uint64 { return b.Header.Height }
func (b *BlockInfo) Parent() ids.ID { return b.Header.PreviousHash }

// TxIDs returns the ids of the proposal's transactions in order.
func (b *BlockInfo) TxIDs() []ids.ID {
	txIDs := make([]ids.ID, len(b.Txs))
	for i, tx := range b.Txs {
		txIDs[i] = tx.ID()
	}
	return txIDs
}

// VerifyTxRoot checks the header commits to exactly the proposal's
// transactions.
func (b *BlockInfo) VerifyTxRoot() error {
	if root := MerkleRoot(b.TxIDs()); root != b.Header.TxRoot {
		return fmt.Errorf("%w: header %s, computed %s", ErrTxRootMismatch, b.Header.TxRoot, root)
	}
	return nil
}

// Sign sets the producer key and signs the header. The header must be final
// apart from the producer field.
func (b *BlockInfo) Sign(key *btcec.PrivateKey) error {
	b.Header.Producer = schnorr.SerializePubKey(key.PubKey())
	id, err := b.Header.Hash()
	if err != nil {
		return err
	}
	sig, err := schnorr.Sign(key, id[:])
	if err != nil {
		return fmt.Errorf("failed to sign block %s: %w", id, err)
	}
	b.Signature = sig.Serialize()
	return b.Initialize()
}

// VerifySignature checks the producer signature over the block id.
func (b *BlockInfo) VerifySignature() error {
	pub, err := schnorr.ParsePubKey(b.Header.Producer)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBlockSignature, err)
	}
	sig, err := schnorr.ParseSignature(b.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBlockSignature, err)
	}
	if !sig.Verify(b.id[:], pub) {
		return ErrInvalidBlockSignature
	}
	return nil
}

// Block returns the stored form of the proposal.
func (b *BlockInfo) Block() *Block {
	return &Block{
		Header:    b.Header,
		Txs:       b.TxIDs(),
		Signature: b.Signature,
		id:        b.id,
	}
}

// ParseBlockInfo decodes a proposal and initializes it.
func ParseBlockInfo(bytes []byte) (*BlockInfo, error) {
	blk := &BlockInfo{}
	version, err := Codec.Unmarshal(bytes, blk)
	if err != nil {
		return nil, err
	}
	if version != CodecVersion {
		return nil, errWrongVersion
	}
	if err := blk.Initialize(); err != nil {
		return nil, err
	}
	return blk, nil
}

// Genesis builds the unsigned genesis block. Its transaction root commits to
// the initial coins.
func Genesis(timestamp int64, coins []fr.Element) (*BlockInfo, error) {
	leaves := make([]ids.ID, len(coins))
	for i := range coins {
		leaves[i] = ids.ID(coins[i].Bytes())
	}
	blk := &BlockInfo{
		Header: Header{
			Version:   BlockVersion,
			Timestamp: timestamp,
			TxRoot:    MerkleRoot(leaves),
		},
	}
	return blk, blk.Initialize()
}
