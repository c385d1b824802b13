// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package p2p is the message delivery contract between validators: typed
// messages, their encoding, and an in-process hub that fans them out.
package p2p

import (
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/wrappers"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/darkrenaissance/darkfi-sub018/blockchain"
)

var (
	ErrWrongKind   = errors.New("unexpected message kind")
	ErrMalformed   = errors.New("malformed message")
	ErrInvalidVote = errors.New("invalid vote signature")
	errUnknownKind = errors.New("unknown message kind")
)

const voteDigestLen = 32 + wrappers.LongLen

type Kind uint8

const (
	KindProposal Kind = iota + 1
	KindTransaction
	KindVote
)

func (k Kind) String() string {
	switch k {
	case KindProposal:
		return "proposal"
	case KindTransaction:
		return "transaction"
	case KindVote:
		return "vote"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Message is what validators exchange.
type Message struct {
	Kind    Kind   `serialize:"true" json:"kind"`
	Payload []byte `serialize:"true" json:"payload"`
}

// ID identifies the content of the message. Duplicate deliveries share it.
func (m *Message) ID() ids.ID {
	return blockchain.Hash(append([]byte{byte(m.Kind)}, m.Payload...))
}

func (m *Message) Bytes() ([]byte, error) {
	return blockchain.Codec.Marshal(blockchain.CodecVersion, m)
}

// ParseMessage decodes a message received from the wire.
func ParseMessage(b []byte) (Message, error) {
	var m Message
	version, err := blockchain.Codec.Unmarshal(b, &m)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if version != blockchain.CodecVersion {
		return Message{}, fmt.Errorf("%w: codec version %d", ErrMalformed, version)
	}
	switch m.Kind {
	case KindProposal, KindTransaction, KindVote:
		return m, nil
	default:
		return Message{}, fmt.Errorf("%w: %s", errUnknownKind, m.Kind)
	}
}

func expect(m Message, kind Kind) error {
	if m.Kind != kind {
		return fmt.Errorf("%w: got %s, want %s", ErrWrongKind, m.Kind, kind)
	}
	return nil
}

func EncodeProposal(blk *blockchain.BlockInfo) Message {
	return Message{Kind: KindProposal, Payload: blk.Bytes()}
}

func DecodeProposal(m Message) (*blockchain.BlockInfo, error) {
	if err := expect(m, KindProposal); err != nil {
		return nil, err
	}
	blk, err := blockchain.ParseBlockInfo(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return blk, nil
}

func EncodeTransaction(tx *blockchain.Transaction) Message {
	return Message{Kind: KindTransaction, Payload: tx.Bytes()}
}

func DecodeTransaction(m Message) (*blockchain.Transaction, error) {
	if err := expect(m, KindTransaction); err != nil {
		return nil, err
	}
	tx, err := blockchain.ParseTransaction(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return tx, nil
}

// Vote is a validator's endorsement of a proposal.
type Vote struct {
	BlockID   ids.ID `serialize:"true" json:"blockID"`
	Height    uint64 `serialize:"true" json:"height"`
	Voter     []byte `serialize:"true" json:"voter"`
	Signature []byte `serialize:"true" json:"signature"`
}

func (v *Vote) digest() ids.ID {
	p := wrappers.Packer{MaxSize: voteDigestLen}
	p.PackFixedBytes(v.BlockID[:])
	p.PackLong(v.Height)
	return blockchain.Hash(p.Bytes)
}

// NewVote signs a vote for [blkID] at [height].
func NewVote(key *btcec.PrivateKey, blkID ids.ID, height uint64) (*Vote, error) {
	v := &Vote{
		BlockID: blkID,
		Height:  height,
		Voter:   schnorr.SerializePubKey(key.PubKey()),
	}
	digest := v.digest()
	sig, err := schnorr.Sign(key, digest[:])
	if err != nil {
		return nil, err
	}
	v.Signature = sig.Serialize()
	return v, nil
}

func (v *Vote) Verify() error {
	if err := blockchain.VerifySignature(v.digest(), v.Voter, v.Signature); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidVote, err)
	}
	return nil
}

func EncodeVote(v *Vote) (Message, error) {
	b, err := blockchain.Codec.Marshal(blockchain.CodecVersion, v)
	if err != nil {
		return Message{}, err
	}
	return Message{Kind: KindVote, Payload: b}, nil
}

func DecodeVote(m Message) (*Vote, error) {
	if err := expect(m, KindVote); err != nil {
		return nil, err
	}
	v := &Vote{}
	if _, err := blockchain.Codec.Unmarshal(m.Payload, v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v, nil
}
