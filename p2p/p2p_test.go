// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package p2p

import (
	"context"
	"testing"
	"time"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkrenaissance/darkfi-sub018/blockchain"
)

func testTx(t *testing.T, data byte) *blockchain.Transaction {
	t.Helper()
	tx := &blockchain.Transaction{
		Calls:      []blockchain.ContractCall{{ContractID: ids.GenerateTestID(), Data: []byte{data}}},
		Proofs:     [][][]byte{nil},
		Signatures: [][][]byte{nil},
	}
	require.NoError(t, tx.Initialize())
	return tx
}

func TestMessageRoundTrip(t *testing.T) {
	require := require.New(t)

	tx := testTx(t, 7)
	msg := EncodeTransaction(tx)
	b, err := msg.Bytes()
	require.NoError(err)

	parsed, err := ParseMessage(b)
	require.NoError(err)
	require.Equal(msg.ID(), parsed.ID())

	decoded, err := DecodeTransaction(parsed)
	require.NoError(err)
	require.Equal(tx.ID(), decoded.ID())

	_, err = DecodeProposal(parsed)
	require.ErrorIs(err, ErrWrongKind)
}

func TestProposalRoundTrip(t *testing.T) {
	require := require.New(t)

	blk := &blockchain.BlockInfo{
		Header: blockchain.Header{Version: blockchain.BlockVersion, Height: 1, Timestamp: 10},
		Txs:    []*blockchain.Transaction{testTx(t, 1), testTx(t, 2)},
	}
	require.NoError(blk.Initialize())

	decoded, err := DecodeProposal(EncodeProposal(blk))
	require.NoError(err)
	require.Equal(blk.ID(), decoded.ID())
	require.Equal(blk.TxIDs(), decoded.TxIDs())
}

func TestParseMessageRejects(t *testing.T) {
	assert := assert.New(t)

	_, err := ParseMessage([]byte{0, 0, 1})
	assert.ErrorIs(err, ErrMalformed)

	b, err := (&Message{Kind: 9}).Bytes()
	assert.NoError(err)
	_, err = ParseMessage(b)
	assert.ErrorIs(err, errUnknownKind)

	_, err = DecodeTransaction(Message{Kind: KindTransaction, Payload: []byte{1, 2}})
	assert.ErrorIs(err, ErrMalformed)
}

func TestMessageIDsDifferByKind(t *testing.T) {
	a := Message{Kind: KindProposal, Payload: []byte{1}}
	b := Message{Kind: KindTransaction, Payload: []byte{1}}
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestVotes(t *testing.T) {
	require := require.New(t)

	key, err := btcec.NewPrivateKey()
	require.NoError(err)
	blkID := ids.GenerateTestID()
	v, err := NewVote(key, blkID, 4)
	require.NoError(err)
	require.NoError(v.Verify())

	msg, err := EncodeVote(v)
	require.NoError(err)
	decoded, err := DecodeVote(msg)
	require.NoError(err)
	require.Equal(v, decoded)
	require.NoError(decoded.Verify())

	decoded.Height++
	require.ErrorIs(decoded.Verify(), ErrInvalidVote)
}

func TestHubFanOut(t *testing.T) {
	require := require.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hub := NewHub()
	a, err := hub.Join(ids.GenerateTestShortID(), DefaultInboxSize)
	require.NoError(err)
	b, err := hub.Join(ids.GenerateTestShortID(), DefaultInboxSize)
	require.NoError(err)
	c, err := hub.Join(ids.GenerateTestShortID(), DefaultInboxSize)
	require.NoError(err)
	require.Len(hub.Peers(), 3)

	_, err = hub.Join(a.ID(), 1)
	require.ErrorIs(err, ErrDuplicate)

	msg := Message{Kind: KindTransaction, Payload: []byte{1}}
	require.NoError(a.Broadcast(ctx, msg))
	for _, p := range []*Peer{b, c} {
		got, err := p.Receive(ctx)
		require.NoError(err)
		require.Equal(msg, got)
	}

	// The sender does not hear itself.
	short, cancelShort := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancelShort()
	_, err = a.Receive(short)
	require.ErrorIs(err, context.DeadlineExceeded)
}

func TestHubClose(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	hub := NewHub()
	a, err := hub.Join(ids.GenerateTestShortID(), 1)
	require.NoError(err)
	b, err := hub.Join(ids.GenerateTestShortID(), 1)
	require.NoError(err)

	b.Close()
	b.Close()
	require.Len(hub.Peers(), 1)
	_, err = b.Receive(ctx)
	require.ErrorIs(err, ErrClosed)
	require.ErrorIs(b.Broadcast(ctx, Message{Kind: KindVote}), ErrClosed)

	// Nobody left to deliver to.
	require.NoError(a.Broadcast(ctx, Message{Kind: KindVote}))
}

func TestBroadcastHonoursContext(t *testing.T) {
	require := require.New(t)

	hub := NewHub()
	a, err := hub.Join(ids.GenerateTestShortID(), 1)
	require.NoError(err)
	_, err = hub.Join(ids.GenerateTestShortID(), 1)
	require.NoError(err)

	require.NoError(a.Broadcast(context.Background(), Message{Kind: KindVote}))

	// The other inbox is full now.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(a.Broadcast(ctx, Message{Kind: KindVote}), context.DeadlineExceeded)
}
