// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package blockchain

import (
	"errors"
	"testing"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkrenaissance/darkfi-sub018/merkle"
)

var (
	errInjected   = errors.New("injected batch failure")
	errReadFailed = errors.New("injected read failure")
)

// failingDB is a memdb whose batches can be made to fail on Write, and
// whose reads can be made to fail.
type failingDB struct {
	*memdb.Database
	fail     bool
	failGets bool
}

func (db *failingDB) Get(key []byte) ([]byte, error) {
	if db.failGets {
		return nil, errReadFailed
	}
	return db.Database.Get(key)
}

func (db *failingDB) Has(key []byte) (bool, error) {
	if db.failGets {
		return false, errReadFailed
	}
	return db.Database.Has(key)
}

func (db *failingDB) NewBatch() database.Batch {
	return &failingBatch{Batch: db.Database.NewBatch(), db: db}
}

type failingBatch struct {
	database.Batch
	db *failingDB
}

func (b *failingBatch) Write() error {
	if b.db.fail {
		return errInjected
	}
	return b.Batch.Write()
}

func element(v uint64) fr.Element {
	var e fr.Element
	e.SetUint64(v)
	return e
}

func newTestChain(t *testing.T, coins ...fr.Element) (*Blockchain, *BlockInfo, database.Database) {
	t.Helper()
	db := memdb.New()
	genesis, err := Genesis(0, coins)
	require.NoError(t, err)
	bc, err := New(db, genesis, coins)
	require.NoError(t, err)
	return bc, genesis, db
}

// nextBlock builds a signed child of [parent] with the given transactions.
func nextBlock(t *testing.T, parent ids.ID, height uint64, txs ...*Transaction) *BlockInfo {
	t.Helper()
	for _, tx := range txs {
		require.NoError(t, tx.Initialize())
	}
	blk := &BlockInfo{
		Header: Header{
			Version:      BlockVersion,
			PreviousHash: parent,
			Height:       height,
			Timestamp:    int64(height),
			Difficulty:   1,
		},
		Txs: txs,
	}
	require.NoError(t, blk.Initialize())
	blk.Header.TxRoot = MerkleRoot(blk.TxIDs())
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	require.NoError(t, blk.Sign(key))
	return blk
}

func TestGenesis(t *testing.T) {
	assert := assert.New(t)

	coins := []fr.Element{element(1), element(2)}
	bc, genesis, db := newTestChain(t, coins...)

	last := bc.LastBlock()
	assert.Equal(genesis.ID(), last.ID())
	assert.Equal(uint64(0), bc.Height())
	assert.Equal(ids.Empty, last.Parent())

	tree := merkle.New()
	for _, c := range coins {
		_, err := tree.Append(c)
		assert.NoError(err)
	}
	assert.Equal(tree.Root(), bc.MerkleRoot())
	ok, err := bc.HasMerkleRoot(tree.Root())
	assert.NoError(err)
	assert.True(ok)

	// reopening the same database loads the stored chain
	reopened, err := New(db, genesis, coins)
	assert.NoError(err)
	assert.Equal(genesis.ID(), reopened.LastBlock().ID())
	assert.Equal(bc.MerkleRoot(), reopened.MerkleRoot())

	// a different genesis is refused
	other, err := Genesis(1, coins)
	assert.NoError(err)
	_, err = New(db, other, coins)
	assert.ErrorIs(err, ErrGenesisMismatch)

	// coins must match the genesis commitment
	_, err = New(memdb.New(), genesis, coins[:1])
	assert.ErrorIs(err, ErrGenesisMismatch)
}

func TestOverlayIsolation(t *testing.T) {
	assert := assert.New(t)
	bc, _, _ := newTestChain(t)

	ov := NewOverlay(bc)
	assert.NoError(ov.Insert("kv", [][]byte{[]byte("a")}, [][]byte{[]byte("1")}))

	ok, err := ov.Contains("kv", []byte("a"))
	assert.NoError(err)
	assert.True(ok)

	ok, err = bc.Contains("kv", []byte("a"))
	assert.NoError(err)
	assert.False(ok, "overlay writes must not reach the base before merge")

	assert.NoError(bc.Merge(ov))
	ok, err = bc.Contains("kv", []byte("a"))
	assert.NoError(err)
	assert.True(ok)
}

func TestOverlayGet(t *testing.T) {
	assert := assert.New(t)
	bc, _, _ := newTestChain(t)

	ov := NewOverlay(bc)
	assert.NoError(ov.Insert("kv",
		[][]byte{[]byte("a"), []byte("b")},
		[][]byte{[]byte("1"), []byte("2")},
	))

	values, err := ov.Get("kv", [][]byte{[]byte("b"), []byte("missing"), []byte("a")}, false)
	assert.NoError(err)
	assert.Equal([][]byte{[]byte("2"), nil, []byte("1")}, values)

	_, err = ov.Get("kv", [][]byte{[]byte("a"), []byte("missing")}, true)
	assert.ErrorIs(err, ErrNotFound)

	assert.NoError(ov.Remove("kv", [][]byte{[]byte("a")}))
	values, err = ov.Get("kv", [][]byte{[]byte("a")}, false)
	assert.NoError(err)
	assert.Nil(values[0])
}

func TestOverlayInsertIsAtomic(t *testing.T) {
	assert := assert.New(t)
	bc, _, _ := newTestChain(t)
	ov := NewOverlay(bc)

	err := ov.Insert("kv", [][]byte{[]byte("a"), []byte("b")}, [][]byte{[]byte("1")})
	assert.ErrorIs(err, ErrBatchMismatch)

	err = ov.Insert("kv", [][]byte{[]byte("a"), nil}, [][]byte{[]byte("1"), []byte("2")})
	assert.Error(err)
	ok, err := ov.Contains("kv", []byte("a"))
	assert.NoError(err)
	assert.False(ok)

	// a value that cannot be serialized aborts the whole batch
	err = ov.InsertValues("kv",
		[][]byte{[]byte("a"), []byte("b")},
		[]interface{}{&Header{Height: 1}, make(chan int)},
	)
	assert.Error(err)
	ok, err = ov.Contains("kv", []byte("a"))
	assert.NoError(err)
	assert.False(ok)

	assert.NoError(ov.InsertValues("kv", [][]byte{[]byte("h")}, []interface{}{&Header{Height: 7}}))
	var h Header
	assert.NoError(ov.GetValue("kv", []byte("h"), &h))
	assert.Equal(uint64(7), h.Height)
}

func TestNullifiersAreInsertOnly(t *testing.T) {
	assert := assert.New(t)
	bc, _, _ := newTestChain(t)

	ov := NewOverlay(bc)
	txID := ids.ID{1}
	assert.NoError(ov.AddNullifiers([]fr.Element{element(1), element(2)}, txID))

	err := ov.AddNullifiers([]fr.Element{element(3), element(1)}, txID)
	assert.ErrorIs(err, ErrNullifierExists)
	ok, err := ov.HasNullifier(element(3))
	assert.NoError(err)
	assert.False(ok, "a failed batch must not insert anything")

	err = ov.AddNullifiers([]fr.Element{element(4), element(4)}, txID)
	assert.ErrorIs(err, ErrNullifierExists)

	one := element(1)
	key := one.Bytes()
	assert.ErrorIs(ov.Remove(NullifiersTree, [][]byte{key[:]}), ErrImmutableTree)
	assert.ErrorIs(ov.Insert(NullifiersTree, [][]byte{key[:]}, [][]byte{{0}}), ErrImmutableTree)

	assert.NoError(bc.Merge(ov))
	ok, err = bc.HasNullifier(element(2))
	assert.NoError(err)
	assert.True(ok)

	// spent on the canonical chain, so spent in every new overlay
	err = NewOverlay(bc).AddNullifiers([]fr.Element{element(2)}, txID)
	assert.ErrorIs(err, ErrNullifierExists)
}

func TestMerkleRootHistory(t *testing.T) {
	assert := assert.New(t)
	bc, _, _ := newTestChain(t, element(10))

	ov := NewOverlay(bc)
	before, err := ov.MerkleRoot()
	assert.NoError(err)

	assert.NoError(ov.AppendCoins([]fr.Element{element(11), element(12)}))
	after, err := ov.MerkleRoot()
	assert.NoError(err)
	assert.NotEqual(before, after)

	for _, root := range []fr.Element{before, after} {
		ok, err := ov.HasMerkleRoot(root)
		assert.NoError(err)
		assert.True(ok)
	}

	ok, err := bc.HasMerkleRoot(after)
	assert.NoError(err)
	assert.False(ok)
	assert.Equal(before, bc.MerkleRoot())

	assert.NoError(bc.Merge(ov))
	assert.Equal(after, bc.MerkleRoot())
	ok, err = bc.HasMerkleRoot(before)
	assert.NoError(err)
	assert.True(ok, "old roots stay valid anchors")
}

func TestFullCloneIsIndependent(t *testing.T) {
	assert := assert.New(t)
	bc, _, _ := newTestChain(t)

	ov := NewOverlay(bc)
	assert.NoError(ov.Insert("kv", [][]byte{[]byte("a")}, [][]byte{[]byte("1")}))
	assert.NoError(ov.AppendCoins([]fr.Element{element(5)}))

	clone, err := ov.FullClone()
	assert.NoError(err)
	assert.NoError(clone.Insert("kv", [][]byte{[]byte("b")}, [][]byte{[]byte("2")}))
	assert.NoError(clone.AppendCoins([]fr.Element{element(6)}))
	assert.NoError(clone.Remove("kv", [][]byte{[]byte("a")}))

	ok, err := ov.Contains("kv", []byte("b"))
	assert.NoError(err)
	assert.False(ok)
	ok, err = ov.Contains("kv", []byte("a"))
	assert.NoError(err)
	assert.True(ok)

	r1, err := ov.MerkleRoot()
	assert.NoError(err)
	r2, err := clone.MerkleRoot()
	assert.NoError(err)
	assert.NotEqual(r1, r2)
}

func TestChildCommit(t *testing.T) {
	assert := assert.New(t)
	bc, _, _ := newTestChain(t)

	parent := NewOverlay(bc)
	assert.NoError(parent.Insert("kv", [][]byte{[]byte("a")}, [][]byte{[]byte("1")}))

	child := parent.Child()
	assert.NoError(child.Remove("kv", [][]byte{[]byte("a")}))
	assert.NoError(child.Insert("kv", [][]byte{[]byte("b")}, [][]byte{[]byte("2")}))
	assert.NoError(child.AppendCoins([]fr.Element{element(1)}))

	ok, err := parent.Contains("kv", []byte("b"))
	assert.NoError(err)
	assert.False(ok)

	root, err := child.MerkleRoot()
	assert.NoError(err)
	assert.NoError(child.Commit())

	ok, err = parent.Contains("kv", []byte("b"))
	assert.NoError(err)
	assert.True(ok)
	ok, err = parent.Contains("kv", []byte("a"))
	assert.NoError(err)
	assert.False(ok)
	parentRoot, err := parent.MerkleRoot()
	assert.NoError(err)
	assert.Equal(root, parentRoot)

	assert.Error(parent.Commit(), "a top-level overlay has no parent")
}

func TestMergeIsAtomic(t *testing.T) {
	assert := assert.New(t)

	db := &failingDB{Database: memdb.New()}
	genesis, err := Genesis(0, nil)
	assert.NoError(err)
	bc, err := New(db, genesis, nil)
	assert.NoError(err)

	blk := nextBlock(t, genesis.ID(), 1)
	ov := NewOverlay(bc)
	assert.NoError(ov.PutBlock(blk))
	assert.NoError(ov.AddNullifiers([]fr.Element{element(9)}, blk.ID()))
	assert.NoError(ov.AppendCoins([]fr.Element{element(8)}))
	rootBefore := bc.MerkleRoot()

	db.fail = true
	err = bc.Merge(ov)
	assert.ErrorIs(err, ErrMerge)

	assert.Equal(genesis.ID(), bc.LastBlock().ID())
	assert.Equal(rootBefore, bc.MerkleRoot())
	ok, err := bc.HasNullifier(element(9))
	assert.NoError(err)
	assert.False(ok)
	_, err = bc.GetBlock(blk.ID())
	assert.ErrorIs(err, ErrNotFound)

	// the same overlay merges once storage recovers
	db.fail = false
	assert.NoError(bc.Merge(ov))
	assert.Equal(blk.ID(), bc.LastBlock().ID())
	byHeight, err := bc.GetBlockByHeight(1)
	assert.NoError(err)
	assert.Equal(blk.ID(), byHeight.ID())
}

func TestStorageErrors(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	db := &failingDB{Database: memdb.New()}
	genesis, err := Genesis(0, nil)
	require.NoError(err)
	bc, err := New(db, genesis, nil)
	require.NoError(err)
	ov := NewOverlay(bc)

	// Missing keys are not storage failures.
	_, err = bc.GetTransaction(ids.GenerateTestID())
	assert.ErrorIs(err, ErrNotFound)
	assert.NotErrorIs(err, ErrStorage)

	db.failGets = true
	_, err = bc.GetTransaction(ids.GenerateTestID())
	assert.ErrorIs(err, ErrStorage)
	assert.ErrorIs(err, errReadFailed)

	_, err = bc.HasNullifier(element(1))
	assert.ErrorIs(err, ErrStorage)
	_, err = ov.HasMerkleRoot(element(1))
	assert.ErrorIs(err, ErrStorage)
	err = ov.AddNullifiers([]fr.Element{element(1)}, ids.Empty)
	assert.ErrorIs(err, ErrStorage)
	assert.NotErrorIs(err, ErrNullifierExists)

	db.failGets = false
	assert.NoError(ov.AddNullifiers([]fr.Element{element(1)}, ids.Empty))
}

func TestMergeRejectsForeignOverlay(t *testing.T) {
	assert := assert.New(t)
	a, _, _ := newTestChain(t)
	b, _, _ := newTestChain(t)

	assert.Error(a.Merge(NewOverlay(b)))
	assert.Error(a.Merge(NewOverlay(a).Child()))
}

func TestTransactionStorage(t *testing.T) {
	assert := assert.New(t)
	bc, genesis, _ := newTestChain(t)

	tx := &Transaction{
		Calls:      []ContractCall{{ContractID: ids.ID{1}, FunctionID: ids.ID{2}, Data: []byte{3}}},
		Proofs:     [][][]byte{{{4}}},
		Signatures: [][][]byte{{{5}}},
	}
	blk := nextBlock(t, genesis.ID(), 1, tx)
	assert.NoError(blk.VerifyTxRoot())
	assert.NoError(blk.VerifySignature())

	ov := NewOverlay(bc)
	assert.NoError(ov.PutBlock(blk))
	last, err := ov.LastBlock()
	assert.NoError(err)
	assert.Equal(blk.ID(), last.ID())
	assert.NoError(bc.Merge(ov))

	stored, err := bc.GetTransaction(tx.ID())
	assert.NoError(err)
	assert.Equal(tx.Calls, stored.Calls)
	assert.Equal(tx.ID(), stored.ID())

	storedBlk, err := bc.GetBlock(blk.ID())
	assert.NoError(err)
	assert.Equal([]ids.ID{tx.ID()}, storedBlk.Txs)
}

func TestTransactionSignatures(t *testing.T) {
	assert := assert.New(t)

	key, err := btcec.NewPrivateKey()
	assert.NoError(err)
	other, err := btcec.NewPrivateKey()
	assert.NoError(err)

	tx := &Transaction{
		Calls:  []ContractCall{{ContractID: ids.ID{1}, FunctionID: ids.ID{2}}},
		Proofs: [][][]byte{{{4}}},
	}
	assert.ErrorIs(tx.Sign(nil), ErrMalformedTransaction)
	assert.NoError(tx.Sign([][]*btcec.PrivateKey{{key}}))
	assert.NoError(tx.SyntacticVerify())

	digest, err := tx.SigningDigest()
	assert.NoError(err)
	pub := schnorr.SerializePubKey(key.PubKey())
	assert.NoError(VerifySignature(digest, pub, tx.Signatures[0][0]))
	assert.ErrorIs(VerifySignature(digest, schnorr.SerializePubKey(other.PubKey()), tx.Signatures[0][0]), ErrInvalidSignature)
	assert.ErrorIs(VerifySignature(digest, pub[:31], tx.Signatures[0][0]), ErrInvalidSignature)
	assert.ErrorIs(VerifySignature(digest, pub, tx.Signatures[0][0][:10]), ErrInvalidSignature)

	// Proofs are signed; call data changes invalidate the signature too.
	tx.Proofs[0][0] = []byte{5}
	digest, err = tx.SigningDigest()
	assert.NoError(err)
	assert.ErrorIs(VerifySignature(digest, pub, tx.Signatures[0][0]), ErrInvalidSignature)

	parsed, err := ParseTransaction(tx.Bytes())
	assert.NoError(err)
	assert.Equal(tx.ID(), parsed.ID())
}
