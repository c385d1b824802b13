// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package validator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkrenaissance/darkfi-sub018/blockchain"
	"github.com/darkrenaissance/darkfi-sub018/contract"
	"github.com/darkrenaissance/darkfi-sub018/p2p"
	"github.com/darkrenaissance/darkfi-sub018/zk"
	"github.com/darkrenaissance/darkfi-sub018/zkas"
)

const arithSource = `k = 13;
field = "bn254";

constant "Arith" {}

witness "Arith" {
	Base a,
	Base b,
}

circuit "Arith" {
	sum = base_add(a, b);
	constrain_instance(sum);
	product = base_mul(a, b);
	constrain_instance(product);
	difference = base_sub(a, b);
	constrain_instance(difference);
}
`

var (
	errRejected   = errors.New("call rejected")
	errInjected   = errors.New("injected batch failure")
	errReadFailed = errors.New("injected read failure")
	testContract  = contract.ContractID("Test")
	testFunction  = contract.FunctionID(testContract, "Call")
)

// testCall is the call data of the test contract. Every field maps
// directly onto what the validator checks.
type testCall struct {
	Nullifiers []uint64 `serialize:"true"`
	Coins      []uint64 `serialize:"true"`
	Signers    [][]byte `serialize:"true"`
	// Arith, when it holds two values, requires an Arith proof over them.
	Arith  []uint64 `serialize:"true"`
	Reject bool     `serialize:"true"`
}

type testContractImpl struct{ arith *zkas.ZkBinary }

func newTestContract(t *testing.T) *testContractImpl {
	t.Helper()
	bin, err := zkas.AnalyzeSource("arith.zk", []byte(arithSource))
	require.NoError(t, err)
	return &testContractImpl{arith: bin}
}

func (*testContractImpl) Name() string                 { return "Test" }
func (*testContractImpl) Functions() []string          { return []string{"Call"} }
func (c *testContractImpl) Circuits() []*zkas.ZkBinary { return []*zkas.ZkBinary{c.arith} }

func decodeCall(ctx *contract.CallContext) (*testCall, error) {
	c := &testCall{}
	_, err := blockchain.Codec.Unmarshal(ctx.Call().Data, c)
	return c, err
}

func element(v uint64) fr.Element {
	var e fr.Element
	e.SetUint64(v)
	return e
}

func elements(vs ...uint64) []fr.Element {
	out := make([]fr.Element, len(vs))
	for i, v := range vs {
		out[i] = element(v)
	}
	return out
}

func arithPublic(a, b uint64) []fr.Element {
	x, y := element(a), element(b)
	var sum, product, difference fr.Element
	sum.Add(&x, &y)
	product.Mul(&x, &y)
	difference.Sub(&x, &y)
	return []fr.Element{sum, product, difference}
}

func (*testContractImpl) Metadata(ctx *contract.CallContext) (*contract.Metadata, error) {
	c, err := decodeCall(ctx)
	if err != nil {
		return nil, err
	}
	meta := &contract.Metadata{SignaturePublicKeys: c.Signers}
	if len(c.Arith) == 2 {
		meta.ZkPublicInputs = []contract.ZkInput{{
			Namespace:    "Arith",
			PublicInputs: arithPublic(c.Arith[0], c.Arith[1]),
		}}
	}
	return meta, nil
}

func (*testContractImpl) Process(ctx *contract.CallContext, _ contract.State) (*contract.StateUpdate, error) {
	c, err := decodeCall(ctx)
	if err != nil {
		return nil, err
	}
	if c.Reject {
		return nil, errRejected
	}
	return &contract.StateUpdate{
		Nullifiers: elements(c.Nullifiers...),
		Coins:      elements(c.Coins...),
	}, nil
}

func (*testContractImpl) Apply(ctx *contract.CallContext, st contract.State, _ *contract.StateUpdate) error {
	txID := ctx.Tx.ID()
	return st.Insert(callsTree, [][]byte{txID[:]}, [][]byte{ctx.Call().Data})
}

var callsTree = blockchain.ContractTree(testContract, "calls")

// newTx builds a signed test transaction. [proofs] are attached before
// signing.
func newTx(t *testing.T, call testCall, signers []*btcec.PrivateKey, proofs ...[]byte) *blockchain.Transaction {
	t.Helper()
	for _, key := range signers {
		call.Signers = append(call.Signers, schnorr.SerializePubKey(key.PubKey()))
	}
	data, err := blockchain.Codec.Marshal(blockchain.CodecVersion, &call)
	require.NoError(t, err)
	tx := &blockchain.Transaction{
		Calls: []blockchain.ContractCall{{
			ContractID: testContract,
			FunctionID: testFunction,
			Data:       data,
		}},
		Proofs: [][][]byte{proofs},
	}
	require.NoError(t, tx.Sign([][]*btcec.PrivateKey{signers}))
	return tx
}

func newKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return key
}

// spend is a signed transaction spending [nullifier] and minting [coin].
func spend(t *testing.T, nullifier, coin uint64) *blockchain.Transaction {
	t.Helper()
	return newTx(t, testCall{Nullifiers: []uint64{nullifier}, Coins: []uint64{coin}}, []*btcec.PrivateKey{newKey(t)})
}

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

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FinalizationThreshold = 2
	cfg.VerifyWorkers = 2
	cfg.RetryInterval = 10 * time.Millisecond
	return cfg
}

var testTime = time.Unix(1_000_000, 0)

func newValidator(
	t *testing.T,
	cfg Config,
	db database.Database,
	net p2p.Network,
	coins []fr.Element,
	contracts ...contract.Contract,
) *Validator {
	t.Helper()
	require := require.New(t)

	genesis, err := blockchain.Genesis(0, coins)
	require.NoError(err)
	bc, err := blockchain.New(db, genesis, coins)
	require.NoError(err)

	registry := contract.NewRegistry()
	for _, c := range contracts {
		require.NoError(registry.Register(c))
	}
	v, err := New(cfg, bc, registry, zk.NewKeyCache(), net, prometheus.NewRegistry())
	require.NoError(err)
	v.clock.Set(testTime)
	return v
}

type testEnv struct {
	v        *Validator
	contract *testContractImpl
	// observer receives everything the validator broadcasts
	observer *p2p.Peer
	producer *btcec.PrivateKey
}

func newEnvWithDB(t *testing.T, cfg Config, db database.Database) *testEnv {
	t.Helper()
	hub := p2p.NewHub()
	self, err := hub.Join(ids.GenerateTestShortID(), p2p.DefaultInboxSize)
	require.NoError(t, err)
	observer, err := hub.Join(ids.GenerateTestShortID(), p2p.DefaultInboxSize)
	require.NoError(t, err)

	c := newTestContract(t)
	return &testEnv{
		v:        newValidator(t, cfg, db, self, nil, c),
		contract: c,
		observer: observer,
		producer: newKey(t),
	}
}

func newEnv(t *testing.T, cfg Config) *testEnv {
	return newEnvWithDB(t, cfg, memdb.New())
}

// propose builds a sealed, signed proposal on [parent] without touching
// the validator.
func (e *testEnv) propose(t *testing.T, parent ids.ID, header blockchain.Header, difficulty uint64, txs ...*blockchain.Transaction) *blockchain.BlockInfo {
	t.Helper()
	b := *e.v.builder
	b.difficulty = difficulty
	blk, err := b.build(context.Background(), parent, header, txs, e.producer)
	require.NoError(t, err)
	return blk
}

// tip returns the id and header of the canonical tip.
func (e *testEnv) tip() (ids.ID, blockchain.Header) {
	last := e.v.bc.LastBlock()
	return last.ID(), last.Header
}

func (e *testEnv) received(t *testing.T) p2p.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := e.observer.Receive(ctx)
	require.NoError(t, err)
	return msg
}

func TestConfigVerify(t *testing.T) {
	assert := assert.New(t)

	cfg := DefaultConfig()
	assert.NoError(cfg.Verify())

	tests := []func(*Config){
		func(c *Config) { c.FinalizationThreshold = 0 },
		func(c *Config) { c.VerifyWorkers = 0 },
		func(c *Config) { c.MinDifficulty = 0 },
		func(c *Config) { c.FutureBlockLimit = -time.Second },
		func(c *Config) { c.MempoolSize = 0 },
		func(c *Config) { c.RetryInterval = 0 },
	}
	for i, mutate := range tests {
		cfg := DefaultConfig()
		mutate(&cfg)
		assert.ErrorIs(cfg.Verify(), errInvalidConfig, "case %d", i)
	}
}

func TestAppendTx(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	e := newEnv(t, testConfig())
	tx := spend(t, 1, 10)
	require.NoError(e.v.AppendTx(ctx, tx))
	assert.Equal([]ids.ID{tx.ID()}, e.v.MempoolTxs())

	select {
	case <-e.v.Ready():
	default:
		t.Fatal("mempool did not signal a new transaction")
	}

	msg := e.received(t)
	assert.Equal(p2p.KindTransaction, msg.Kind)
	got, err := p2p.DecodeTransaction(msg)
	require.NoError(err)
	assert.Equal(tx.ID(), got.ID())

	assert.ErrorIs(e.v.AppendTx(ctx, tx), ErrDuplicate)
	assert.Len(e.v.MempoolTxs(), 1)
}

func TestAppendTxRejects(t *testing.T) {
	e := newEnv(t, testConfig())
	key, other := newKey(t), newKey(t)

	// Signed by [other] while claiming [key].
	forged := newTx(t, testCall{Nullifiers: []uint64{1}}, []*btcec.PrivateKey{other})
	forged.Calls[0].Data = mustMarshal(t, &testCall{
		Nullifiers: []uint64{1},
		Signers:    [][]byte{schnorr.SerializePubKey(key.PubKey())},
	})
	require.NoError(t, forged.Sign([][]*btcec.PrivateKey{{other}}))

	missing := newTx(t, testCall{Signers: [][]byte{schnorr.SerializePubKey(key.PubKey())}}, nil)

	unknown := spend(t, 1, 1)
	unknown.Calls[0].FunctionID = ids.GenerateTestID()
	require.NoError(t, unknown.Sign([][]*btcec.PrivateKey{{key}}))

	tests := []struct {
		name string
		tx   *blockchain.Transaction
		err  error
	}{
		{"rejected by contract", newTx(t, testCall{Reject: true}, nil), errRejected},
		{"wrong signer", forged, blockchain.ErrInvalidSignature},
		{"missing signature", missing, ErrSignatureCount},
		{"unexpected proof", newTx(t, testCall{}, nil, []byte{1}), ErrProofCount},
		{"unknown function", unknown, contract.ErrUnknownFunction},
		{"repeated nullifier", newTx(t, testCall{Nullifiers: []uint64{4, 4}}, nil), ErrDoubleSpend},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := e.v.AppendTx(context.Background(), test.tx)
			assert.ErrorIs(t, err, test.err)
			assert.True(t, IsTxInvalid(err))
			assert.False(t, IsFatal(err))
		})
	}
	assert.Empty(t, e.v.MempoolTxs())
	assert.Equal(t, float64(len(tests)), testutil.ToFloat64(e.v.metrics.txsRejected))
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := blockchain.Codec.Marshal(blockchain.CodecVersion, v)
	require.NoError(t, err)
	return b
}

func TestMempoolFull(t *testing.T) {
	cfg := testConfig()
	cfg.MempoolSize = 1
	e := newEnv(t, cfg)

	require.NoError(t, e.v.AppendTx(context.Background(), spend(t, 1, 1)))
	assert.ErrorIs(t, e.v.AppendTx(context.Background(), spend(t, 2, 2)), ErrMempoolFull)
}

func TestProposalDoubleSpend(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	cfg := testConfig()
	cfg.FinalizationThreshold = 10
	e := newEnv(t, cfg)
	gID, g := e.tip()

	first, second := spend(t, 5, 1), spend(t, 5, 2)
	err := e.v.AppendProposal(ctx, e.propose(t, gID, g, 1, first, second))
	assert.ErrorIs(err, ErrDoubleSpend)
	assert.True(IsTxInvalid(err))
	assert.Empty(e.v.Forks())

	err = e.v.AppendProposal(ctx, e.propose(t, gID, g, 1, first, first))
	assert.ErrorIs(err, ErrDuplicate)

	b1 := e.propose(t, gID, g, 1, first)
	require.NoError(e.v.AppendProposal(ctx, b1))

	// The nullifier is spent on the fork, so spending it again on top fails.
	err = e.v.AppendProposal(ctx, e.propose(t, b1.ID(), b1.Header, 1, second))
	assert.ErrorIs(err, ErrDoubleSpend)

	// Including the same transaction twice along a fork fails as well.
	err = e.v.AppendProposal(ctx, e.propose(t, b1.ID(), b1.Header, 1, first))
	assert.ErrorIs(err, ErrDuplicate)

	// A sibling of b1 does not see b1's spend.
	require.NoError(e.v.AppendProposal(ctx, e.propose(t, gID, g, 1, second)))
	assert.Len(e.v.Forks(), 2)
	assert.Equal(float64(2), testutil.ToFloat64(e.v.metrics.proposalsAccepted))
}

func TestAppendProposalRejects(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	e := newEnv(t, testConfig())
	gID, g := e.tip()

	b1 := e.propose(t, gID, g, 1)
	assert.NoError(e.v.AppendProposal(ctx, b1))
	assert.ErrorIs(e.v.AppendProposal(ctx, b1), ErrDuplicate)

	orphan := e.propose(t, ids.GenerateTestID(), b1.Header, 1)
	assert.ErrorIs(e.v.AppendProposal(ctx, orphan), ErrUnknownParent)

	assert.ErrorIs(e.v.AppendProposal(ctx, e.propose(t, gID, g, 1, newTx(t, testCall{Reject: true}, nil))), errRejected)
	assert.Len(e.v.Forks(), 1)
	assert.Len(e.v.Forks()[0].Proposals, 1)
}

func TestFinalization(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	e := newEnv(t, testConfig())
	tx := spend(t, 9, 90)
	require.NoError(e.v.AppendTx(ctx, tx))
	gID, g := e.tip()

	b1 := e.propose(t, gID, g, 1, tx)
	require.NoError(e.v.AppendProposal(ctx, b1))
	assert.Equal(uint64(0), e.v.bc.Height())
	forks := e.v.Forks()
	require.Len(forks, 1)
	assert.Equal(Winning.String(), forks[0].State)
	assert.Equal(b1.ID(), forks[0].Tip)

	tracked := e.v.forks[0]
	b2 := e.propose(t, b1.ID(), b1.Header, 1)
	require.NoError(e.v.AppendProposal(ctx, b2))

	assert.Equal(uint64(2), e.v.bc.Height())
	assert.Equal(b2.ID(), e.v.bc.LastBlock().ID())
	assert.Equal(Finalized, tracked.State())

	forks = e.v.Forks()
	require.Len(forks, 1)
	assert.Empty(forks[0].Proposals)
	assert.Equal(b2.ID(), forks[0].Tip)
	assert.Empty(e.v.MempoolTxs())

	stored, err := e.v.bc.GetTransaction(tx.ID())
	require.NoError(err)
	assert.Equal(tx.Bytes(), stored.Bytes())
	spent, err := e.v.bc.HasNullifier(element(9))
	require.NoError(err)
	assert.True(spent)
	applied, err := e.v.bc.Contains(callsTree, txIDBytes(tx))
	require.NoError(err)
	assert.True(applied)

	// Finalized transactions cannot come back.
	assert.ErrorIs(e.v.AppendTx(ctx, tx), ErrDuplicate)
	assert.ErrorIs(e.v.AppendTx(ctx, spend(t, 9, 91)), ErrDoubleSpend)
	assert.Equal(float64(2), testutil.ToFloat64(e.v.metrics.finalizedHeight))
}

func txIDBytes(tx *blockchain.Transaction) []byte {
	txID := tx.ID()
	return txID[:]
}

func TestCompetingForksDelayFinalization(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	e := newEnv(t, testConfig())
	gID, g := e.tip()

	a1 := e.propose(t, gID, g, 1)
	b1 := e.propose(t, gID, g, 2)
	require.NoError(e.v.AppendProposal(ctx, a1))
	require.NoError(e.v.AppendProposal(ctx, b1))
	require.Len(e.v.Forks(), 2)
	loser := e.v.forks[1]
	assert.Equal(Winning, loser.State())

	// Fork a now has two proposals but only ties fork b.
	a2 := e.propose(t, a1.ID(), a1.Header, 1)
	require.NoError(e.v.AppendProposal(ctx, a2))
	assert.Equal(uint64(0), e.v.bc.Height())
	assert.Len(e.v.Forks(), 2)

	a3 := e.propose(t, a2.ID(), a2.Header, 1)
	require.NoError(e.v.AppendProposal(ctx, a3))
	assert.Equal(uint64(3), e.v.bc.Height())
	assert.Equal(a3.ID(), e.v.bc.LastBlock().ID())
	assert.Equal(Pruned, loser.State())
	assert.Len(e.v.Forks(), 1)

	// The pruned fork is gone.
	b2 := e.propose(t, b1.ID(), b1.Header, 1)
	assert.ErrorIs(e.v.AppendProposal(ctx, b2), ErrUnknownParent)
}

func TestBranchInsideFork(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	cfg := testConfig()
	cfg.FinalizationThreshold = 10
	e := newEnv(t, cfg)
	gID, g := e.tip()

	a1 := e.propose(t, gID, g, 1, spend(t, 1, 1))
	a2 := e.propose(t, a1.ID(), a1.Header, 1, spend(t, 2, 2))
	require.NoError(e.v.AppendProposal(ctx, a1))
	require.NoError(e.v.AppendProposal(ctx, a2))

	// b2 shares a1 with the first fork and spends what a2 spends.
	b2 := e.propose(t, a1.ID(), a1.Header, 3, spend(t, 2, 3))
	require.NoError(e.v.AppendProposal(ctx, b2))

	forks := e.v.Forks()
	require.Len(forks, 2)
	assert.Equal([]ids.ID{a1.ID(), a2.ID()}, forks[0].Proposals)
	assert.Equal([]ids.ID{a1.ID(), b2.ID()}, forks[1].Proposals)
	assert.Equal(uint64(4), forks[1].Score)

	tree := e.v.ForkTree()
	assert.Contains(tree, "winning")
	assert.Contains(tree, "score 4")
	assert.Contains(tree, b2.ID().String())
	assert.Equal(Winning.String(), forks[1].State)
	assert.Equal(Active.String(), forks[0].State)

	// The forks do not share state.
	spent, err := e.v.forks[0].Overlay().HasNullifier(element(2))
	require.NoError(err)
	assert.True(spent)
	coins, err := e.v.forks[0].Overlay().MerkleRoot()
	require.NoError(err)
	other, err := e.v.forks[1].Overlay().MerkleRoot()
	require.NoError(err)
	assert.NotEqual(coins, other)
}

func TestFailedFinalizationHalts(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	cfg := testConfig()
	cfg.FinalizationThreshold = 1
	db := &failingDB{Database: memdb.New()}
	e := newEnvWithDB(t, cfg, db)
	gID, g := e.tip()

	db.fail = true
	b1 := e.propose(t, gID, g, 1, spend(t, 1, 1))
	require.NoError(e.v.AppendProposal(ctx, b1))
	assert.True(e.v.Halted())
	assert.Equal(uint64(0), e.v.bc.Height())
	assert.Equal(float64(1), testutil.ToFloat64(e.v.metrics.finalizeFailures))

	b2 := e.propose(t, b1.ID(), b1.Header, 1)
	assert.ErrorIs(e.v.AppendProposal(ctx, b2), ErrHalted)

	err := e.v.Finalize()
	assert.True(IsFatal(err))
	assert.ErrorIs(err, blockchain.ErrMerge)

	db.fail = false
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- e.v.Run(runCtx) }()

	require.Eventually(func() bool { return !e.v.Halted() }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(uint64(1), e.v.bc.Height())
	assert.Equal(b1.ID(), e.v.bc.LastBlock().ID())

	cancel()
	assert.NoError(<-done)

	require.NoError(e.v.AppendProposal(ctx, b2))
	assert.Equal(uint64(2), e.v.bc.Height())
}

func TestHandleMessage(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	e := newEnv(t, testConfig())
	msg := p2p.EncodeTransaction(spend(t, 1, 1))
	require.NoError(e.v.HandleMessage(ctx, msg))
	require.NoError(e.v.HandleMessage(ctx, msg))
	assert.Len(e.v.MempoolTxs(), 1)
	assert.Equal(float64(1), testutil.ToFloat64(e.v.metrics.duplicatesDropped))

	gID, g := e.tip()
	blk := e.propose(t, gID, g, 1)
	require.NoError(e.v.HandleMessage(ctx, p2p.EncodeProposal(blk)))
	assert.Len(e.v.Forks(), 1)

	vote, err := p2p.NewVote(e.producer, blk.ID(), blk.Height())
	require.NoError(err)
	voteMsg, err := p2p.EncodeVote(vote)
	require.NoError(err)
	require.NoError(e.v.HandleMessage(ctx, voteMsg))
	assert.Equal(float64(1), testutil.ToFloat64(e.v.metrics.votesReceived))

	vote.Height++
	forged, err := p2p.EncodeVote(vote)
	require.NoError(err)
	assert.Error(e.v.HandleMessage(ctx, forged))
	// Invalid messages are remembered too.
	assert.NoError(e.v.HandleMessage(ctx, forged))

	assert.Error(e.v.HandleMessage(ctx, p2p.Message{Kind: p2p.KindProposal, Payload: []byte{1, 2, 3}}))
}

func TestHandleMessageRedelivery(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	e := newEnv(t, testConfig())
	gID, g := e.tip()
	b1 := e.propose(t, gID, g, 1)
	b2 := e.propose(t, b1.ID(), b1.Header, 1)

	// The child arrives before its parent.
	child := p2p.EncodeProposal(b2)
	assert.ErrorIs(e.v.HandleMessage(ctx, child), ErrUnknownParent)
	require.NoError(e.v.HandleMessage(ctx, p2p.EncodeProposal(b1)))
	require.Equal(uint64(0), e.v.bc.Height())

	require.NoError(e.v.HandleMessage(ctx, child))
	assert.Equal(uint64(2), e.v.bc.Height())
	assert.Equal(b2.ID(), e.v.bc.LastBlock().ID())
	assert.Zero(testutil.ToFloat64(e.v.metrics.duplicatesDropped))

	// Accepted now, so a third delivery is dropped.
	require.NoError(e.v.HandleMessage(ctx, child))
	assert.Equal(float64(1), testutil.ToFloat64(e.v.metrics.duplicatesDropped))
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{fmt.Errorf("%w: x", ErrUnknownParent), true},
		{ErrHalted, true},
		{fmt.Errorf("%w: x", ErrTimestampTooLate), true},
		{fmt.Errorf("%w: x", ErrMempoolFull), true},
		{context.Canceled, true},
		{&FatalError{Op: "reading", Err: errReadFailed}, true},
		{fmt.Errorf("%w: x", ErrLowDifficulty), false},
		{txError(ids.Empty, errRejected), false},
		{ErrDuplicate, false},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, retryable(test.err), "%v", test.err)
	}
}

func TestFinalizationPurgesMempool(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	cfg := testConfig()
	cfg.MempoolSize = 2
	e := newEnv(t, cfg)

	a, b := spend(t, 7, 1), spend(t, 7, 2)
	require.NoError(e.v.AppendTx(ctx, a))
	require.NoError(e.v.AppendTx(ctx, b))

	gID, g := e.tip()
	b1 := e.propose(t, gID, g, 1, a)
	require.NoError(e.v.AppendProposal(ctx, b1))
	require.NoError(e.v.AppendProposal(ctx, e.propose(t, b1.ID(), b1.Header, 1)))
	require.Equal(uint64(2), e.v.bc.Height())

	// b spends a finalized nullifier, so it leaves with a.
	assert.Empty(e.v.MempoolTxs())
	assert.Zero(testutil.ToFloat64(e.v.metrics.mempoolSize))
	require.NoError(e.v.AppendTx(ctx, spend(t, 8, 1)))
	require.NoError(e.v.AppendTx(ctx, spend(t, 9, 1)))
}

func TestStorageFailureIsFatal(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	db := &failingDB{Database: memdb.New()}
	e := newEnvWithDB(t, testConfig(), db)
	db.failGets = true

	err := e.v.verifier.VerifyTransaction(ctx, blockchain.NewOverlay(e.v.bc), spend(t, 1, 1), 1)
	assert.True(IsFatal(err))
	assert.False(IsTxInvalid(err))
	assert.ErrorIs(err, blockchain.ErrStorage)
	assert.ErrorIs(err, errReadFailed)

	err = e.v.AppendTx(ctx, spend(t, 2, 2))
	assert.True(IsFatal(err))
	assert.Empty(e.v.MempoolTxs())

	db.failGets = false
	assert.NoError(e.v.AppendTx(ctx, spend(t, 2, 2)))
}

func TestBuildProposal(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	e := newEnv(t, testConfig())
	first, conflicting, third := spend(t, 1, 1), spend(t, 1, 2), spend(t, 2, 3)
	for _, tx := range []*blockchain.Transaction{first, conflicting, third, newTx(t, testCall{}, nil)} {
		require.NoError(e.v.AppendTx(ctx, tx))
	}

	// Only the first spend of a nullifier makes it in.
	e.v.builder.maxTxs = 2
	blk, err := e.v.BuildProposal(ctx, e.producer)
	require.NoError(err)
	assert.Equal([]ids.ID{first.ID(), third.ID()}, blk.TxIDs())
	assert.Equal(uint64(1), blk.Height())
	assert.Equal(testTime.Unix(), blk.Header.Timestamp)
	require.NoError(e.v.AppendProposal(ctx, blk))

	// The next proposal builds on the fork and skips what it includes.
	next, err := e.v.BuildProposal(ctx, e.producer)
	require.NoError(err)
	assert.Equal(blk.ID(), next.Parent())
	assert.Len(next.Txs, 1)
	require.NoError(e.v.AppendProposal(ctx, next))
	assert.Equal(uint64(2), e.v.bc.Height())

	// Finalizing the first spend drops the conflicting one.
	assert.Empty(e.v.MempoolTxs())
	assert.ErrorIs(e.v.AppendTx(ctx, conflicting), ErrDoubleSpend)
	empty, err := e.v.BuildProposal(ctx, e.producer)
	require.NoError(err)
	assert.Empty(empty.Txs)
}

func TestBuildProposalCanceled(t *testing.T) {
	e := newEnv(t, testConfig())
	e.v.builder.difficulty = 1 << 62

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.v.BuildProposal(ctx, e.producer)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValidatorsSync(t *testing.T) {
	require := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig()
	cfg.FinalizationThreshold = 1
	hub := p2p.NewHub()
	validators := make([]*Validator, 2)
	done := make(chan error, len(validators))
	for i := range validators {
		peer, err := hub.Join(ids.GenerateTestShortID(), p2p.DefaultInboxSize)
		require.NoError(err)
		validators[i] = newValidator(t, cfg, memdb.New(), peer, nil, newTestContract(t))
		v := validators[i]
		go func() { done <- v.Run(ctx) }()
	}

	tx := spend(t, 3, 3)
	require.NoError(validators[0].AppendTx(ctx, tx))
	require.Eventually(func() bool { return len(validators[1].MempoolTxs()) == 1 }, 5*time.Second, 10*time.Millisecond)

	blk, err := validators[1].BuildProposal(ctx, newKey(t))
	require.NoError(err)
	require.NoError(validators[1].AppendProposal(ctx, blk))
	require.Equal(uint64(1), validators[1].bc.Height())

	require.Eventually(func() bool { return validators[0].bc.Height() == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(blk.ID(), validators[0].bc.LastBlock().ID())
	require.Empty(validators[0].MempoolTxs())

	cancel()
	for range validators {
		require.NoError(<-done)
	}
}

func TestProofVerification(t *testing.T) {
	if testing.Short() {
		t.Skip("building proving keys takes a while")
	}
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	e := newEnv(t, testConfig())
	pk, err := e.v.verifier.keys.ProvingKey(e.contract.arith)
	require.NoError(err)
	proof, err := zk.CreateProof(pk, []zk.Witness{zk.WitnessBase(element(42)), zk.WitnessBase(element(69))}, arithPublic(42, 69))
	require.NoError(err)

	valid := newTx(t, testCall{Arith: []uint64{42, 69}, Nullifiers: []uint64{1}}, nil, proof)
	require.NoError(e.v.AppendTx(ctx, valid))

	// The same proof claimed for other values.
	wrong := newTx(t, testCall{Arith: []uint64{42, 70}, Nullifiers: []uint64{2}}, nil, proof)
	err = e.v.AppendTx(ctx, wrong)
	assert.ErrorIs(err, zk.ErrVerificationFailed)
	assert.True(IsTxInvalid(err))

	garbage := newTx(t, testCall{Arith: []uint64{42, 69}, Nullifiers: []uint64{3}}, nil, []byte{1, 2, 3})
	assert.ErrorIs(e.v.AppendTx(ctx, garbage), zk.ErrVerificationFailed)

	assert.Equal([]ids.ID{valid.ID()}, e.v.MempoolTxs())
}

// slowContract holds every call in Process until it is released.
type slowContract struct {
	*testContractImpl
	entered chan struct{}
	release chan struct{}
}

func (*slowContract) Name() string              { return "Slow" }
func (*slowContract) Circuits() []*zkas.ZkBinary { return nil }

func (c *slowContract) Process(ctx *contract.CallContext, st contract.State) (*contract.StateUpdate, error) {
	select {
	case c.entered <- struct{}{}:
	default:
	}
	<-c.release
	return c.testContractImpl.Process(ctx, st)
}

func TestVerificationDoesNotBlockForks(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	slow := &slowContract{
		testContractImpl: newTestContract(t),
		entered:          make(chan struct{}, 1),
		release:          make(chan struct{}),
	}
	hub := p2p.NewHub()
	self, err := hub.Join(ids.GenerateTestShortID(), p2p.DefaultInboxSize)
	require.NoError(err)
	v := newValidator(t, testConfig(), memdb.New(), self, nil, newTestContract(t), slow)

	data, err := blockchain.Codec.Marshal(blockchain.CodecVersion, &testCall{Nullifiers: []uint64{1}})
	require.NoError(err)
	slowID := contract.ContractID("Slow")
	tx := &blockchain.Transaction{
		Calls: []blockchain.ContractCall{{
			ContractID: slowID,
			FunctionID: contract.FunctionID(slowID, "Call"),
			Data:       data,
		}},
		Proofs: [][][]byte{nil},
	}
	require.NoError(tx.Sign([][]*btcec.PrivateKey{nil}))

	done := make(chan error, 1)
	go func() { done <- v.AppendTx(ctx, tx) }()
	<-slow.entered

	queried := make(chan string, 1)
	go func() {
		v.Forks()
		queried <- v.ForkTree()
	}()
	select {
	case tree := <-queried:
		require.NotEmpty(tree)
	case <-time.After(5 * time.Second):
		t.Fatal("fork queries waited for transaction verification")
	}

	close(slow.release)
	require.NoError(<-done)
	require.Equal([]ids.ID{tx.ID()}, v.MempoolTxs())
}
