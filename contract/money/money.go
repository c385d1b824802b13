// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package money is the native contract that moves value between anonymous
// coins. A Transfer burns coins of the commitment tree, revealing their
// nullifiers, and mints new ones; value commitments prove that nothing is
// created on the way.
package money

import (
	_ "embed"

	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	edwards "github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"

	"github.com/darkrenaissance/darkfi-sub018/blockchain"
	"github.com/darkrenaissance/darkfi-sub018/contract"
	"github.com/darkrenaissance/darkfi-sub018/zkas"
)

const (
	Name     = "Money"
	Transfer = "Transfer"

	MintNamespace = "Mint"
	BurnNamespace = "Burn"

	notesTree = "notes"
)

var (
	ErrMalformedCall      = errors.New("malformed money call")
	ErrNoInputs           = errors.New("transfer spends no coins")
	ErrUnknownMerkleRoot  = errors.New("merkle root is not in the root history")
	ErrDuplicateNullifier = errors.New("nullifier repeated within the call")
	ErrValueMismatch      = errors.New("input and output values differ")
	errUnknownFunction    = errors.New("unknown money function")
)

var (
	//go:embed proof/mint.zk
	mintSource []byte
	//go:embed proof/burn.zk
	burnSource []byte

	MintCircuit *zkas.ZkBinary
	BurnCircuit *zkas.ZkBinary

	ContractID = contract.ContractID(Name)
	TransferID = contract.FunctionID(ContractID, Transfer)
)

func init() {
	var err error
	if MintCircuit, err = zkas.AnalyzeSource("mint.zk", mintSource); err != nil {
		panic(err)
	}
	if BurnCircuit, err = zkas.AnalyzeSource("burn.zk", burnSource); err != nil {
		panic(err)
	}
}

// Contract implements contract.Contract.
type Contract struct{}

func New() *Contract { return &Contract{} }

func (*Contract) Name() string        { return Name }
func (*Contract) Functions() []string { return []string{Transfer} }

func (*Contract) Circuits() []*zkas.ZkBinary {
	return []*zkas.ZkBinary{MintCircuit, BurnCircuit}
}

// transfer is a decoded and validated Transfer call.
type transfer struct {
	params     *TransferParams
	nullifiers []fr.Element
	roots      []fr.Element
	coins      []fr.Element
	inCommits  []edwards.PointAffine
	outCommits []edwards.PointAffine
}

func decodeTransfer(ctx *contract.CallContext) (*transfer, error) {
	if ctx.Function != Transfer {
		return nil, fmt.Errorf("%w: %s", errUnknownFunction, ctx.Function)
	}
	params, err := ParseTransferParams(ctx.Call().Data)
	if err != nil {
		return nil, err
	}
	t := &transfer{params: params}
	for i := range params.Inputs {
		in := &params.Inputs[i]
		n, err := decodeElement(in.Nullifier)
		if err != nil {
			return nil, fmt.Errorf("%w: input %d nullifier: %v", ErrMalformedCall, i, err)
		}
		root, err := decodeElement(in.MerkleRoot)
		if err != nil {
			return nil, fmt.Errorf("%w: input %d root: %v", ErrMalformedCall, i, err)
		}
		vc, err := in.ValueCommit.decode()
		if err != nil {
			return nil, fmt.Errorf("%w: input %d value commitment: %v", ErrMalformedCall, i, err)
		}
		t.nullifiers = append(t.nullifiers, n)
		t.roots = append(t.roots, root)
		t.inCommits = append(t.inCommits, vc)
	}
	for i := range params.Outputs {
		out := &params.Outputs[i]
		coin, err := decodeElement(out.Coin)
		if err != nil {
			return nil, fmt.Errorf("%w: output %d coin: %v", ErrMalformedCall, i, err)
		}
		vc, err := out.ValueCommit.decode()
		if err != nil {
			return nil, fmt.Errorf("%w: output %d value commitment: %v", ErrMalformedCall, i, err)
		}
		t.coins = append(t.coins, coin)
		t.outCommits = append(t.outCommits, vc)
	}
	return t, nil
}

// Metadata asks for one Burn proof per input, then one Mint proof per
// output, and one signature per input.
func (*Contract) Metadata(ctx *contract.CallContext) (*contract.Metadata, error) {
	t, err := decodeTransfer(ctx)
	if err != nil {
		return nil, err
	}

	meta := &contract.Metadata{}
	for i := range t.params.Inputs {
		in := &t.params.Inputs[i]
		vc := &t.inCommits[i]
		meta.ZkPublicInputs = append(meta.ZkPublicInputs, contract.ZkInput{
			Namespace:    BurnNamespace,
			PublicInputs: []fr.Element{t.nullifiers[i], vc.X, vc.Y, t.roots[i], SignatureTag(in.SignaturePublic)},
		})
		meta.SignaturePublicKeys = append(meta.SignaturePublicKeys, in.SignaturePublic)
	}
	for i := range t.params.Outputs {
		vc := &t.outCommits[i]
		meta.ZkPublicInputs = append(meta.ZkPublicInputs, contract.ZkInput{
			Namespace:    MintNamespace,
			PublicInputs: []fr.Element{t.coins[i], vc.X, vc.Y},
		})
	}
	return meta, nil
}

// Process checks the call against the state. Nullifiers already spent are
// left to the validator, which rejects them when applying the update.
func (*Contract) Process(ctx *contract.CallContext, st contract.State) (*contract.StateUpdate, error) {
	t, err := decodeTransfer(ctx)
	if err != nil {
		return nil, err
	}
	if len(t.nullifiers) == 0 {
		return nil, ErrNoInputs
	}

	seen := make(map[fr.Element]struct{}, len(t.nullifiers))
	for i := range t.nullifiers {
		if _, dup := seen[t.nullifiers[i]]; dup {
			return nil, fmt.Errorf("%w: input %d", ErrDuplicateNullifier, i)
		}
		seen[t.nullifiers[i]] = struct{}{}

		ok, err := st.HasMerkleRoot(t.roots[i])
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: input %d", ErrUnknownMerkleRoot, i)
		}
	}

	if !balanced(t.inCommits, t.outCommits) {
		return nil, ErrValueMismatch
	}

	payload := &notes{}
	for i := range t.params.Outputs {
		payload.Coins = append(payload.Coins, t.params.Outputs[i].Coin)
		payload.Notes = append(payload.Notes, t.params.Outputs[i].Note)
	}
	b, err := blockchain.Codec.Marshal(blockchain.CodecVersion, payload)
	if err != nil {
		return nil, err
	}
	return &contract.StateUpdate{
		Nullifiers: t.nullifiers,
		Coins:      t.coins,
		Payload:    b,
	}, nil
}

// Apply stores the note of every new coin for wallets to scan.
func (*Contract) Apply(ctx *contract.CallContext, st contract.State, up *contract.StateUpdate) error {
	payload := &notes{}
	if _, err := blockchain.Codec.Unmarshal(up.Payload, payload); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedCall, err)
	}
	keys := make([][]byte, len(payload.Coins))
	for i := range payload.Coins {
		keys[i] = payload.Coins[i][:]
	}
	return st.Insert(NotesTree(), keys, payload.Notes)
}

// NotesTree is the tree mapping coins to their notes.
func NotesTree() string {
	return blockchain.ContractTree(ContractID, notesTree)
}

// balanced reports whether the input commitments sum to the output ones.
func balanced(in, out []edwards.PointAffine) bool {
	var sumIn, sumOut edwards.PointAffine
	sumIn.Y.SetOne()
	sumOut.Y.SetOne()
	for i := range in {
		sumIn.Add(&sumIn, &in[i])
	}
	for i := range out {
		sumOut.Add(&sumOut, &out[i])
	}
	return sumIn.Equal(&sumOut)
}

var _ contract.Contract = (*Contract)(nil)

// Call wraps encoded Transfer params into a contract call.
func Call(params *TransferParams) (blockchain.ContractCall, error) {
	data, err := params.Bytes()
	if err != nil {
		return blockchain.ContractCall{}, err
	}
	return blockchain.ContractCall{
		ContractID: ContractID,
		FunctionID: TransferID,
		Data:       data,
	}, nil
}

// IsTransfer reports whether [call] targets Transfer.
func IsTransfer(call *blockchain.ContractCall) bool {
	return call.ContractID == ContractID && call.FunctionID == TransferID
}
