// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package money

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"

	edwards "github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"

	"github.com/darkrenaissance/darkfi-sub018/blockchain"
	"github.com/darkrenaissance/darkfi-sub018/merkle"
	"github.com/darkrenaissance/darkfi-sub018/zk"
	"github.com/darkrenaissance/darkfi-sub018/zkas"
)

const signatureTagDomain = "darkfi:money:signature:"

var (
	errNoOutputs     = errors.New("transfer creates no coins")
	errValueOverflow = errors.New("transfer value overflows")
)

// SignatureTag binds a Burn proof to the key that signs for the input.
func SignatureTag(pub []byte) fr.Element {
	h := blake3.New()
	_, _ = h.Write([]byte(signatureTagDomain))
	_, _ = h.Write(pub)
	var tag fr.Element
	tag.SetBytes(h.Sum(nil))
	return tag
}

// ValueCommit commits to [value] under [blind].
func ValueCommit(value uint64, blind fr.Element) (edwards.PointAffine, error) {
	var v fr.Element
	v.SetUint64(value)
	vcv, err := zk.MulFixed(zkas.ValueCommitValue, v)
	if err != nil {
		return edwards.PointAffine{}, err
	}
	vcr, err := zk.MulFixed(zkas.ValueCommitRandom, blind)
	if err != nil {
		return edwards.PointAffine{}, err
	}
	var out edwards.PointAffine
	out.Add(&vcv, &vcr)
	return out, nil
}

// PublicKey of the owner of [secret].
func PublicKey(secret fr.Element) edwards.PointAffine {
	pub, err := zk.MulFixed(zkas.NullifierK, secret)
	if err != nil {
		// NULLIFIER_K is always defined
		panic(err)
	}
	return pub
}

// MakeCoin is the commitment tree leaf of a coin.
func MakeCoin(pub edwards.PointAffine, value uint64, serial fr.Element) fr.Element {
	var v fr.Element
	v.SetUint64(value)
	return merkle.Hash(pub.X, pub.Y, v, serial)
}

func random() (fr.Element, error) {
	var e fr.Element
	_, err := e.SetRandom()
	return e, err
}

// NewSerial draws a random coin serial.
func NewSerial() (fr.Element, error) { return random() }

// OwnedCoin is a coin a wallet can spend.
type OwnedCoin struct {
	Secret fr.Element
	Value  uint64
	Serial fr.Element
}

func (c *OwnedCoin) PublicKey() edwards.PointAffine { return PublicKey(c.Secret) }
func (c *OwnedCoin) Coin() fr.Element             { return MakeCoin(c.PublicKey(), c.Value, c.Serial) }
func (c *OwnedCoin) Nullifier() fr.Element        { return merkle.Hash(c.Secret, c.Serial) }

// Spend is an owned coin together with its place in the commitment tree.
type Spend struct {
	Coin     OwnedCoin
	Position uint32
	Path     [merkle.Depth]fr.Element
	// Key signs the transaction for this input.
	Key *btcec.PrivateKey
}

// Recipient is a coin to create.
type Recipient struct {
	PublicKey edwards.PointAffine
	Value     uint64
	Serial    fr.Element
	Note      []byte
}

func (r *Recipient) Coin() fr.Element { return MakeCoin(r.PublicKey, r.Value, r.Serial) }

// Prover hands out the proving keys of circuits. *zk.KeyCache is one.
type Prover interface {
	ProvingKey(bin *zkas.ZkBinary) (*zk.ProvingKey, error)
}

type proofRequest struct {
	bin       *zkas.ZkBinary
	witnesses []zk.Witness
	public    []fr.Element
}

// unprovenTransfer is a Transfer with everything but the proofs.
type unprovenTransfer struct {
	params   *TransferParams
	requests []proofRequest
	keys     []*btcec.PrivateKey
}

func sumValues(values []uint64) (uint64, error) {
	var sum uint64
	for _, v := range values {
		if sum+v < sum {
			return 0, errValueOverflow
		}
		sum += v
	}
	return sum, nil
}

func prepareTransfer(spends []Spend, recipients []Recipient) (*unprovenTransfer, error) {
	switch {
	case len(spends) == 0:
		return nil, ErrNoInputs
	case len(recipients) == 0:
		return nil, errNoOutputs
	}

	in := make([]uint64, len(spends))
	for i := range spends {
		in[i] = spends[i].Coin.Value
	}
	out := make([]uint64, len(recipients))
	for i := range recipients {
		out[i] = recipients[i].Value
	}
	sumIn, err := sumValues(in)
	if err != nil {
		return nil, err
	}
	sumOut, err := sumValues(out)
	if err != nil {
		return nil, err
	}
	if sumIn != sumOut {
		return nil, fmt.Errorf("%w: %d in, %d out", ErrValueMismatch, sumIn, sumOut)
	}

	// Blinds only need to cancel modulo the order of the commitment
	// generators, so the last output takes whatever is left.
	curve := edwards.GetEdwardsCurve()
	order := &curve.Order
	var (
		blindIn  = make([]fr.Element, len(spends))
		blindOut = make([]fr.Element, len(recipients))
		total    = new(big.Int)
	)
	draw := func(e *fr.Element) (*big.Int, error) {
		r, err := random()
		if err != nil {
			return nil, err
		}
		b := r.BigInt(new(big.Int))
		b.Mod(b, order)
		e.SetBigInt(b)
		return b, nil
	}
	for i := range blindIn {
		b, err := draw(&blindIn[i])
		if err != nil {
			return nil, err
		}
		total.Add(total, b)
	}
	for i := 0; i < len(blindOut)-1; i++ {
		b, err := draw(&blindOut[i])
		if err != nil {
			return nil, err
		}
		total.Sub(total, b)
	}
	blindOut[len(blindOut)-1].SetBigInt(total.Mod(total, order))

	t := &unprovenTransfer{params: &TransferParams{}}
	for i := range spends {
		s := &spends[i]
		vc, err := ValueCommit(s.Coin.Value, blindIn[i])
		if err != nil {
			return nil, err
		}
		sigPub := schnorr.SerializePubKey(s.Key.PubKey())
		tag := SignatureTag(sigPub)
		nullifier := s.Coin.Nullifier()
		root := merkle.ComputeRoot(s.Position, s.Path, s.Coin.Coin())

		t.params.Inputs = append(t.params.Inputs, Input{
			Nullifier:       nullifier.Bytes(),
			ValueCommit:     encodePoint(&vc),
			MerkleRoot:      root.Bytes(),
			SignaturePublic: sigPub,
		})
		var value fr.Element
		value.SetUint64(s.Coin.Value)
		t.requests = append(t.requests, proofRequest{
			bin: BurnCircuit,
			witnesses: []zk.Witness{
				zk.WitnessBase(s.Coin.Secret),
				zk.WitnessBase(s.Coin.Serial),
				zk.WitnessBase(value),
				zk.WitnessScalar(blindIn[i]),
				zk.WitnessBase(tag),
				zk.WitnessUint32(s.Position),
				zk.WitnessMerklePath(s.Path),
			},
			public: []fr.Element{nullifier, vc.X, vc.Y, root, tag},
		})
		t.keys = append(t.keys, s.Key)
	}
	for i := range recipients {
		r := &recipients[i]
		vc, err := ValueCommit(r.Value, blindOut[i])
		if err != nil {
			return nil, err
		}
		coin := r.Coin()
		t.params.Outputs = append(t.params.Outputs, Output{
			Coin:        coin.Bytes(),
			ValueCommit: encodePoint(&vc),
			Note:        r.Note,
		})
		var value fr.Element
		value.SetUint64(r.Value)
		t.requests = append(t.requests, proofRequest{
			bin: MintCircuit,
			witnesses: []zk.Witness{
				zk.WitnessBase(r.PublicKey.X),
				zk.WitnessBase(r.PublicKey.Y),
				zk.WitnessBase(value),
				zk.WitnessBase(r.Serial),
				zk.WitnessScalar(blindOut[i]),
			},
			public: []fr.Element{coin, vc.X, vc.Y},
		})
	}
	return t, nil
}

// BuildTransfer creates a signed transaction spending [spends] into
// [recipients]. The proofs are created concurrently.
func BuildTransfer(prover Prover, spends []Spend, recipients []Recipient) (*blockchain.Transaction, error) {
	t, err := prepareTransfer(spends, recipients)
	if err != nil {
		return nil, err
	}

	proofs := make([][]byte, len(t.requests))
	var g errgroup.Group
	for i := range t.requests {
		i := i
		g.Go(func() error {
			req := &t.requests[i]
			pk, err := prover.ProvingKey(req.bin)
			if err != nil {
				return err
			}
			proof, err := zk.CreateProof(pk, req.witnesses, req.public)
			if err != nil {
				return fmt.Errorf("failed to prove %s: %w", req.bin.Namespace, err)
			}
			proofs[i] = proof
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	call, err := Call(t.params)
	if err != nil {
		return nil, err
	}
	tx := &blockchain.Transaction{
		Calls:  []blockchain.ContractCall{call},
		Proofs: [][][]byte{proofs},
	}
	if err := tx.Sign([][]*btcec.PrivateKey{t.keys}); err != nil {
		return nil, err
	}
	return tx, nil
}
