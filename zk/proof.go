// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package zk

import (
	"bytes"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/plonk"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/frontend"
)

// Proof is a serialized PLONK proof.
type Proof []byte

// CreateProof proves that [witnesses] satisfy the circuit of [pk] with the
// given public inputs. The circuit is evaluated first so that unsatisfied
// constraints and mismatched public inputs are reported precisely.
func CreateProof(pk *ProvingKey, witnesses []Witness, publicInputs []fr.Element) (Proof, error) {
	public, err := Evaluate(pk.bin, witnesses)
	if err != nil {
		return nil, err
	}
	if len(publicInputs) != len(public) {
		return nil, fmt.Errorf("%w: %s exposes %d, got %d", ErrPublicInputCount, pk.Namespace, len(public), len(publicInputs))
	}
	instances := make([]frontend.Variable, len(publicInputs))
	for i := range publicInputs {
		if !public[i].Equal(&publicInputs[i]) {
			return nil, fmt.Errorf("%w: public input %d is %s, witnesses give %s",
				ErrConstraintFailed, i, publicInputs[i].String(), public[i].String())
		}
		instances[i] = toBig(publicInputs[i])
	}

	full, err := frontend.NewWitness(&Circuit{
		Witnesses: assignment(witnesses),
		Instances: instances,
	}, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvingFailed, err)
	}
	proof, err := plonk.Prove(pk.ccs, pk.pk, full)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvingFailed, err)
	}

	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvingFailed, err)
	}
	return buf.Bytes(), nil
}

// Verify checks the proof against [vk] and [publicInputs]. It never panics:
// malformed proof bytes are a verification failure.
func (p Proof) Verify(vk *VerifyingKey, publicInputs []fr.Element) (err error) {
	if len(publicInputs) != vk.NumInstances {
		return fmt.Errorf("%w: %s expects %d, got %d", ErrPublicInputCount, vk.Namespace, vk.NumInstances, len(publicInputs))
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrVerificationFailed, r)
		}
	}()

	proof := plonk.NewProof(ecc.BN254)
	n, err := proof.ReadFrom(bytes.NewReader(p))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	if n != int64(len(p)) {
		return fmt.Errorf("%w: %d trailing bytes", ErrVerificationFailed, int64(len(p))-n)
	}

	public, err := witness.New(ecc.BN254.ScalarField())
	if err != nil {
		return err
	}
	values := make(chan any, len(publicInputs))
	for i := range publicInputs {
		values <- publicInputs[i]
	}
	close(values)
	if err := public.Fill(len(publicInputs), 0, values); err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	if err := plonk.Verify(proof, vk.vk, public); err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	return nil
}
