// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package zk

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/plonk"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/scs"
	"github.com/zeebo/blake3"

	kzg "github.com/consensys/gnark-crypto/ecc/bn254/kzg"

	"github.com/darkrenaissance/darkfi-sub018/zkas"
)

// srsSeed derives the toxic waste of the structured reference string. The
// string is reproducible by every node, which makes it suitable for a
// development network only.
const srsSeed = "darkfi:zk:srs"

var (
	srsLock      sync.Mutex
	canonicalSRS = make(map[uint32]*kzg.SRS)
	lagrangeSRS  = make(map[uint64]*kzg.SRS)
)

func srsAlpha() *big.Int {
	digest := blake3.Sum256([]byte(srsSeed))
	var alpha fr.Element
	alpha.SetBytes(digest[:])
	return alpha.BigInt(new(big.Int))
}

// setupSRS returns the canonical string of 2^k+3 points and its Lagrange
// form over a domain of [domain] points.
func setupSRS(k uint32, domain uint64) (*kzg.SRS, *kzg.SRS, error) {
	srsLock.Lock()
	defer srsLock.Unlock()

	canonical, ok := canonicalSRS[k]
	if !ok {
		var err error
		canonical, err = kzg.NewSRS(uint64(1)<<k+3, srsAlpha())
		if err != nil {
			return nil, nil, err
		}
		canonicalSRS[k] = canonical
	}

	// Lagrange forms of equal size are equal whatever k they came from.
	lagrange, ok := lagrangeSRS[domain]
	if !ok {
		g1, err := kzg.ToLagrangeG1(canonical.Pk.G1[:domain])
		if err != nil {
			return nil, nil, err
		}
		lagrange = &kzg.SRS{Pk: kzg.ProvingKey{G1: g1}, Vk: canonical.Vk}
		lagrangeSRS[domain] = lagrange
	}
	return canonical, lagrange, nil
}

// ProvingKey proves statements about one circuit.
type ProvingKey struct {
	Namespace string
	K         uint32

	bin *zkas.ZkBinary
	ccs constraint.ConstraintSystem
	pk  plonk.ProvingKey
	vk  *VerifyingKey
}

// VerifyingKey checks proofs of one circuit.
type VerifyingKey struct {
	Namespace    string
	K            uint32
	NumInstances int

	vk plonk.VerifyingKey
}

// VerifyingKey returns the key matching [pk].
func (pk *ProvingKey) VerifyingKey() *VerifyingKey {
	return pk.vk
}

// NumConstraints is the number of PLONK rows the circuit uses.
func (pk *ProvingKey) NumConstraints() int {
	return pk.ccs.GetNbConstraints()
}

// BuildProvingKey compiles [bin] and runs the PLONK setup for 2^k rows.
func BuildProvingKey(k uint32, bin *zkas.ZkBinary) (*ProvingKey, error) {
	if k == 0 || k > zkas.MaxK {
		return nil, fmt.Errorf("%w: %d", zkas.ErrInvalidK, k)
	}
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), scs.NewBuilder, NewCircuit(bin))
	if err != nil {
		return nil, fmt.Errorf("couldn't compile circuit %s: %w", bin.Namespace, err)
	}

	domain := ecc.NextPowerOfTwo(uint64(ccs.GetNbConstraints() + ccs.GetNbPublicVariables()))
	if domain > uint64(1)<<k {
		return nil, fmt.Errorf("%w: %s needs %d rows, k = %d", ErrCircuitTooLarge, bin.Namespace, domain, k)
	}

	canonical, lagrange, err := setupSRS(k, domain)
	if err != nil {
		return nil, fmt.Errorf("couldn't build reference string: %w", err)
	}
	pk, vk, err := plonk.Setup(ccs, canonical, lagrange)
	if err != nil {
		return nil, fmt.Errorf("couldn't set up circuit %s: %w", bin.Namespace, err)
	}

	return &ProvingKey{
		Namespace: bin.Namespace,
		K:         k,
		bin:       bin,
		ccs:       ccs,
		pk:        pk,
		vk: &VerifyingKey{
			Namespace:    bin.Namespace,
			K:            k,
			NumInstances: bin.NumInstances(),
			vk:           vk,
		},
	}, nil
}

// BuildVerifyingKey builds the verifying key of [bin] for 2^k rows.
func BuildVerifyingKey(k uint32, bin *zkas.ZkBinary) (*VerifyingKey, error) {
	pk, err := BuildProvingKey(k, bin)
	if err != nil {
		return nil, err
	}
	return pk.VerifyingKey(), nil
}
