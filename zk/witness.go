// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package zk

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/frontend"

	edwards "github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"

	"github.com/darkrenaissance/darkfi-sub018/merkle"
	"github.com/darkrenaissance/darkfi-sub018/zkas"
)

// Witness is one private input of a circuit.
type Witness struct {
	Type zkas.VarType

	value fr.Element
	point edwards.PointAffine
	path  [merkle.Depth]fr.Element
}

func WitnessBase(v fr.Element) Witness {
	return Witness{Type: zkas.Base, value: v}
}

func WitnessScalar(v fr.Element) Witness {
	return Witness{Type: zkas.Scalar, value: v}
}

func WitnessEcPoint(p edwards.PointAffine) Witness {
	return Witness{Type: zkas.EcPoint, point: p}
}

func WitnessMerklePath(path [merkle.Depth]fr.Element) Witness {
	return Witness{Type: zkas.MerklePath, path: path}
}

func WitnessUint32(v uint32) Witness {
	w := Witness{Type: zkas.Uint32}
	w.value.SetUint64(uint64(v))
	return w
}

func WitnessUint64(v uint64) Witness {
	w := Witness{Type: zkas.Uint64}
	w.value.SetUint64(v)
	return w
}

// EmptyWitnesses returns zero-valued witnesses of the types [bin] declares.
// They fix the shape of the circuit and are enough to build keys.
func EmptyWitnesses(bin *zkas.ZkBinary) []Witness {
	ws := make([]Witness, len(bin.Witnesses))
	for i, typ := range bin.Witnesses {
		ws[i] = Witness{Type: typ}
		if typ == zkas.EcPoint {
			ws[i].point.Y.SetOne()
		}
	}
	return ws
}

// width is the number of field elements a witness of type [t] occupies.
func width(t zkas.VarType) int {
	switch t {
	case zkas.EcPoint:
		return 2
	case zkas.MerklePath:
		return merkle.Depth
	}
	return 1
}

func witnessWidth(bin *zkas.ZkBinary) int {
	n := 0
	for _, typ := range bin.Witnesses {
		n += width(typ)
	}
	return n
}

func checkWitnesses(bin *zkas.ZkBinary, ws []Witness) error {
	if len(ws) != len(bin.Witnesses) {
		return fmt.Errorf("%w: circuit %s takes %d witnesses, got %d", ErrWitnessMismatch, bin.Namespace, len(bin.Witnesses), len(ws))
	}
	for i, typ := range bin.Witnesses {
		if ws[i].Type != typ {
			return fmt.Errorf("%w: witness %d of %s must be %s, got %s", ErrWitnessMismatch, i, bin.Namespace, typ, ws[i].Type)
		}
	}
	return nil
}

// elements flattens [w] in the order the circuit reads it.
func (w *Witness) elements() []fr.Element {
	switch w.Type {
	case zkas.EcPoint:
		return []fr.Element{w.point.X, w.point.Y}
	case zkas.MerklePath:
		return w.path[:]
	}
	return []fr.Element{w.value}
}

// assignment lays witnesses out as circuit variables.
func assignment(ws []Witness) []frontend.Variable {
	var out []frontend.Variable
	for i := range ws {
		for _, e := range ws[i].elements() {
			out = append(out, toBig(e))
		}
	}
	return out
}

func toBig(e fr.Element) *big.Int {
	return e.BigInt(new(big.Int))
}
