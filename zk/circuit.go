// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package zk

import (
	"fmt"

	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/algebra/native/twistededwards"
	"github.com/consensys/gnark/std/hash/poseidon2"

	tedwards "github.com/consensys/gnark-crypto/ecc/twistededwards"

	"github.com/darkrenaissance/darkfi-sub018/merkle"
	"github.com/darkrenaissance/darkfi-sub018/zkas"
)

// Circuit is the gnark circuit of a zkas binary. Witnesses holds every
// private input flattened to field elements; Instances holds the public
// inputs in constrain_instance order. Its shape depends only on Binary.
type Circuit struct {
	Witnesses []frontend.Variable
	Instances []frontend.Variable `gnark:",public"`

	Binary *zkas.ZkBinary `gnark:"-"`
}

// NewCircuit returns an unassigned circuit shaped after [bin].
func NewCircuit(bin *zkas.ZkBinary) *Circuit {
	return &Circuit{
		Witnesses: make([]frontend.Variable, witnessWidth(bin)),
		Instances: make([]frontend.Variable, bin.NumInstances()),
		Binary:    bin,
	}
}

func (c *Circuit) Define(api frontend.API) error {
	curve, err := twistededwards.NewEdCurve(api, tedwards.BN254)
	if err != nil {
		return err
	}
	b := &circuitBuilder{
		api:       api,
		curve:     curve,
		instances: c.Instances,
	}

	heap := make([]value[frontend.Variable], 0, len(c.Binary.Witnesses))
	rest := c.Witnesses
	for _, typ := range c.Binary.Witnesses {
		n := width(typ)
		if len(rest) < n {
			return fmt.Errorf("%w: %d witness elements for %s", ErrWitnessMismatch, len(c.Witnesses), c.Binary.Namespace)
		}
		v := value[frontend.Variable]{typ: typ}
		switch typ {
		case zkas.EcPoint:
			v.pt = point[frontend.Variable]{X: rest[0], Y: rest[1]}
			curve.AssertIsOnCurve(twistededwards.Point{X: rest[0], Y: rest[1]})
		case zkas.MerklePath:
			v.path = rest[:n]
		default:
			v.v = rest[0]
		}
		heap = append(heap, v)
		rest = rest[n:]
	}

	if err := execute[frontend.Variable](c.Binary, b, heap); err != nil {
		return err
	}
	if b.next != len(c.Instances) {
		return fmt.Errorf("%w: %d of %d instances constrained", ErrPublicInputCount, b.next, len(c.Instances))
	}
	return nil
}

type circuitBuilder struct {
	api       frontend.API
	curve     twistededwards.Curve
	instances []frontend.Variable
	next      int
}

func (*circuitBuilder) constant(v uint64) frontend.Variable {
	return v
}

func (b *circuitBuilder) add(x, y frontend.Variable) frontend.Variable {
	return b.api.Add(x, y)
}

func (b *circuitBuilder) mul(x, y frontend.Variable) frontend.Variable {
	return b.api.Mul(x, y)
}

func (b *circuitBuilder) sub(x, y frontend.Variable) frontend.Variable {
	return b.api.Sub(x, y)
}

func (b *circuitBuilder) pointAdd(p, q point[frontend.Variable]) point[frontend.Variable] {
	r := b.curve.Add(twistededwards.Point{X: p.X, Y: p.Y}, twistededwards.Point{X: q.X, Y: q.Y})
	return point[frontend.Variable]{X: r.X, Y: r.Y}
}

func (b *circuitBuilder) fixedMul(name string, s frontend.Variable, bits int) (point[frontend.Variable], error) {
	fp, ok := fixedPoints[name]
	if !ok {
		return point[frontend.Variable]{}, fmt.Errorf("%w: %s", zkas.ErrUnknownConstant, name)
	}
	acc := twistededwards.Point{X: 0, Y: 1}
	for i, bit := range b.api.ToBinary(s, bits) {
		g := &fp.doubles[i]
		acc = b.curve.Add(acc, twistededwards.Point{
			X: b.api.Select(bit, toBig(g.X), 0),
			Y: b.api.Select(bit, toBig(g.Y), 1),
		})
	}
	return point[frontend.Variable]{X: acc.X, Y: acc.Y}, nil
}

func (b *circuitBuilder) hash(in ...frontend.Variable) (frontend.Variable, error) {
	h, err := poseidon2.NewMerkleDamgardHasher(b.api)
	if err != nil {
		return nil, err
	}
	h.Write(in...)
	return h.Sum(), nil
}

func (b *circuitBuilder) merkleRoot(pos frontend.Variable, path []frontend.Variable, leaf frontend.Variable) (frontend.Variable, error) {
	if len(path) != merkle.Depth {
		return nil, fmt.Errorf("%w: merkle path has %d nodes", ErrWitnessMismatch, len(path))
	}
	cur := leaf
	for i, bit := range b.api.ToBinary(pos, merkle.Depth) {
		left := b.api.Select(bit, path[i], cur)
		right := b.api.Select(bit, cur, path[i])
		var err error
		if cur, err = b.hash(left, right); err != nil {
			return nil, err
		}
	}
	return cur, nil
}

func (b *circuitBuilder) rangeCheck(bits int, v frontend.Variable) error {
	b.api.ToBinary(v, bits)
	return nil
}

func (b *circuitBuilder) lessThan(x, y frontend.Variable, strict bool) error {
	if strict {
		b.api.AssertIsEqual(b.api.Cmp(x, y), -1)
	} else {
		b.api.AssertIsLessOrEqual(x, y)
	}
	return nil
}

func (b *circuitBuilder) boolCheck(v frontend.Variable) error {
	b.api.AssertIsBoolean(v)
	return nil
}

func (b *circuitBuilder) condSelect(c, x, y frontend.Variable) (frontend.Variable, error) {
	return b.api.Select(c, x, y), nil
}

func (b *circuitBuilder) zeroCond(x, y frontend.Variable) frontend.Variable {
	return b.api.Select(b.api.IsZero(x), 0, y)
}

func (b *circuitBuilder) assertEqual(x, y frontend.Variable) error {
	b.api.AssertIsEqual(x, y)
	return nil
}

func (b *circuitBuilder) assertPointEqual(p, q point[frontend.Variable]) error {
	b.api.AssertIsEqual(p.X, q.X)
	b.api.AssertIsEqual(p.Y, q.Y)
	return nil
}

func (b *circuitBuilder) publish(v frontend.Variable) error {
	if b.next >= len(b.instances) {
		return errInstanceOverflow
	}
	b.api.AssertIsEqual(v, b.instances[b.next])
	b.next++
	return nil
}

func (*circuitBuilder) debug(string, value[frontend.Variable]) {}
