// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package zk

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	edwards "github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"
	log "github.com/inconshreveable/log15"

	"github.com/darkrenaissance/darkfi-sub018/merkle"
	"github.com/darkrenaissance/darkfi-sub018/zkas"
)

// Evaluate runs [bin] over concrete witnesses and returns its public inputs
// in constrain_instance order. A constraint the witnesses violate is
// reported as ErrConstraintFailed.
func Evaluate(bin *zkas.ZkBinary, witnesses []Witness) ([]fr.Element, error) {
	if err := checkWitnesses(bin, witnesses); err != nil {
		return nil, err
	}
	heap := make([]value[fr.Element], len(witnesses))
	for i := range witnesses {
		w := &witnesses[i]
		heap[i].typ = w.Type
		switch w.Type {
		case zkas.EcPoint:
			if !w.point.IsOnCurve() {
				return nil, fmt.Errorf("%w: witness %d is not on the curve", ErrConstraintFailed, i)
			}
			heap[i].pt = point[fr.Element]{X: w.point.X, Y: w.point.Y}
		case zkas.MerklePath:
			heap[i].path = w.path[:]
		default:
			heap[i].v = w.value
		}
	}

	e := &evaluator{log: log.New("module", "zk", "circuit", bin.Namespace)}
	if err := execute[fr.Element](bin, e, heap); err != nil {
		return nil, err
	}
	return e.public, nil
}

type evaluator struct {
	log    log.Logger
	public []fr.Element
}

func failed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConstraintFailed, fmt.Sprintf(format, args...))
}

func (*evaluator) constant(v uint64) fr.Element {
	var e fr.Element
	e.SetUint64(v)
	return e
}

func (*evaluator) add(a, b fr.Element) fr.Element {
	var e fr.Element
	e.Add(&a, &b)
	return e
}

func (*evaluator) mul(a, b fr.Element) fr.Element {
	var e fr.Element
	e.Mul(&a, &b)
	return e
}

func (*evaluator) sub(a, b fr.Element) fr.Element {
	var e fr.Element
	e.Sub(&a, &b)
	return e
}

func toAffine(p point[fr.Element]) edwards.PointAffine {
	return edwards.NewPointAffine(p.X, p.Y)
}

func fromAffine(p *edwards.PointAffine) point[fr.Element] {
	return point[fr.Element]{X: p.X, Y: p.Y}
}

func (*evaluator) pointAdd(p, q point[fr.Element]) point[fr.Element] {
	var (
		a, b = toAffine(p), toAffine(q)
		r    edwards.PointAffine
	)
	r.Add(&a, &b)
	return fromAffine(&r)
}

func bitLen(v *fr.Element) int {
	var b big.Int
	return v.BigInt(&b).BitLen()
}

func (*evaluator) fixedMul(name string, s fr.Element, bits int) (point[fr.Element], error) {
	if bitLen(&s) > bits {
		return point[fr.Element]{}, failed("scalar does not fit in %d bits", bits)
	}
	p, err := MulFixed(name, s)
	if err != nil {
		return point[fr.Element]{}, err
	}
	return fromAffine(&p), nil
}

func (*evaluator) hash(in ...fr.Element) (fr.Element, error) {
	return merkle.Hash(in...), nil
}

func (*evaluator) merkleRoot(pos fr.Element, path []fr.Element, leaf fr.Element) (fr.Element, error) {
	if !pos.IsUint64() || pos.Uint64() > 1<<32-1 {
		return fr.Element{}, failed("leaf position %s does not fit in 32 bits", pos.String())
	}
	if len(path) != merkle.Depth {
		return fr.Element{}, failed("merkle path has %d nodes", len(path))
	}
	var p [merkle.Depth]fr.Element
	copy(p[:], path)
	return merkle.ComputeRoot(uint32(pos.Uint64()), p, leaf), nil
}

func (*evaluator) rangeCheck(bits int, v fr.Element) error {
	if bitLen(&v) > bits {
		return failed("%s does not fit in %d bits", v.String(), bits)
	}
	return nil
}

func (*evaluator) lessThan(a, b fr.Element, strict bool) error {
	switch c := a.Cmp(&b); {
	case strict && c >= 0:
		return failed("%s is not less than %s", a.String(), b.String())
	case !strict && c > 0:
		return failed("%s is greater than %s", a.String(), b.String())
	}
	return nil
}

func isBool(v *fr.Element) bool {
	return v.IsZero() || v.IsOne()
}

func (*evaluator) boolCheck(v fr.Element) error {
	if !isBool(&v) {
		return failed("%s is not boolean", v.String())
	}
	return nil
}

func (*evaluator) condSelect(c, a, b fr.Element) (fr.Element, error) {
	if !isBool(&c) {
		return fr.Element{}, failed("condition %s is not boolean", c.String())
	}
	if c.IsOne() {
		return a, nil
	}
	return b, nil
}

func (*evaluator) zeroCond(a, b fr.Element) fr.Element {
	if a.IsZero() {
		return a
	}
	return b
}

func (*evaluator) assertEqual(a, b fr.Element) error {
	if !a.Equal(&b) {
		return failed("%s != %s", a.String(), b.String())
	}
	return nil
}

func (*evaluator) assertPointEqual(p, q point[fr.Element]) error {
	if !p.X.Equal(&q.X) || !p.Y.Equal(&q.Y) {
		return failed("points differ")
	}
	return nil
}

func (e *evaluator) publish(v fr.Element) error {
	e.public = append(e.public, v)
	return nil
}

func (e *evaluator) debug(name string, v value[fr.Element]) {
	switch {
	case v.fixed != "":
		e.log.Debug("debug", "name", name, "generator", v.fixed)
	case v.typ == zkas.EcPoint:
		e.log.Debug("debug", "name", name, "x", v.pt.X.String(), "y", v.pt.Y.String())
	case v.typ == zkas.MerklePath:
		e.log.Debug("debug", "name", name, "depth", len(v.path))
	default:
		e.log.Debug("debug", "name", name, "value", v.v.String())
	}
}
