// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package zk

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/zeebo/blake3"

	edwards "github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"

	"github.com/darkrenaissance/darkfi-sub018/zkas"
)

const fixedPointDomain = "zkas fixed point:"

// fixedPoint is a generator together with its doublings, so that a
// multiplication by a k-bit scalar is a sum of k selected table entries.
type fixedPoint struct {
	point   edwards.PointAffine
	doubles [fr.Bits]edwards.PointAffine
}

var fixedPoints = func() map[string]*fixedPoint {
	names := []string{zkas.ValueCommitValue, zkas.ValueCommitRandom, zkas.NullifierK}
	curve := edwards.GetEdwardsCurve()

	m := make(map[string]*fixedPoint, len(names))
	for _, name := range names {
		digest := blake3.Sum256([]byte(fixedPointDomain + name))
		s := new(big.Int).SetBytes(digest[:])
		s.Mod(s, &curve.Order)

		fp := &fixedPoint{}
		fp.point.ScalarMultiplication(&curve.Base, s)
		fp.doubles[0] = fp.point
		for i := 1; i < fr.Bits; i++ {
			fp.doubles[i].Double(&fp.doubles[i-1])
		}
		m[name] = fp
	}
	return m
}()

// FixedPoint returns the generator a circuit refers to by [name].
func FixedPoint(name string) (edwards.PointAffine, error) {
	fp, ok := fixedPoints[name]
	if !ok {
		return edwards.PointAffine{}, fmt.Errorf("%w: %s", zkas.ErrUnknownConstant, name)
	}
	return fp.point, nil
}

// MulFixed computes [v]G for the named generator G, reading [v] as an
// integer. It is what ec_mul, ec_mul_base and ec_mul_short compute.
func MulFixed(name string, v fr.Element) (edwards.PointAffine, error) {
	fp, ok := fixedPoints[name]
	if !ok {
		return edwards.PointAffine{}, fmt.Errorf("%w: %s", zkas.ErrUnknownConstant, name)
	}
	var (
		s   big.Int
		out edwards.PointAffine
	)
	v.BigInt(&s)
	out.ScalarMultiplication(&fp.point, &s)
	return out, nil
}
