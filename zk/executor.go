// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package zk runs zkas binaries. The same interpreter drives two backends:
// one builds PLONK constraints with gnark, the other evaluates the circuit
// over concrete field elements to produce public inputs and catch unsatisfied
// constraints before proving.
package zk

import (
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/logger"
	"github.com/rs/zerolog"

	"github.com/darkrenaissance/darkfi-sub018/zkas"
)

var (
	ErrWitnessMismatch    = errors.New("witnesses do not match the circuit")
	ErrConstraintFailed   = errors.New("constraint not satisfied")
	ErrPublicInputCount   = errors.New("wrong number of public inputs")
	ErrVerificationFailed = errors.New("proof verification failed")
	ErrCircuitTooLarge    = errors.New("circuit does not fit in 2^k rows")
	ErrProvingFailed      = errors.New("proof creation failed")
	errInstanceOverflow   = errors.New("more constrain_instance calls than instances")
)

func init() {
	logger.Set(zerolog.Nop())
}

type point[V any] struct {
	X, Y V
}

// value is a heap slot. Which field is meaningful depends on typ.
type value[V any] struct {
	typ   zkas.VarType
	v     V
	pt    point[V]
	path  []V
	fixed string
}

// backend is the arithmetic an interpreter run is carried out in. Methods
// returning an error report an unsatisfied constraint or a malformed input.
type backend[V any] interface {
	constant(v uint64) V
	add(a, b V) V
	mul(a, b V) V
	sub(a, b V) V
	pointAdd(p, q point[V]) point[V]
	// fixedMul multiplies the named generator by the low [bits] bits of s,
	// failing when s does not fit.
	fixedMul(name string, s V, bits int) (point[V], error)
	hash(in ...V) (V, error)
	merkleRoot(pos V, path []V, leaf V) (V, error)
	rangeCheck(bits int, v V) error
	lessThan(a, b V, strict bool) error
	boolCheck(v V) error
	condSelect(c, a, b V) (V, error)
	zeroCond(a, b V) V
	assertEqual(a, b V) error
	assertPointEqual(p, q point[V]) error
	publish(v V) error
	debug(name string, v value[V])
}

// execute runs every instruction of [bin] over [witnesses], which must
// already match the declared witness types.
func execute[V any](bin *zkas.ZkBinary, b backend[V], witnesses []value[V]) error {
	heap := make([]value[V], 0, len(bin.HeapTypes()))
	for _, c := range bin.Constants {
		heap = append(heap, value[V]{typ: c.Type, fixed: c.Name})
	}
	heap = append(heap, witnesses...)

	for i, instr := range bin.Opcodes {
		out, err := step(bin, b, heap, instr)
		if err != nil {
			if pos, ok := bin.Position(i); ok {
				return fmt.Errorf("%s:%d:%d: %s: %w", bin.Namespace, pos.Line, pos.Column, instr.Opcode, err)
			}
			return fmt.Errorf("%s: instruction %d (%s): %w", bin.Namespace, i, instr.Opcode, err)
		}
		if ret, ok := instr.Opcode.Returns(); ok {
			out.typ = ret
			heap = append(heap, out)
		}
	}
	return nil
}

func step[V any](bin *zkas.ZkBinary, b backend[V], heap []value[V], instr zkas.Instruction) (value[V], error) {
	arg := func(i int) value[V] {
		return heap[instr.Args[i].Index]
	}
	literal := func(i int) uint64 {
		return bin.Literals[instr.Args[i].Index]
	}

	var (
		out value[V]
		err error
	)
	switch instr.Opcode {
	case zkas.EcAdd:
		out.pt = b.pointAdd(arg(0).pt, arg(1).pt)
	case zkas.EcMul, zkas.EcMulBase:
		out.pt, err = b.fixedMul(arg(1).fixed, arg(0).v, fr.Bits)
	case zkas.EcMulShort:
		out.pt, err = b.fixedMul(arg(1).fixed, arg(0).v, 64)
	case zkas.EcGetX:
		out.v = arg(0).pt.X
	case zkas.EcGetY:
		out.v = arg(0).pt.Y

	case zkas.PoseidonHash:
		in := make([]V, len(instr.Args))
		for i := range in {
			in[i] = arg(i).v
		}
		out.v, err = b.hash(in...)
	case zkas.MerkleRoot:
		out.v, err = b.merkleRoot(arg(0).v, arg(1).path, arg(2).v)

	case zkas.BaseAdd:
		out.v = b.add(arg(0).v, arg(1).v)
	case zkas.BaseMul:
		out.v = b.mul(arg(0).v, arg(1).v)
	case zkas.BaseSub:
		out.v = b.sub(arg(0).v, arg(1).v)
	case zkas.WitnessBase:
		out.v = b.constant(literal(0))

	case zkas.RangeCheck:
		err = b.rangeCheck(int(literal(0)), arg(1).v)
	case zkas.LessThanStrict:
		err = b.lessThan(arg(0).v, arg(1).v, true)
	case zkas.LessThanLoose:
		err = b.lessThan(arg(0).v, arg(1).v, false)
	case zkas.BoolCheck:
		err = b.boolCheck(arg(0).v)
	case zkas.CondSelect:
		out.v, err = b.condSelect(arg(0).v, arg(1).v, arg(2).v)
	case zkas.ZeroCondSelect:
		out.v = b.zeroCond(arg(0).v, arg(1).v)

	case zkas.ConstrainEqualBase:
		err = b.assertEqual(arg(0).v, arg(1).v)
	case zkas.ConstrainEqualPt:
		err = b.assertPointEqual(arg(0).pt, arg(1).pt)
	case zkas.ConstrainInstance:
		err = b.publish(arg(0).v)
	case zkas.DebugPrint:
		b.debug(bin.HeapName(instr.Args[0].Index), arg(0))

	default:
		err = fmt.Errorf("%w: 0x%02x", zkas.ErrUnknownOpcode, uint8(instr.Opcode))
	}
	return out, err
}
