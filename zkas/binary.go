// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package zkas

import (
	"errors"
	"fmt"
)

const (
	MaxK             = 16
	MinBinSize       = 10
	MaxBinSize       = 1 << 20
	MaxNamespaceLen  = 255
	MaxConstants     = 1024
	MaxLiterals      = 4096
	MaxWitnesses     = 4096
	MaxOpcodes       = 4096
	MaxArgsPerOpcode = 256
)

// Magic starts every zkas binary.
var Magic = [4]byte{0x0b, 0x01, 0xb1, 0x35}

var (
	ErrBinarySize      = errors.New("binary size out of range")
	ErrInvalidMagic    = errors.New("invalid magic bytes")
	ErrInvalidK        = errors.New("invalid k")
	ErrInvalidNs       = errors.New("invalid namespace")
	ErrLimitExceeded   = errors.New("section exceeds its limit")
	ErrUnknownOpcode   = errors.New("unknown opcode")
	ErrUnknownType     = errors.New("unknown type")
	ErrUnknownConstant = errors.New("unknown constant")
	ErrHeapIndex       = errors.New("heap index out of range")
	ErrTypeMismatch    = errors.New("argument type mismatch")
	ErrInvalidLiteral  = errors.New("invalid literal")
	ErrTruncated       = errors.New("truncated binary")
	ErrTrailingData    = errors.New("trailing data after binary")
	ErrInvalidDebug    = errors.New("invalid debug section")
)

// Constant is a named fixed generator.
type Constant struct {
	Name string
	Type VarType
}

// Arg points an opcode argument at the heap or at the literal table.
type Arg struct {
	Kind  HeapType
	Index uint64
}

type Instruction struct {
	Opcode Opcode
	Args   []Arg
}

// DebugInfo maps heap slots and instructions back to source.
type DebugInfo struct {
	HeapNames []string
	Positions []Pos
}

// ZkBinary is a decoded circuit. The heap holds, in order, the constants,
// the witnesses and the result of every value-returning instruction.
type ZkBinary struct {
	Namespace string
	K         uint32
	Constants []Constant
	Literals  []uint64
	Witnesses []VarType
	Opcodes   []Instruction
	Debug     *DebugInfo

	heap []VarType
}

// HeapTypes returns the type of every heap slot.
func (b *ZkBinary) HeapTypes() []VarType {
	return b.heap
}

// NumInstances is the number of public inputs the circuit exposes.
func (b *ZkBinary) NumInstances() int {
	n := 0
	for _, instr := range b.Opcodes {
		if instr.Opcode == ConstrainInstance {
			n++
		}
	}
	return n
}

// HeapName returns the source name of heap slot [i] when debug info is
// present.
func (b *ZkBinary) HeapName(i uint64) string {
	if b.Debug != nil && i < uint64(len(b.Debug.HeapNames)) {
		return b.Debug.HeapNames[i]
	}
	return fmt.Sprintf("heap[%d]", i)
}

// Position returns the source position of instruction [i], if known.
func (b *ZkBinary) Position(i int) (Pos, bool) {
	if b.Debug != nil && i < len(b.Debug.Positions) {
		return b.Debug.Positions[i], true
	}
	return Pos{}, false
}

// resolve checks every limit and every instruction against its signature
// and rebuilds the heap layout.
func (b *ZkBinary) resolve() error {
	switch {
	case b.K == 0 || b.K > MaxK:
		return fmt.Errorf("%w: %d", ErrInvalidK, b.K)
	case len(b.Namespace) == 0 || len(b.Namespace) > MaxNamespaceLen:
		return fmt.Errorf("%w: length %d", ErrInvalidNs, len(b.Namespace))
	case len(b.Constants) > MaxConstants:
		return fmt.Errorf("%w: %d constants", ErrLimitExceeded, len(b.Constants))
	case len(b.Literals) > MaxLiterals:
		return fmt.Errorf("%w: %d literals", ErrLimitExceeded, len(b.Literals))
	case len(b.Witnesses) > MaxWitnesses:
		return fmt.Errorf("%w: %d witnesses", ErrLimitExceeded, len(b.Witnesses))
	case len(b.Opcodes) > MaxOpcodes:
		return fmt.Errorf("%w: %d opcodes", ErrLimitExceeded, len(b.Opcodes))
	}

	heap := make([]VarType, 0, len(b.Constants)+len(b.Witnesses)+len(b.Opcodes))
	for _, c := range b.Constants {
		want, ok := fixedPoints[c.Name]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownConstant, c.Name)
		}
		if c.Type != want {
			return fmt.Errorf("%w: %s declared as %s, must be %s", ErrTypeMismatch, c.Name, c.Type, want)
		}
		heap = append(heap, c.Type)
	}
	for i, w := range b.Witnesses {
		if !w.witnessable() {
			return fmt.Errorf("%w: witness %d has type %s", ErrUnknownType, i, w)
		}
		heap = append(heap, w)
	}

	for i, instr := range b.Opcodes {
		sig, ok := signatures[instr.Opcode]
		if !ok {
			return fmt.Errorf("%w: 0x%02x at instruction %d", ErrUnknownOpcode, uint8(instr.Opcode), i)
		}
		if len(instr.Args) > MaxArgsPerOpcode {
			return fmt.Errorf("%w: %d arguments at instruction %d", ErrLimitExceeded, len(instr.Args), i)
		}
		if err := sig.checkArity(len(instr.Args)); err != nil {
			return fmt.Errorf("%w: instruction %d: %v", ErrTypeMismatch, i, err)
		}
		for j, arg := range instr.Args {
			want := sig.argType(j)
			switch arg.Kind {
			case HeapLit:
				if arg.Index >= uint64(len(b.Literals)) {
					return fmt.Errorf("%w: literal %d at instruction %d", ErrHeapIndex, arg.Index, i)
				}
				if want != Uint64 {
					return fmt.Errorf("%w: instruction %d (%s) argument %d must be %s, found literal", ErrTypeMismatch, i, sig.name, j, want)
				}
				if instr.Opcode == RangeCheck && !RangeCheckBits[b.Literals[arg.Index]] {
					return fmt.Errorf("%w: range_check width %d", ErrInvalidLiteral, b.Literals[arg.Index])
				}
			case HeapVar:
				if arg.Index >= uint64(len(heap)) {
					return fmt.Errorf("%w: slot %d at instruction %d", ErrHeapIndex, arg.Index, i)
				}
				got := heap[arg.Index]
				if want == Uint64 || !accepts(want, got) {
					return fmt.Errorf("%w: instruction %d (%s) argument %d must be %s, found %s", ErrTypeMismatch, i, sig.name, j, want, got)
				}
			default:
				return fmt.Errorf("%w: heap kind 0x%02x at instruction %d", ErrUnknownType, uint8(arg.Kind), i)
			}
		}
		if sig.ret != 0 {
			heap = append(heap, sig.ret)
		}
	}

	if b.Debug != nil {
		if len(b.Debug.HeapNames) != len(heap) || len(b.Debug.Positions) != len(b.Opcodes) {
			return fmt.Errorf("%w: it does not match the circuit", ErrInvalidDebug)
		}
	}
	b.heap = heap
	return nil
}
