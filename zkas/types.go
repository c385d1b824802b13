// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package zkas

import "fmt"

// VarType is the type of a value on the zkas heap.
type VarType uint8

const (
	EcPoint           VarType = 0x01
	EcFixedPoint      VarType = 0x02
	EcFixedPointShort VarType = 0x03
	EcFixedPointBase  VarType = 0x04
	Base              VarType = 0x10
	Scalar            VarType = 0x12
	MerklePath        VarType = 0x20
	Uint32            VarType = 0x30
	Uint64            VarType = 0x31
	Any               VarType = 0xff
)

var varTypeNames = map[VarType]string{
	EcPoint:           "EcPoint",
	EcFixedPoint:      "EcFixedPoint",
	EcFixedPointShort: "EcFixedPointShort",
	EcFixedPointBase:  "EcFixedPointBase",
	Base:              "Base",
	Scalar:            "Scalar",
	MerklePath:        "MerklePath",
	Uint32:            "Uint32",
	Uint64:            "Uint64",
	Any:               "Any",
}

func (t VarType) String() string {
	if name, ok := varTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("VarType(0x%02x)", uint8(t))
}

func varTypeFromName(name string) (VarType, bool) {
	for t, n := range varTypeNames {
		if n == name && t != Any {
			return t, true
		}
	}
	return 0, false
}

// witnessable reports whether a private input may have type [t].
func (t VarType) witnessable() bool {
	switch t {
	case EcPoint, Base, Scalar, MerklePath, Uint32, Uint64:
		return true
	}
	return false
}

func (t VarType) fixedPoint() bool {
	switch t {
	case EcFixedPoint, EcFixedPointShort, EcFixedPointBase:
		return true
	}
	return false
}

// HeapType says whether an opcode argument indexes the heap or the literal
// table.
type HeapType uint8

const (
	HeapVar HeapType = 0x00
	HeapLit HeapType = 0x01
)

func (h HeapType) String() string {
	switch h {
	case HeapVar:
		return "Var"
	case HeapLit:
		return "Lit"
	}
	return fmt.Sprintf("HeapType(0x%02x)", uint8(h))
}

// Fixed generators a circuit may declare as constants, with the only type
// each may be declared as.
const (
	ValueCommitValue  = "VALUE_COMMIT_VALUE"
	ValueCommitRandom = "VALUE_COMMIT_RANDOM"
	NullifierK        = "NULLIFIER_K"
)

var fixedPoints = map[string]VarType{
	ValueCommitValue:  EcFixedPointShort,
	ValueCommitRandom: EcFixedPoint,
	NullifierK:        EcFixedPointBase,
}
