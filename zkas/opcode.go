// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package zkas

import "fmt"

// Opcode identifies one zkas instruction.
type Opcode uint8

const (
	EcAdd              Opcode = 0x01
	EcMul              Opcode = 0x02
	EcMulBase          Opcode = 0x03
	EcMulShort         Opcode = 0x04
	EcGetX             Opcode = 0x08
	EcGetY             Opcode = 0x09
	PoseidonHash       Opcode = 0x10
	MerkleRoot         Opcode = 0x20
	BaseAdd            Opcode = 0x30
	BaseMul            Opcode = 0x31
	BaseSub            Opcode = 0x32
	WitnessBase        Opcode = 0x40
	RangeCheck         Opcode = 0x50
	LessThanStrict     Opcode = 0x51
	LessThanLoose      Opcode = 0x52
	BoolCheck          Opcode = 0x53
	CondSelect         Opcode = 0x60
	ZeroCondSelect     Opcode = 0x61
	ConstrainEqualBase Opcode = 0xe0
	ConstrainEqualPt   Opcode = 0xe1
	ConstrainInstance  Opcode = 0xf0
	DebugPrint         Opcode = 0xff
)

// MaxPoseidonArgs bounds the arity of poseidon_hash.
const MaxPoseidonArgs = 16

// RangeCheckBits lists the widths range_check accepts.
var RangeCheckBits = map[uint64]bool{64: true, 253: true}

type signature struct {
	name string
	// ret is zero for opcodes without a result.
	ret  VarType
	args []VarType
	// variadic opcodes take 1..MaxPoseidonArgs arguments of args[0].
	variadic bool
}

var signatures = map[Opcode]signature{
	EcAdd:              {name: "ec_add", ret: EcPoint, args: []VarType{EcPoint, EcPoint}},
	EcMul:              {name: "ec_mul", ret: EcPoint, args: []VarType{Scalar, EcFixedPoint}},
	EcMulBase:          {name: "ec_mul_base", ret: EcPoint, args: []VarType{Base, EcFixedPointBase}},
	EcMulShort:         {name: "ec_mul_short", ret: EcPoint, args: []VarType{Base, EcFixedPointShort}},
	EcGetX:             {name: "ec_get_x", ret: Base, args: []VarType{EcPoint}},
	EcGetY:             {name: "ec_get_y", ret: Base, args: []VarType{EcPoint}},
	PoseidonHash:       {name: "poseidon_hash", ret: Base, args: []VarType{Base}, variadic: true},
	MerkleRoot:         {name: "merkle_root", ret: Base, args: []VarType{Uint32, MerklePath, Base}},
	BaseAdd:            {name: "base_add", ret: Base, args: []VarType{Base, Base}},
	BaseMul:            {name: "base_mul", ret: Base, args: []VarType{Base, Base}},
	BaseSub:            {name: "base_sub", ret: Base, args: []VarType{Base, Base}},
	WitnessBase:        {name: "witness_base", ret: Base, args: []VarType{Uint64}},
	RangeCheck:         {name: "range_check", args: []VarType{Uint64, Base}},
	LessThanStrict:     {name: "less_than_strict", args: []VarType{Base, Base}},
	LessThanLoose:      {name: "less_than_loose", args: []VarType{Base, Base}},
	BoolCheck:          {name: "bool_check", args: []VarType{Base}},
	CondSelect:         {name: "cond_select", ret: Base, args: []VarType{Base, Base, Base}},
	ZeroCondSelect:     {name: "zero_cond", ret: Base, args: []VarType{Base, Base}},
	ConstrainEqualBase: {name: "constrain_equal_base", args: []VarType{Base, Base}},
	ConstrainEqualPt:   {name: "constrain_equal_point", args: []VarType{EcPoint, EcPoint}},
	ConstrainInstance:  {name: "constrain_instance", args: []VarType{Base}},
	DebugPrint:         {name: "debug", args: []VarType{Any}},
}

var opcodesByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(signatures))
	for op, sig := range signatures {
		m[sig.name] = op
	}
	return m
}()

func (o Opcode) String() string {
	if sig, ok := signatures[o]; ok {
		return sig.name
	}
	return fmt.Sprintf("Opcode(0x%02x)", uint8(o))
}

// Returns reports the result type of the opcode, if it has one.
func (o Opcode) Returns() (VarType, bool) {
	sig := signatures[o]
	return sig.ret, sig.ret != 0
}

// argType returns the expected type of argument [i].
func (s signature) argType(i int) VarType {
	if s.variadic {
		return s.args[0]
	}
	return s.args[i]
}

func (s signature) checkArity(n int) error {
	if s.variadic {
		if n < 1 || n > MaxPoseidonArgs {
			return fmt.Errorf("%s takes between 1 and %d arguments, got %d", s.name, MaxPoseidonArgs, n)
		}
		return nil
	}
	if n != len(s.args) {
		return fmt.Errorf("%s takes %d arguments, got %d", s.name, len(s.args), n)
	}
	return nil
}

// accepts reports whether a value of type [got] may be passed where [want]
// is expected.
func accepts(want, got VarType) bool {
	return want == Any || want == got
}
