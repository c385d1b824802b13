// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package zkas

import "fmt"

type analyzer struct {
	file string
	bin  *ZkBinary

	heap      []VarType
	heapNames []string
	names     map[string]uint64
	literals  map[uint64]uint64
	positions []Pos
	tmp       int
}

// Analyze resolves names and types in [ast], flattens nested calls and lays
// out the heap. The result carries debug info; Compile may strip it.
func Analyze(file string, ast *AST) (*ZkBinary, error) {
	a := &analyzer{
		file: file,
		bin: &ZkBinary{
			Namespace: ast.Namespace,
			K:         ast.K,
		},
		names:    make(map[string]uint64),
		literals: make(map[uint64]uint64),
	}
	if err := a.analyze(ast); err != nil {
		return nil, err
	}
	a.bin.Debug = &DebugInfo{
		HeapNames: a.heapNames,
		Positions: a.positions,
	}
	if err := a.bin.resolve(); err != nil {
		return nil, newError(file, StageAnalyzer, Pos{}, "%v", err)
	}
	return a.bin, nil
}

func (a *analyzer) errorf(pos Pos, format string, args ...interface{}) error {
	return newError(a.file, StageAnalyzer, pos, format, args...)
}

func (a *analyzer) define(name string, typ VarType, pos Pos) error {
	if _, ok := a.names[name]; ok {
		return a.errorf(pos, "'%s' is already defined", name)
	}
	a.names[name] = uint64(len(a.heap))
	a.heap = append(a.heap, typ)
	a.heapNames = append(a.heapNames, name)
	return nil
}

func (a *analyzer) analyze(ast *AST) error {
	if len(ast.Constants) > MaxConstants {
		return a.errorf(ast.Constants[MaxConstants].Pos, "too many constants, the limit is %d", MaxConstants)
	}
	for _, c := range ast.Constants {
		want, ok := fixedPoints[c.Name]
		if !ok {
			return a.errorf(c.Pos, "unknown constant '%s'", c.Name)
		}
		if c.Type != want {
			return a.errorf(c.Pos, "constant '%s' must be declared as %s, found %s", c.Name, want, c.Type)
		}
		if err := a.define(c.Name, c.Type, c.Pos); err != nil {
			return err
		}
		a.bin.Constants = append(a.bin.Constants, Constant{Name: c.Name, Type: c.Type})
	}

	if len(ast.Witnesses) > MaxWitnesses {
		return a.errorf(ast.Witnesses[MaxWitnesses].Pos, "too many witnesses, the limit is %d", MaxWitnesses)
	}
	for _, w := range ast.Witnesses {
		if !w.Type.witnessable() {
			return a.errorf(w.Pos, "type %s cannot be used as a witness", w.Type)
		}
		if err := a.define(w.Name, w.Type, w.Pos); err != nil {
			return err
		}
		a.bin.Witnesses = append(a.bin.Witnesses, w.Type)
	}

	for _, stmt := range ast.Statements {
		if err := a.statement(stmt); err != nil {
			return err
		}
	}
	if len(a.bin.Opcodes) > MaxOpcodes {
		return a.errorf(a.positions[MaxOpcodes], "too many opcodes, the limit is %d", MaxOpcodes)
	}
	if len(a.bin.Literals) > MaxLiterals {
		return a.errorf(Pos{}, "too many literals, the limit is %d", MaxLiterals)
	}
	return nil
}

func (a *analyzer) statement(stmt Statement) error {
	if stmt.Output != "" {
		if _, ok := a.names[stmt.Output]; ok {
			return a.errorf(stmt.Pos, "'%s' is already defined", stmt.Output)
		}
	}

	slot, ret, err := a.emit(stmt.Call)
	if err != nil {
		return err
	}
	switch {
	case stmt.Output != "" && ret == 0:
		return a.errorf(stmt.Call.Pos, "%s does not return a value", stmt.Call.Name)
	case stmt.Output == "" && ret != 0:
		return a.errorf(stmt.Call.Pos, "result of %s is unused", stmt.Call.Name)
	case stmt.Output != "":
		a.names[stmt.Output] = slot
		a.heapNames[slot] = stmt.Output
	}
	return nil
}

func (a *analyzer) literal(v uint64) uint64 {
	if idx, ok := a.literals[v]; ok {
		return idx
	}
	idx := uint64(len(a.bin.Literals))
	a.literals[v] = idx
	a.bin.Literals = append(a.bin.Literals, v)
	return idx
}

// emit appends the instructions computing [call], nested calls first, and
// returns the heap slot and type of its result. ret is zero when the opcode
// returns nothing.
func (a *analyzer) emit(call *Call) (uint64, VarType, error) {
	op, ok := opcodesByName[call.Name]
	if !ok {
		return 0, 0, a.errorf(call.Pos, "unknown opcode '%s'", call.Name)
	}
	sig := signatures[op]
	if err := sig.checkArity(len(call.Args)); err != nil {
		return 0, 0, a.errorf(call.Pos, "%v", err)
	}

	args := make([]Arg, len(call.Args))
	for i, expr := range call.Args {
		want := sig.argType(i)
		switch e := expr.(type) {
		case *Literal:
			if want != Uint64 {
				return 0, 0, a.errorf(e.Pos, "argument %d of %s must be %s, found literal %d", i+1, sig.name, want, e.Value)
			}
			if op == RangeCheck && !RangeCheckBits[e.Value] {
				return 0, 0, a.errorf(e.Pos, "range_check supports 64 or 253 bits, found %d", e.Value)
			}
			args[i] = Arg{Kind: HeapLit, Index: a.literal(e.Value)}

		case *Ident:
			slot, ok := a.names[e.Name]
			if !ok {
				return 0, 0, a.errorf(e.Pos, "undefined variable '%s'", e.Name)
			}
			if err := a.checkArg(sig, i, want, a.heap[slot], e.Pos); err != nil {
				return 0, 0, err
			}
			args[i] = Arg{Kind: HeapVar, Index: slot}

		case *Call:
			slot, got, err := a.emit(e)
			if err != nil {
				return 0, 0, err
			}
			if got == 0 {
				return 0, 0, a.errorf(e.Pos, "%s does not return a value", e.Name)
			}
			if err := a.checkArg(sig, i, want, got, e.Pos); err != nil {
				return 0, 0, err
			}
			args[i] = Arg{Kind: HeapVar, Index: slot}
		}
	}

	a.bin.Opcodes = append(a.bin.Opcodes, Instruction{Opcode: op, Args: args})
	a.positions = append(a.positions, call.Pos)
	if sig.ret == 0 {
		return 0, 0, nil
	}
	slot := uint64(len(a.heap))
	a.heap = append(a.heap, sig.ret)
	a.heapNames = append(a.heapNames, fmt.Sprintf("_tmp%d", a.tmp))
	a.tmp++
	return slot, sig.ret, nil
}

func (a *analyzer) checkArg(sig signature, i int, want, got VarType, pos Pos) error {
	if want == Uint64 {
		return a.errorf(pos, "argument %d of %s must be a literal", i+1, sig.name)
	}
	if !accepts(want, got) {
		return a.errorf(pos, "argument %d of %s must be %s, found %s", i+1, sig.name, want, got)
	}
	return nil
}
