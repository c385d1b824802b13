// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package zkas

import (
	"bytes"
	"strconv"

	"github.com/btcsuite/btcd/wire"
)

// varints are Bitcoin CompactSize integers; the protocol version argument
// of the wire helpers does not affect them.
const pver = 0

type writer struct {
	buf bytes.Buffer
	err error
}

func (w *writer) varint(v uint64) {
	if w.err == nil {
		w.err = wire.WriteVarInt(&w.buf, pver, v)
	}
}

func (w *writer) u8(b byte) {
	if w.err == nil {
		w.err = w.buf.WriteByte(b)
	}
}

func (w *writer) blob(b []byte) {
	w.varint(uint64(len(b)))
	if w.err == nil {
		_, w.err = w.buf.Write(b)
	}
}

// Compile serializes an analyzed circuit. The debug section is written only
// when [withDebug] is set and the circuit carries debug info.
func Compile(bin *ZkBinary, withDebug bool) ([]byte, error) {
	if err := bin.resolve(); err != nil {
		return nil, newError("", StageCompiler, Pos{}, "%v", err)
	}

	w := &writer{}
	_, _ = w.buf.Write(Magic[:])
	w.varint(uint64(bin.K))
	w.blob([]byte(bin.Namespace))

	w.varint(uint64(len(bin.Constants)))
	for _, c := range bin.Constants {
		w.blob([]byte(c.Name))
		w.u8(byte(c.Type))
	}

	w.varint(uint64(len(bin.Literals)))
	for _, lit := range bin.Literals {
		w.blob([]byte(strconv.FormatUint(lit, 10)))
	}

	w.varint(uint64(len(bin.Witnesses)))
	for _, typ := range bin.Witnesses {
		w.u8(byte(typ))
	}

	w.varint(uint64(len(bin.Opcodes)))
	for _, instr := range bin.Opcodes {
		w.u8(byte(instr.Opcode))
		w.varint(uint64(len(instr.Args)))
		for _, arg := range instr.Args {
			w.u8(byte(arg.Kind))
			w.varint(arg.Index)
		}
	}

	if withDebug && bin.Debug != nil {
		w.varint(uint64(len(bin.Debug.HeapNames)))
		for _, name := range bin.Debug.HeapNames {
			w.blob([]byte(name))
		}
		w.varint(uint64(len(bin.Debug.Positions)))
		for _, pos := range bin.Debug.Positions {
			w.varint(uint64(pos.Line))
			w.varint(uint64(pos.Column))
		}
	}

	if w.err != nil {
		return nil, newError("", StageCompiler, Pos{}, "%v", w.err)
	}
	if w.buf.Len() > MaxBinSize {
		return nil, newError("", StageCompiler, Pos{}, "binary is %d bytes, the limit is %d", w.buf.Len(), MaxBinSize)
	}
	return w.buf.Bytes(), nil
}

// AnalyzeSource runs the lexer, parser and analyzer over [src].
func AnalyzeSource(file string, src []byte) (*ZkBinary, error) {
	tokens, err := Lex(file, src)
	if err != nil {
		return nil, err
	}
	ast, err := Parse(file, tokens)
	if err != nil {
		return nil, err
	}
	return Analyze(file, ast)
}

// CompileSource compiles zkas source into its binary form.
func CompileSource(file string, src []byte, withDebug bool) ([]byte, error) {
	bin, err := AnalyzeSource(file, src)
	if err != nil {
		return nil, err
	}
	out, err := Compile(bin, withDebug)
	if err != nil {
		if e, ok := err.(*Error); ok {
			e.File = file
		}
		return nil, err
	}
	return out, nil
}
