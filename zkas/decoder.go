// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package zkas

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/btcsuite/btcd/wire"
)

type reader struct {
	r *bytes.Reader
}

func (r *reader) varint() (uint64, error) {
	v, err := wire.ReadVarInt(r.r, pver)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return 0, ErrTruncated
	}
	return v, err
}

// count reads a section length and checks it against [limit] before
// anything is allocated.
func (r *reader) count(section string, limit int) (int, error) {
	n, err := r.varint()
	if err != nil {
		return 0, err
	}
	if n > uint64(limit) {
		return 0, fmt.Errorf("%w: %d %s, the limit is %d", ErrLimitExceeded, n, section, limit)
	}
	return int(n), nil
}

func (r *reader) u8() (byte, error) {
	b, err := r.r.ReadByte()
	if err != nil {
		return 0, ErrTruncated
	}
	return b, nil
}

func (r *reader) blob(limit int) ([]byte, error) {
	n, err := r.varint()
	if err != nil {
		return nil, err
	}
	if n > uint64(limit) || n > uint64(r.r.Len()) {
		return nil, fmt.Errorf("%w: string of %d bytes", ErrTruncated, n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		return nil, ErrTruncated
	}
	return b, nil
}

// Decode parses and validates a zkas binary. Any deviation from the format,
// any exceeded limit and any ill-typed instruction is an error.
func Decode(b []byte) (*ZkBinary, error) {
	if len(b) < MinBinSize || len(b) > MaxBinSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrBinarySize, len(b))
	}
	if !bytes.Equal(b[:len(Magic)], Magic[:]) {
		return nil, ErrInvalidMagic
	}

	r := &reader{r: bytes.NewReader(b[len(Magic):])}
	bin := &ZkBinary{}

	k, err := r.varint()
	if err != nil {
		return nil, err
	}
	if k == 0 || k > MaxK {
		return nil, fmt.Errorf("%w: %d", ErrInvalidK, k)
	}
	bin.K = uint32(k)

	ns, err := r.blob(MaxNamespaceLen)
	if err != nil {
		return nil, err
	}
	bin.Namespace = string(ns)

	if err := decodeConstants(r, bin); err != nil {
		return nil, err
	}
	if err := decodeLiterals(r, bin); err != nil {
		return nil, err
	}
	if err := decodeWitnesses(r, bin); err != nil {
		return nil, err
	}
	if err := decodeCircuit(r, bin); err != nil {
		return nil, err
	}
	if r.r.Len() > 0 {
		if err := decodeDebug(r, bin); err != nil {
			return nil, err
		}
	}
	if r.r.Len() > 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrTrailingData, r.r.Len())
	}

	if err := bin.resolve(); err != nil {
		return nil, err
	}
	return bin, nil
}

func decodeConstants(r *reader, bin *ZkBinary) error {
	n, err := r.count("constants", MaxConstants)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		name, err := r.blob(MaxNamespaceLen)
		if err != nil {
			return err
		}
		typ, err := r.u8()
		if err != nil {
			return err
		}
		if !VarType(typ).fixedPoint() {
			return fmt.Errorf("%w: constant %q has type 0x%02x", ErrUnknownType, name, typ)
		}
		bin.Constants = append(bin.Constants, Constant{Name: string(name), Type: VarType(typ)})
	}
	return nil
}

func decodeLiterals(r *reader, bin *ZkBinary) error {
	n, err := r.count("literals", MaxLiterals)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		text, err := r.blob(20)
		if err != nil {
			return err
		}
		v, err := strconv.ParseUint(string(text), 10, 64)
		if err != nil || strconv.FormatUint(v, 10) != string(text) {
			return fmt.Errorf("%w: %q", ErrInvalidLiteral, text)
		}
		bin.Literals = append(bin.Literals, v)
	}
	return nil
}

func decodeWitnesses(r *reader, bin *ZkBinary) error {
	n, err := r.count("witnesses", MaxWitnesses)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		typ, err := r.u8()
		if err != nil {
			return err
		}
		if !VarType(typ).witnessable() {
			return fmt.Errorf("%w: witness %d has type 0x%02x", ErrUnknownType, i, typ)
		}
		bin.Witnesses = append(bin.Witnesses, VarType(typ))
	}
	return nil
}

func decodeCircuit(r *reader, bin *ZkBinary) error {
	n, err := r.count("opcodes", MaxOpcodes)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		op, err := r.u8()
		if err != nil {
			return err
		}
		if _, ok := signatures[Opcode(op)]; !ok {
			return fmt.Errorf("%w: 0x%02x at instruction %d", ErrUnknownOpcode, op, i)
		}
		argc, err := r.count("arguments", MaxArgsPerOpcode)
		if err != nil {
			return err
		}
		instr := Instruction{Opcode: Opcode(op), Args: make([]Arg, argc)}
		for j := range instr.Args {
			kind, err := r.u8()
			if err != nil {
				return err
			}
			idx, err := r.varint()
			if err != nil {
				return err
			}
			instr.Args[j] = Arg{Kind: HeapType(kind), Index: idx}
		}
		bin.Opcodes = append(bin.Opcodes, instr)
	}
	return nil
}

func decodeDebug(r *reader, bin *ZkBinary) error {
	heapSize := len(bin.Constants) + len(bin.Witnesses) + len(bin.Opcodes)
	n, err := r.count("debug names", heapSize)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDebug, err)
	}
	debug := &DebugInfo{HeapNames: make([]string, n)}
	for i := range debug.HeapNames {
		name, err := r.blob(MaxNamespaceLen)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDebug, err)
		}
		debug.HeapNames[i] = string(name)
	}
	m, err := r.count("debug positions", len(bin.Opcodes))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDebug, err)
	}
	debug.Positions = make([]Pos, m)
	for i := range debug.Positions {
		line, err := r.varint()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDebug, err)
		}
		col, err := r.varint()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDebug, err)
		}
		debug.Positions[i] = Pos{Line: int(line), Column: int(col)}
	}
	bin.Debug = debug
	return nil
}
