// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package zkas

import (
	"fmt"
	"strings"

	"github.com/xlab/treeprint"
)

// Examine renders a decoded binary as a tree, one branch per section.
func Examine(bin *ZkBinary) string {
	tree := treeprint.NewWithRoot(fmt.Sprintf("%s (k = %d)", bin.Namespace, bin.K))

	constants := tree.AddBranch(fmt.Sprintf(".constant [%d]", len(bin.Constants)))
	for i, c := range bin.Constants {
		constants.AddNode(fmt.Sprintf("heap[%d] %s %s", i, c.Type, c.Name))
	}

	literals := tree.AddBranch(fmt.Sprintf(".literal [%d]", len(bin.Literals)))
	for i, lit := range bin.Literals {
		literals.AddNode(fmt.Sprintf("lit[%d] Uint64 %d", i, lit))
	}

	witnesses := tree.AddBranch(fmt.Sprintf(".witness [%d]", len(bin.Witnesses)))
	offset := uint64(len(bin.Constants))
	for i, typ := range bin.Witnesses {
		slot := offset + uint64(i)
		witnesses.AddNode(fmt.Sprintf("heap[%d] %s %s", slot, typ, bin.HeapName(slot)))
	}

	circuit := tree.AddBranch(fmt.Sprintf(".circuit [%d]", len(bin.Opcodes)))
	slot := offset + uint64(len(bin.Witnesses))
	for i, instr := range bin.Opcodes {
		args := make([]string, len(instr.Args))
		for j, arg := range instr.Args {
			if arg.Kind == HeapLit {
				args[j] = fmt.Sprintf("lit[%d]=%d", arg.Index, bin.Literals[arg.Index])
			} else {
				args[j] = bin.HeapName(arg.Index)
			}
		}
		line := fmt.Sprintf("%s(%s)", instr.Opcode, strings.Join(args, ", "))
		if ret, ok := instr.Opcode.Returns(); ok {
			line = fmt.Sprintf("heap[%d] %s %s = %s", slot, ret, bin.HeapName(slot), line)
			slot++
		}
		if pos, ok := bin.Position(i); ok {
			line = fmt.Sprintf("%s  # %d:%d", line, pos.Line, pos.Column)
		}
		circuit.AddNode(line)
	}

	if bin.Debug == nil {
		tree.AddNode(".debug stripped")
	}
	return tree.String()
}
