// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// zkas compiles zkas circuit sources into the binary form the node loads.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/darkrenaissance/darkfi-sub018/zkas"
)

var errUsage = errors.New("usage: zkas <input.zk> [-o output] [-s] [-e] [--examine]")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	v, fs, err := getViper(args)
	if err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errUsage
	}
	input := fs.Arg(0)
	src, err := os.ReadFile(input)
	if err != nil {
		return err
	}

	if v.GetBool(evalKey) {
		bin, err := zkas.AnalyzeSource(input, src)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: circuit %q is valid\n", input, bin.Namespace)
		return nil
	}

	bytes, err := zkas.CompileSource(input, src, !v.GetBool(stripKey))
	if err != nil {
		return err
	}
	output := v.GetString(outputKey)
	if output == "" {
		output = input + ".bin"
	}
	if err := os.WriteFile(output, bytes, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %d bytes to %s\n", len(bytes), output)

	if !v.GetBool(examineKey) {
		return nil
	}
	// Examine what was written, not the in-memory circuit.
	bin, err := zkas.Decode(bytes)
	if err != nil {
		return fmt.Errorf("couldn't decode %s: %w", output, err)
	}
	fmt.Fprint(out, zkas.Examine(bin))
	return nil
}
