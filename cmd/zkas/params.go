// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	outputKey  = "output"
	stripKey   = "strip"
	evalKey    = "eval"
	examineKey = "examine"
)

func buildFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("zkas", pflag.ContinueOnError)

	fs.StringP(outputKey, "o", "", "Output path of the binary (default <input>.bin)")
	fs.BoolP(stripKey, "s", false, "Strip the debug section")
	fs.BoolP(evalKey, "e", false, "Only check the source, write nothing")
	fs.Bool(examineKey, false, "Print the produced binary as a tree")

	return fs
}

// getViper parses [args] and returns the viper environment of the compiler
// along with the flag set holding the positional arguments.
func getViper(args []string) (*viper.Viper, *pflag.FlagSet, error) {
	v := viper.New()

	fs := buildFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if err := v.BindPFlags(fs); err != nil {
		return nil, nil, err
	}

	return v, fs, nil
}
