// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package zkas

import "fmt"

// Stage names the compiler pass that rejected a source file.
type Stage string

const (
	StageLexer    Stage = "lexer"
	StageParser   Stage = "parser"
	StageAnalyzer Stage = "semantic"
	StageCompiler Stage = "compiler"
)

// Pos is a 1-based line and column in a source file.
type Pos struct {
	Line   int
	Column int
}

// Error is a compilation error pointing at the offending source position.
type Error struct {
	File  string
	Stage Stage
	Pos   Pos
	Msg   string
}

func (e *Error) Error() string {
	if e.Pos.Line == 0 {
		return fmt.Sprintf("%s: %s error: %s", e.File, e.Stage, e.Msg)
	}
	return fmt.Sprintf("%s:%d:%d: %s error: %s", e.File, e.Pos.Line, e.Pos.Column, e.Stage, e.Msg)
}

func newError(file string, stage Stage, pos Pos, format string, args ...interface{}) *Error {
	return &Error{
		File:  file,
		Stage: stage,
		Pos:   pos,
		Msg:   fmt.Sprintf(format, args...),
	}
}
