// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package zkas

import "fmt"

// TokenType classifies a lexed token.
type TokenType uint8

const (
	TokenSymbol TokenType = iota
	TokenString
	TokenNumber
	TokenLBrace
	TokenRBrace
	TokenLParen
	TokenRParen
	TokenComma
	TokenSemicolon
	TokenAssign
	TokenEOF
)

var tokenNames = [...]string{
	TokenSymbol:    "symbol",
	TokenString:    "string",
	TokenNumber:    "number",
	TokenLBrace:    "'{'",
	TokenRBrace:    "'}'",
	TokenLParen:    "'('",
	TokenRParen:    "')'",
	TokenComma:     "','",
	TokenSemicolon: "';'",
	TokenAssign:    "'='",
	TokenEOF:       "end of file",
}

func (t TokenType) String() string {
	if int(t) < len(tokenNames) {
		return tokenNames[t]
	}
	return fmt.Sprintf("TokenType(%d)", uint8(t))
}

type Token struct {
	Type TokenType
	Text string
	Pos  Pos
}

var punctuation = map[byte]TokenType{
	'{': TokenLBrace,
	'}': TokenRBrace,
	'(': TokenLParen,
	')': TokenRParen,
	',': TokenComma,
	';': TokenSemicolon,
	'=': TokenAssign,
}

func isLetter(c byte) bool { return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isDigit(c byte) bool  { return c >= '0' && c <= '9' }

// Lex splits [src] into tokens. The returned slice always ends with a
// TokenEOF.
func Lex(file string, src []byte) ([]Token, error) {
	var (
		tokens []Token
		line   = 1
		col    = 1
	)
	for i := 0; i < len(src); {
		c := src[i]
		pos := Pos{Line: line, Column: col}

		switch {
		case c == '\n':
			line++
			col = 1
			i++
		case c == ' ' || c == '\t' || c == '\r':
			col++
			i++
		case c == '#':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case isLetter(c):
			start := i
			for i < len(src) && (isLetter(src[i]) || isDigit(src[i])) {
				i++
			}
			tokens = append(tokens, Token{Type: TokenSymbol, Text: string(src[start:i]), Pos: pos})
			col += i - start
		case isDigit(c):
			start := i
			for i < len(src) && isDigit(src[i]) {
				i++
			}
			if i < len(src) && isLetter(src[i]) {
				return nil, newError(file, StageLexer, Pos{Line: line, Column: col + i - start}, "unexpected character %q in number", src[i])
			}
			tokens = append(tokens, Token{Type: TokenNumber, Text: string(src[start:i]), Pos: pos})
			col += i - start
		case c == '"':
			start := i + 1
			i++
			for i < len(src) && src[i] != '"' {
				if src[i] == '\n' {
					return nil, newError(file, StageLexer, pos, "unterminated string")
				}
				i++
			}
			if i == len(src) {
				return nil, newError(file, StageLexer, pos, "unterminated string")
			}
			tokens = append(tokens, Token{Type: TokenString, Text: string(src[start:i]), Pos: pos})
			i++
			col += i - start + 1
		default:
			typ, ok := punctuation[c]
			if !ok {
				return nil, newError(file, StageLexer, pos, "illegal character %q", c)
			}
			tokens = append(tokens, Token{Type: typ, Text: string(c), Pos: pos})
			col++
			i++
		}
	}
	return append(tokens, Token{Type: TokenEOF, Pos: Pos{Line: line, Column: col}}), nil
}
