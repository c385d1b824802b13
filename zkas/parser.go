// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package zkas

import (
	"strconv"
)

// Field is the only field a circuit may target.
const Field = "bn254"

const (
	sectionConstant = "constant"
	sectionWitness  = "witness"
	sectionCircuit  = "circuit"
)

// AST is a parsed zkas source file.
type AST struct {
	K         uint32
	Field     string
	Namespace string

	Constants  []Decl
	Witnesses  []Decl
	Statements []Statement
}

// Decl declares a typed name in the constant or witness section.
type Decl struct {
	Type VarType
	Name string
	Pos  Pos
}

// Expr is an opcode argument.
type Expr interface {
	position() Pos
}

type Ident struct {
	Name string
	Pos  Pos
}

type Literal struct {
	Value uint64
	Pos   Pos
}

type Call struct {
	Name string
	Args []Expr
	Pos  Pos
}

func (i *Ident) position() Pos   { return i.Pos }
func (l *Literal) position() Pos { return l.Pos }
func (c *Call) position() Pos    { return c.Pos }

// Statement is one line of the circuit section. Output is empty when the
// result is not assigned.
type Statement struct {
	Output string
	Call   *Call
	Pos    Pos
}

type parser struct {
	file   string
	tokens []Token
	i      int

	ast   *AST
	seen  map[string]Pos
	nsPos Pos
}

// Parse builds the AST of a lexed source file.
func Parse(file string, tokens []Token) (*AST, error) {
	p := &parser{
		file:   file,
		tokens: tokens,
		ast:    &AST{},
		seen:   make(map[string]Pos),
	}
	if err := p.parse(); err != nil {
		return nil, err
	}
	return p.ast, nil
}

func (p *parser) peek() Token {
	return p.tokens[p.i]
}

func (p *parser) next() Token {
	tok := p.tokens[p.i]
	if tok.Type != TokenEOF {
		p.i++
	}
	return tok
}

func (p *parser) errorf(pos Pos, format string, args ...interface{}) error {
	return newError(p.file, StageParser, pos, format, args...)
}

func (p *parser) expect(typ TokenType) (Token, error) {
	tok := p.next()
	if tok.Type != typ {
		return tok, p.errorf(tok.Pos, "expected %s, found %s", typ, describe(tok))
	}
	return tok, nil
}

func describe(tok Token) string {
	switch tok.Type {
	case TokenSymbol, TokenNumber:
		return tok.Type.String() + " '" + tok.Text + "'"
	case TokenString:
		return "string \"" + tok.Text + "\""
	}
	return tok.Type.String()
}

func (p *parser) parse() error {
	if len(p.tokens) == 0 || p.tokens[len(p.tokens)-1].Type != TokenEOF {
		return p.errorf(Pos{}, "token stream is not terminated")
	}
	for p.peek().Type != TokenEOF {
		tok := p.next()
		if tok.Type != TokenSymbol {
			return p.errorf(tok.Pos, "expected a declaration, found %s", describe(tok))
		}

		var err error
		switch tok.Text {
		case "k", "field":
			err = p.parseHeader(tok)
		case sectionConstant, sectionWitness, sectionCircuit:
			err = p.parseSection(tok)
		default:
			err = p.errorf(tok.Pos, "unknown declaration '%s'", tok.Text)
		}
		if err != nil {
			return err
		}
	}

	end := p.peek().Pos
	for _, required := range []string{"k", "field", sectionConstant, sectionWitness, sectionCircuit} {
		if _, ok := p.seen[required]; !ok {
			return p.errorf(end, "missing '%s' declaration", required)
		}
	}
	return nil
}

func (p *parser) markSeen(tok Token) error {
	if prev, ok := p.seen[tok.Text]; ok {
		return p.errorf(tok.Pos, "duplicate '%s' declaration, first declared at %d:%d", tok.Text, prev.Line, prev.Column)
	}
	p.seen[tok.Text] = tok.Pos
	return nil
}

// parseHeader parses `k = <number>;` and `field = "<name>";`.
func (p *parser) parseHeader(key Token) error {
	if err := p.markSeen(key); err != nil {
		return err
	}
	if _, err := p.expect(TokenAssign); err != nil {
		return err
	}

	if key.Text == "k" {
		tok, err := p.expect(TokenNumber)
		if err != nil {
			return err
		}
		k, err := strconv.ParseUint(tok.Text, 10, 32)
		if err != nil || k == 0 || k > MaxK {
			return p.errorf(tok.Pos, "k must be between 1 and %d, found %s", MaxK, tok.Text)
		}
		p.ast.K = uint32(k)
	} else {
		tok, err := p.expect(TokenString)
		if err != nil {
			return err
		}
		if tok.Text != Field {
			return p.errorf(tok.Pos, "unsupported field \"%s\", expected \"%s\"", tok.Text, Field)
		}
		p.ast.Field = tok.Text
	}

	_, err := p.expect(TokenSemicolon)
	return err
}

func (p *parser) parseSection(kind Token) error {
	if err := p.markSeen(kind); err != nil {
		return err
	}
	ns, err := p.expect(TokenString)
	if err != nil {
		return err
	}
	switch {
	case ns.Text == "":
		return p.errorf(ns.Pos, "namespace must not be empty")
	case p.ast.Namespace == "":
		p.ast.Namespace = ns.Text
		p.nsPos = ns.Pos
	case p.ast.Namespace != ns.Text:
		return p.errorf(ns.Pos, "namespace \"%s\" differs from \"%s\" declared at %d:%d",
			ns.Text, p.ast.Namespace, p.nsPos.Line, p.nsPos.Column)
	}
	if _, err := p.expect(TokenLBrace); err != nil {
		return err
	}

	switch kind.Text {
	case sectionConstant:
		p.ast.Constants, err = p.parseDecls()
	case sectionWitness:
		p.ast.Witnesses, err = p.parseDecls()
	default:
		p.ast.Statements, err = p.parseStatements()
	}
	return err
}

// parseDecls parses `Type name, Type name, ... }` with an optional trailing
// comma.
func (p *parser) parseDecls() ([]Decl, error) {
	var decls []Decl
	for {
		tok := p.next()
		if tok.Type == TokenRBrace {
			return decls, nil
		}
		if tok.Type != TokenSymbol {
			return nil, p.errorf(tok.Pos, "expected a type, found %s", describe(tok))
		}
		typ, ok := varTypeFromName(tok.Text)
		if !ok {
			return nil, p.errorf(tok.Pos, "unknown type '%s'", tok.Text)
		}
		name, err := p.expect(TokenSymbol)
		if err != nil {
			return nil, err
		}
		decls = append(decls, Decl{Type: typ, Name: name.Text, Pos: tok.Pos})

		switch sep := p.next(); sep.Type {
		case TokenComma:
		case TokenRBrace:
			return decls, nil
		default:
			return nil, p.errorf(sep.Pos, "expected ',' or '}', found %s", describe(sep))
		}
	}
}

func (p *parser) parseStatements() ([]Statement, error) {
	var stmts []Statement
	for {
		tok := p.next()
		if tok.Type == TokenRBrace {
			return stmts, nil
		}
		if tok.Type != TokenSymbol {
			return nil, p.errorf(tok.Pos, "expected a statement, found %s", describe(tok))
		}

		stmt := Statement{Pos: tok.Pos}
		name := tok
		if p.peek().Type == TokenAssign {
			p.next()
			stmt.Output = tok.Text
			var err error
			if name, err = p.expect(TokenSymbol); err != nil {
				return nil, err
			}
		}
		if p.peek().Type != TokenLParen {
			return nil, p.errorf(p.peek().Pos, "expected '(' after '%s', found %s", name.Text, describe(p.peek()))
		}
		call, err := p.parseCall(name)
		if err != nil {
			return nil, err
		}
		stmt.Call = call
		if _, err := p.expect(TokenSemicolon); err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
}

// parseCall parses the argument list of [name]; the next token is '('.
func (p *parser) parseCall(name Token) (*Call, error) {
	p.next()
	call := &Call{Name: name.Text, Pos: name.Pos}
	if p.peek().Type == TokenRParen {
		p.next()
		return call, nil
	}
	for {
		arg, err := p.parseArg()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)

		switch sep := p.next(); sep.Type {
		case TokenComma:
		case TokenRParen:
			return call, nil
		default:
			return nil, p.errorf(sep.Pos, "expected ',' or ')', found %s", describe(sep))
		}
	}
}

func (p *parser) parseArg() (Expr, error) {
	tok := p.next()
	switch tok.Type {
	case TokenNumber:
		v, err := strconv.ParseUint(tok.Text, 10, 64)
		if err != nil {
			return nil, p.errorf(tok.Pos, "literal %s does not fit in 64 bits", tok.Text)
		}
		return &Literal{Value: v, Pos: tok.Pos}, nil
	case TokenSymbol:
		if p.peek().Type == TokenLParen {
			return p.parseCall(tok)
		}
		return &Ident{Name: tok.Text, Pos: tok.Pos}, nil
	}
	return nil, p.errorf(tok.Pos, "expected an argument, found %s", describe(tok))
}
