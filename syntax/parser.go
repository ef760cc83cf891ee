package syntax

import (
	"strconv"

	"github.com/viwo/viwo/vm"
)

// Parser builds vm nodes from tokens.
//
// A parenthesized form whose first element is a symbol or string becomes an
// expression with that opcode. Any other form (empty, or headed by a number,
// a keyword or a nested form) is a bare sequence. Symbols elsewhere read as
// strings, so (let x 1) and (let "x" 1) are the same program.
type Parser struct {
	l        *Lexer
	cur      Token
	peek     Token
	maxDepth int
}

// MaxDepth bounds form nesting.
const MaxDepth = 512

// NewParser creates a parser for src.
func NewParser(src string) *Parser {
	p := &Parser{l: NewLexer(src), maxDepth: MaxDepth}
	p.next()
	p.next()
	return p
}

func (p *Parser) next() {
	p.cur = p.peek
	p.peek = p.l.NextToken()
}

func (p *Parser) errorf(pos Position, msg string) error {
	return &Error{Pos: pos, Msg: msg}
}

// Parse reads every top-level form in src.
func Parse(src string) ([]vm.Node, error) {
	p := NewParser(src)
	var out []vm.Node
	for p.cur.Type != TokenEOF {
		n, err := p.parseNode(0)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// ParseProgram reads src as one program: a single form is returned as is,
// several are wrapped in seq.
func ParseProgram(src string) (vm.Node, error) {
	nodes, err := Parse(src)
	if err != nil {
		return nil, err
	}
	switch len(nodes) {
	case 0:
		return vm.Lit(nil), nil
	case 1:
		return nodes[0], nil
	}
	return &vm.Expr{Op: "seq", Args: nodes}, nil
}

func (p *Parser) parseNode(depth int) (vm.Node, error) {
	tok := p.cur
	switch tok.Type {
	case TokenLParen:
		return p.parseForm(depth)
	case TokenRParen:
		return nil, p.errorf(tok.Pos, "unexpected )")
	case TokenNumber:
		f, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			return nil, p.errorf(tok.Pos, "invalid number "+tok.Literal)
		}
		p.next()
		return vm.Lit(f), nil
	case TokenString, TokenSymbol:
		p.next()
		return vm.Lit(tok.Literal), nil
	case TokenTrue:
		p.next()
		return vm.Lit(true), nil
	case TokenFalse:
		p.next()
		return vm.Lit(false), nil
	case TokenNull:
		p.next()
		return vm.Lit(nil), nil
	case TokenError:
		return nil, p.errorf(tok.Pos, tok.Literal)
	}
	return nil, p.errorf(tok.Pos, "unexpected end of input")
}

func (p *Parser) parseForm(depth int) (vm.Node, error) {
	open := p.cur
	if depth >= p.maxDepth {
		return nil, p.errorf(open.Pos, "forms nested too deeply")
	}
	p.next()

	e := &vm.Expr{}
	if (p.cur.Type == TokenSymbol || p.cur.Type == TokenString) && p.cur.Literal != "" {
		e.Op = p.cur.Literal
		p.next()
	}
	for p.cur.Type != TokenRParen {
		if p.cur.Type == TokenEOF {
			return nil, p.errorf(open.Pos, "unclosed (")
		}
		n, err := p.parseNode(depth + 1)
		if err != nil {
			return nil, err
		}
		e.Args = append(e.Args, n)
	}
	p.next()
	return e, nil
}
