package server

import (
	"unicode/utf8"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/viwo/viwo/syntax"
)

// document is the token-level view of a script used for editor features.
// It works on text that does not parse.
type document struct {
	tokens []syntax.Token
	// heads holds the token after each "(", in source order. Expressions
	// visited in preorder line up with it index for index.
	heads    []syntax.Token
	bindings []binding
}

// binding is one occurrence of a variable name in a binding form.
type binding struct {
	name    syntax.Token
	by      string
	defines bool
}

// variableForms maps heads whose first argument names a variable to whether
// that occurrence introduces the variable.
var variableForms = map[string]bool{
	"let": true,
	"for": true,
	"set": false,
	"var": false,
}

func scan(text string) *document {
	d := &document{}
	lex := syntax.NewLexer(text)
	for {
		tok := lex.NextToken()
		if tok.Type == syntax.TokenEOF {
			break
		}
		d.tokens = append(d.tokens, tok)
	}

	toks := d.tokens
	at := func(i int) syntax.Token {
		if i < len(toks) {
			return toks[i]
		}
		return syntax.Token{Type: syntax.TokenEOF}
	}
	for i, tok := range toks {
		if tok.Type != syntax.TokenLParen {
			continue
		}
		head := at(i + 1)
		d.heads = append(d.heads, head)
		if head.Type != syntax.TokenSymbol {
			continue
		}
		if defines, ok := variableForms[head.Literal]; ok {
			if name := at(i + 2); isName(name) {
				d.bindings = append(d.bindings, binding{name: name, by: head.Literal, defines: defines})
			}
			continue
		}
		if head.Literal == "lambda" && at(i+2).Type == syntax.TokenLParen {
			for j := i + 3; isName(at(j)); j++ {
				d.bindings = append(d.bindings, binding{name: at(j), by: "lambda", defines: true})
			}
		}
	}
	return d
}

func isName(t syntax.Token) bool {
	return t.Type == syntax.TokenSymbol || t.Type == syntax.TokenString
}

// find returns the first string or symbol token spelled as one of words.
func (d *document) find(words []string) (syntax.Token, bool) {
	for _, tok := range d.tokens {
		if !isName(tok) {
			continue
		}
		for _, w := range words {
			if tok.Literal == w {
				return tok, true
			}
		}
	}
	return syntax.Token{}, false
}

// tokenRange converts a token's 1-based position into an LSP range.
func tokenRange(t syntax.Token) protocol.Range {
	width := utf8.RuneCountInString(t.Literal)
	if t.Type == syntax.TokenString {
		width += 2
	}
	start := position(t.Pos)
	end := start
	end.Character += protocol.UInteger(width)
	return protocol.Range{Start: start, End: end}
}

func pointRange(p syntax.Position) protocol.Range {
	pos := position(p)
	return protocol.Range{Start: pos, End: pos}
}

func position(p syntax.Position) protocol.Position {
	line, col := p.Line-1, p.Column-1
	if line < 0 {
		line = 0
	}
	if col < 0 {
		col = 0
	}
	return protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(col)}
}
