// Package syntax reads and writes ViwoScript source: a parenthesized
// S-expression surface over the array-form AST.
package syntax

import "fmt"

// ---------------------------------------------------------------------------
// Token types for the S-expression lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenError

	TokenNumber // 42, -1.5, 2e3
	TokenString // "hello\n"
	TokenSymbol // list.map, +, <=, x

	TokenLParen // (
	TokenRParen // )

	TokenTrue
	TokenFalse
	TokenNull
)

var tokenNames = map[TokenType]string{
	TokenEOF:    "EOF",
	TokenError:  "ERROR",
	TokenNumber: "NUMBER",
	TokenString: "STRING",
	TokenSymbol: "SYMBOL",
	TokenLParen: "(",
	TokenRParen: ")",
	TokenTrue:   "true",
	TokenFalse:  "false",
	TokenNull:   "null",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", int(t))
}

var reserved = map[string]TokenType{
	"true":  TokenTrue,
	"false": TokenFalse,
	"null":  TokenNull,
}

// Position is a location in source text.
type Position struct {
	Offset int
	Line   int
	Column int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Token is one lexical token. For strings Literal holds the unescaped text.
type Token struct {
	Type    TokenType
	Literal string
	Pos     Position
}

// Error is a syntax error with its source position.
type Error struct {
	Pos Position
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}
