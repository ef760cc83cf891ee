package compiler

import (
	"strconv"
	"strings"
	"unicode"
)

// reserved lists names a sanitized identifier may not take: Go keywords,
// predeclared identifiers, and the names generated code relies on.
var reserved = map[string]bool{
	// keywords
	"break": true, "case": true, "chan": true, "const": true, "continue": true,
	"default": true, "defer": true, "else": true, "fallthrough": true,
	"for": true, "func": true, "go": true, "goto": true, "if": true,
	"import": true, "interface": true, "map": true, "package": true,
	"range": true, "return": true, "select": true, "struct": true,
	"switch": true, "type": true, "var": true,

	// predeclared
	"any": true, "append": true, "bool": true, "byte": true, "cap": true,
	"clear": true, "close": true, "complex": true, "copy": true, "delete": true,
	"error": true, "false": true, "float64": true, "int": true, "iota": true,
	"len": true, "make": true, "max": true, "min": true, "new": true,
	"nil": true, "panic": true, "print": true, "println": true, "real": true,
	"recover": true, "rune": true, "string": true, "true": true,

	// blank
	"_": true,

	// generated code
	"vm": true, "compiler": true, "ctx": true, "args": true, "err": true,
	"Units": true,
}

// Ident maps a script name to a valid Go identifier. Operator characters
// are spelled out, other invalid characters become underscores, a leading
// digit is escaped with an underscore and reserved names get a trailing
// underscore.
func Ident(name string) string {
	var b strings.Builder
	for _, ch := range name {
		switch ch {
		case '+':
			b.WriteString("Plus")
		case '-':
			b.WriteString("Minus")
		case '*':
			b.WriteString("Star")
		case '/':
			b.WriteString("Slash")
		case '%':
			b.WriteString("Percent")
		case '^':
			b.WriteString("Caret")
		case '<':
			b.WriteString("LT")
		case '>':
			b.WriteString("GT")
		case '=':
			b.WriteString("EQ")
		case '!':
			b.WriteString("Not")
		default:
			if ch == '_' || unicode.IsLetter(ch) || unicode.IsDigit(ch) {
				b.WriteRune(ch)
			} else {
				b.WriteByte('_')
			}
		}
	}
	s := b.String()
	if s == "" {
		s = "_"
	}
	if unicode.IsDigit([]rune(s)[0]) {
		s = "_" + s
	}
	if reserved[s] {
		s += "_"
	}
	return s
}

// Exported is Ident with the first letter upper-cased, for top-level
// declarations. Names that do not start with a letter get an X prefix.
func Exported(name string) string {
	s := Ident(name)
	r := []rune(s)
	if !unicode.IsLetter(r[0]) {
		s = "X" + s
		r = []rune(s)
	}
	r[0] = unicode.ToUpper(r[0])
	s = string(r)
	if reserved[s] {
		s += "_"
	}
	return s
}

// namer hands out distinct identifiers for a set of script names.
type namer struct {
	used map[string]bool
}

func newNamer() *namer {
	return &namer{used: make(map[string]bool)}
}

// exported returns a unique exported identifier for name.
func (n *namer) exported(name string) string {
	base := Exported(name)
	id := base
	for i := 2; n.used[id]; i++ {
		id = base + "_" + strconv.Itoa(i)
	}
	n.used[id] = true
	return id
}
