package syntax

import (
	"strings"

	"github.com/viwo/viwo/vm"
)

// LineWidth is the width Format tries to stay within.
const LineWidth = 72

// Format renders a node as source. Forms that fit in LineWidth stay on one
// line; longer ones put each argument on its own indented line. The output
// parses back to the same node.
func Format(n vm.Node) string {
	var sb strings.Builder
	format(&sb, n, 0)
	return sb.String()
}

// FormatProgram renders several top-level forms separated by blank lines.
func FormatProgram(nodes []vm.Node) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = Format(n)
	}
	return strings.Join(parts, "\n\n") + "\n"
}

func format(sb *strings.Builder, n vm.Node, indent int) {
	e, ok := n.(*vm.Expr)
	if !ok {
		sb.WriteString(atom(vm.ToAny(n)))
		return
	}
	flat := flatForm(e)
	if indent+len(flat) <= LineWidth || len(e.Args) == 0 {
		sb.WriteString(flat)
		return
	}
	sb.WriteByte('(')
	first := true
	if e.Op != "" {
		sb.WriteString(head(e.Op))
		first = false
	}
	for _, a := range e.Args {
		if first {
			format(sb, a, indent+1)
			first = false
			continue
		}
		sb.WriteByte('\n')
		sb.WriteString(strings.Repeat(" ", indent+2))
		format(sb, a, indent+2)
	}
	sb.WriteByte(')')
}

func flatForm(e *vm.Expr) string {
	parts := make([]string, 0, len(e.Args)+1)
	if e.Op != "" {
		parts = append(parts, head(e.Op))
	}
	for _, a := range e.Args {
		if sub, ok := a.(*vm.Expr); ok {
			parts = append(parts, flatForm(sub))
		} else {
			parts = append(parts, atom(vm.ToAny(a)))
		}
	}
	return "(" + strings.Join(parts, " ") + ")"
}

func head(op string) string {
	if isBareSymbol(op) {
		return op
	}
	return quote(op)
}

func atom(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return vm.FormatNumber(v)
	case string:
		return quote(v)
	}
	return quote(vm.ToString(v))
}

// isBareSymbol reports whether s reads back as the same symbol.
func isBareSymbol(s string) bool {
	if s == "" {
		return false
	}
	if _, ok := reserved[s]; ok {
		return false
	}
	l := NewLexer(s)
	tok := l.NextToken()
	return tok.Type == TokenSymbol && tok.Literal == s && l.NextToken().Type == TokenEOF
}

func quote(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}
