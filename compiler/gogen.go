package compiler

import (
	"fmt"
	"go/format"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/viwo/viwo/compiler/hash"
	"github.com/viwo/viwo/vm"
)

// Source is one named program handed to GoGen.
type Source struct {
	Name string
	Node vm.Node
}

// GoGen writes script programs out as Go source. Each program becomes an
// exported *Unit variable whose AST is rebuilt with vm constructors, plus a
// Units table keyed by program name. The generated file depends only on the
// vm and compiler packages.
type GoGen struct {
	sb     strings.Builder
	indent int
	names  *namer
}

// NewGoGen creates a new emitter.
func NewGoGen() *GoGen {
	return &GoGen{}
}

// GenerateFile emits a complete, gofmt-formatted Go file in package pkg.
func (g *GoGen) GenerateFile(pkg string, sources []Source) ([]byte, error) {
	g.sb.Reset()
	g.indent = 0
	g.names = newNamer()

	sorted := make([]Source, len(sources))
	copy(sorted, sources)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	g.writeLine("// Code generated by viwo aot. DO NOT EDIT.")
	g.writeLine("")
	g.writeLine("package %s", Ident(pkg))
	g.writeLine("")
	g.writeLine("import (")
	g.writeLine("\t\"github.com/viwo/viwo/compiler\"")
	g.writeLine("\t\"github.com/viwo/viwo/vm\"")
	g.writeLine(")")
	g.writeLine("")

	idents := make([]string, len(sorted))
	for i, src := range sorted {
		id, err := g.unit(src)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", src.Name, err)
		}
		idents[i] = id
	}

	g.writeLine("// Units lists every program in this file by name.")
	g.writeLine("var Units = map[string]*compiler.Unit{")
	g.indent++
	for i, src := range sorted {
		g.writeLine("%s: %s,", strconv.Quote(src.Name), idents[i])
	}
	g.indent--
	g.writeLine("}")

	out, err := format.Source([]byte(g.sb.String()))
	if err != nil {
		return nil, fmt.Errorf("gogen: format: %w", err)
	}
	return out, nil
}

func (g *GoGen) unit(src Source) (string, error) {
	id := g.names.exported(src.Name)
	expr, err := g.expr(src.Node)
	if err != nil {
		return "", err
	}
	g.writeLine("// %s is compiled from %q (content hash %s).", id, src.Name, hash.String(src.Node)[:16])
	g.writeLine("var %s = compiler.NewUnit(%s, func() vm.Node {", id, strconv.Quote(src.Name))
	g.indent++
	g.writeLine("return %s", expr)
	g.indent--
	g.writeLine("})")
	g.writeLine("")
	return id, nil
}

// expr renders a node as a Go expression of type vm.Node.
func (g *GoGen) expr(n vm.Node) (string, error) {
	if e, ok := n.(*vm.Expr); ok {
		return g.call(e, 1)
	}
	lit, err := g.value(n)
	if err != nil {
		return "", err
	}
	return "vm.Lit(" + lit + ")", nil
}

// call renders an expression with vm.Call, or vm.Seq for a bare sequence.
// Calls whose arguments are all literals stay on one line.
func (g *GoGen) call(e *vm.Expr, depth int) (string, error) {
	flat := true
	for _, a := range e.Args {
		if _, ok := a.(*vm.Expr); ok {
			flat = false
			break
		}
	}

	var b strings.Builder
	switch {
	case e.Op == "":
		b.WriteString("vm.Seq(")
	case flat:
		b.WriteString("vm.Call(" + strconv.Quote(e.Op))
	default:
		b.WriteString("vm.Call(" + strconv.Quote(e.Op) + ",")
	}

	pad := strings.Repeat("\t", depth)
	for i, a := range e.Args {
		var s string
		var err error
		if sub, ok := a.(*vm.Expr); ok {
			s, err = g.call(sub, depth+1)
		} else {
			s, err = g.value(a)
		}
		if err != nil {
			return "", err
		}
		switch {
		case flat && (i > 0 || e.Op != ""):
			b.WriteString(", " + s)
		case flat:
			b.WriteString(s)
		default:
			b.WriteString("\n" + pad + "\t" + s + ",")
		}
	}
	if !flat {
		b.WriteString("\n" + pad)
	}
	b.WriteString(")")
	return b.String(), nil
}

// value renders a literal as a Go constant expression.
func (g *GoGen) value(n vm.Node) (string, error) {
	var v any
	switch n := n.(type) {
	case vm.Literal:
		v = n.Value
	case vm.Evaluated:
		v = n.Value
	}
	switch v := v.(type) {
	case nil:
		return "nil", nil
	case bool:
		return strconv.FormatBool(v), nil
	case string:
		return strconv.Quote(v), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", fmt.Errorf("gogen: cannot emit non-finite number %v", v)
		}
		if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		}
		return "float64(" + strconv.FormatFloat(v, 'g', -1, 64) + ")", nil
	}
	return "", fmt.Errorf("gogen: cannot emit %s value", vm.TypeName(v))
}

func (g *GoGen) writeLine(format string, args ...any) {
	for i := 0; i < g.indent; i++ {
		g.sb.WriteString("\t")
	}
	g.sb.WriteString(fmt.Sprintf(format, args...))
	g.sb.WriteString("\n")
}
