// Package typegen renders opcode metadata as TypeScript-style declarations
// for script editors.
//
// Dotted opcode names ("list.map") become functions inside nested
// namespaces. Operator opcodes are renamed to words ("+" becomes "add") and
// reserved words get a trailing underscore.
package typegen

import (
	"strings"

	"github.com/viwo/viwo/vm"
)

// reservedWords are identifiers a declaration may not use as-is.
var reservedWords = map[string]bool{
	"if": true, "else": true, "while": true, "for": true, "return": true,
	"break": true, "continue": true, "switch": true, "case": true,
	"default": true, "var": true, "let": true, "const": true,
	"function": true, "class": true, "new": true, "this": true,
	"super": true, "throw": true, "try": true, "catch": true,
	"finally": true, "import": true, "export": true, "from": true,
	"as": true, "type": true, "interface": true, "enum": true,
	"namespace": true, "typeof": true,
}

// operatorNames maps operator opcodes to declarable names.
var operatorNames = map[string]string{
	"+":  "add",
	"-":  "sub",
	"*":  "mul",
	"/":  "div",
	"%":  "mod",
	"^":  "pow",
	"==": "eq",
	"!=": "neq",
	"<":  "lt",
	"<=": "lte",
	">":  "gt",
	">=": "gte",
}

// preamble declares the host types every script sees.
const preamble = `interface Entity {
  /** Unique ID of the entity */
  id: number;
  /**
   * Resolved properties (merged from prototype and instance).
   */
  [key: string]: unknown;
}

/** Represents a scriptable action (verb) attached to an entity. */
interface Verb {
  id: number;
  entity_id: number;
  /** The name of the verb (command) */
  name: string;
  /** The S-expression code for the verb */
  code: ScriptValue<unknown>;
}

interface Capability {
  readonly __brand: "Capability";
  readonly id: string;
}

type ScriptValue_<Type> = Exclude<Type, readonly unknown[]>;

/**
 * Represents a value in the scripting language.
 * Can be a primitive, an object, or a nested S-expression (array).
 */
type ScriptValue<Type> = ScriptValue_<Type> | ScriptExpression<any[], Type>;

// Phantom type for return type safety
type ScriptExpression<Args extends (string | ScriptValue_<unknown>)[], Result> = [
  string,
  ...Args,
] & {
  __returnType: Result;
};

// Standard library functions
`

// namespace collects declarations under one dotted prefix. Children keep
// the order in which they were first seen.
type namespace struct {
	name     string
	funcs    []string
	children []*namespace
	index    map[string]*namespace
}

func newNamespace(name string) *namespace {
	return &namespace{name: name, index: make(map[string]*namespace)}
}

func (n *namespace) child(name string) *namespace {
	if c, ok := n.index[name]; ok {
		return c
	}
	c := newNamespace(name)
	n.index[name] = c
	n.children = append(n.children, c)
	return c
}

// GenerateTypeDefinitions renders declarations for ops inside a
// `declare global` block.
func GenerateTypeDefinitions(ops []vm.OpcodeInfo) string {
	var defs strings.Builder
	defs.WriteString(preamble)

	root := newNamespace("")
	for _, op := range ops {
		parts := strings.Split(op.Opcode, ".")
		if len(parts) == 1 {
			defs.WriteString(declaration(globalName(op.Opcode), op))
			defs.WriteString("\n")
			continue
		}
		ns := root
		for _, p := range parts[:len(parts)-1] {
			if p != "" {
				ns = ns.child(p)
			}
		}
		ns.funcs = append(ns.funcs, declaration(safeName(parts[len(parts)-1]), op))
	}
	for _, ns := range root.children {
		renderNamespace(&defs, ns, "")
	}

	var out strings.Builder
	out.WriteString("declare global {\n")
	for _, line := range strings.Split(strings.TrimSuffix(defs.String(), "\n"), "\n") {
		if line != "" {
			out.WriteString("  ")
		}
		out.WriteString(line)
		out.WriteString("\n")
	}
	out.WriteString("}\n\nexport {};\n")
	return out.String()
}

func globalName(opcode string) string {
	if mapped, ok := operatorNames[opcode]; ok {
		return mapped
	}
	return safeName(opcode)
}

func safeName(name string) string {
	if reservedWords[name] {
		return name + "_"
	}
	return name
}

// declaration renders one function signature, preceded by its doc comment.
func declaration(name string, op vm.OpcodeInfo) string {
	params := make([]string, len(op.Parameters))
	for i, p := range op.Parameters {
		opt := ""
		if p.Optional {
			opt = "?"
		}
		params[i] = safeName(p.Name) + opt + ": " + p.Type
	}
	ret := op.ReturnType
	if ret == "" {
		ret = "any"
	}
	generics := ""
	if len(op.GenericParameters) > 0 {
		generics = "<" + strings.Join(op.GenericParameters, ", ") + ">"
	}
	return docComment(op) + "function " + name + generics + "(" + strings.Join(params, ", ") + "): " + ret + ";"
}

func docComment(op vm.OpcodeInfo) string {
	documented := false
	for _, p := range op.Parameters {
		if p.Description != "" {
			documented = true
			break
		}
	}
	if op.Description == "" && !documented {
		return ""
	}
	var b strings.Builder
	b.WriteString("/**\n")
	if op.Description != "" {
		b.WriteString(" * " + op.Description + "\n")
	}
	if documented {
		if op.Description != "" {
			b.WriteString(" *\n")
		}
		for _, p := range op.Parameters {
			if p.Description != "" {
				b.WriteString(" * @param " + strings.TrimPrefix(p.Name, "...") + " " + p.Description + "\n")
			}
		}
	}
	b.WriteString(" */\n")
	return b.String()
}

func renderNamespace(b *strings.Builder, ns *namespace, indent string) {
	b.WriteString(indent + "namespace " + ns.name + " {\n")
	inner := indent + "  "
	for _, fn := range ns.funcs {
		for _, line := range strings.Split(fn, "\n") {
			b.WriteString(inner + line + "\n")
		}
	}
	for _, c := range ns.children {
		renderNamespace(b, c, inner)
	}
	b.WriteString(indent + "}\n")
}
