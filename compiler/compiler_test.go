package compiler

import (
	"errors"
	"strings"
	"testing"

	"github.com/viwo/viwo/syntax"
	"github.com/viwo/viwo/vm"
)

// outcome is everything observable about one run.
type outcome struct {
	value any
	err   error
	gas   int64
}

func (o outcome) kind() vm.Kind {
	if o.err == nil {
		return -1
	}
	return vm.KindOf(o.err)
}

func parse(t *testing.T, src string) vm.Node {
	t.Helper()
	n, err := syntax.ParseProgram(src)
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	return n
}

func newContext(ops *vm.Registry, gas int64) *vm.Context {
	return vm.NewContext(vm.Options{
		Ops:  ops,
		Gas:  gas,
		Args: []any{3.0, "three"},
		This: vm.ObjectOf("id", 7, "name", "lamp"),
	})
}

func interpret(ops *vm.Registry, n vm.Node, gas int64) outcome {
	ctx := newContext(ops, gas)
	v, err := vm.Run(n, ctx)
	return outcome{value: v, err: err, gas: ctx.Gas()}
}

func compiled(t *testing.T, ops *vm.Registry, n vm.Node, gas int64) outcome {
	t.Helper()
	p, err := Compile(n, ops)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	ctx := newContext(ops, gas)
	v, err := p(ctx)
	return outcome{value: v, err: err, gas: ctx.Gas()}
}

// assertEquivalent runs src through both strategies and compares the
// result, the error kind and message, the failing opcode and the gas left.
func assertEquivalent(t *testing.T, ops *vm.Registry, src string, gas int64) outcome {
	t.Helper()
	n := parse(t, src)
	want := interpret(ops, n, gas)
	got := compiled(t, ops, n, gas)

	if want.kind() != got.kind() {
		t.Fatalf("%s: error kind = %v (%v), interpreter %v (%v)", src, got.kind(), got.err, want.kind(), want.err)
	}
	if want.err != nil {
		if got.err.Error() != want.err.Error() {
			t.Errorf("%s: error = %q, interpreter %q", src, got.err, want.err)
		}
		var ge, we *vm.ScriptError
		if errors.As(got.err, &ge) && errors.As(want.err, &we) {
			if ge.Op != we.Op {
				t.Errorf("%s: error op = %q, interpreter %q", src, ge.Op, we.Op)
			}
			if len(ge.StackTrace) != len(we.StackTrace) {
				t.Errorf("%s: stack depth = %d, interpreter %d", src, len(ge.StackTrace), len(we.StackTrace))
			}
		}
	} else if !vm.DeepEqual(got.value, want.value) {
		t.Errorf("%s = %v, interpreter %v", src, vm.ToPlain(got.value), vm.ToPlain(want.value))
	}
	if got.gas != want.gas {
		t.Errorf("%s: gas left = %d, interpreter %d", src, got.gas, want.gas)
	}
	return got
}

func TestEquivalence(t *testing.T) {
	ops := vm.NewStdRegistry()
	tests := []struct {
		name string
		src  string
	}{
		// arithmetic
		{"add", `(+ 1 2)`},
		{"variadic subtract", `(- 10 1 2)`},
		{"power is right associative", `(^ 2 3 2)`},
		{"modulo", `(% 7 3)`},
		{"divide by zero", `(/ 1 0)`},
		{"add string", `(+ 1 "a")`},
		{"add too few", `(+ 1)`},

		// comparison
		{"chain ascending", `(< 1 2 3)`},
		{"chain broken", `(< 1 3 2)`},
		{"chain lte", `(<= 1 1 2)`},
		{"chain gt", `(> 3 2 1)`},
		{"chain gte", `(>= 3 3 4)`},
		{"compare strings", `(< "a" "b")`},
		{"compare mixed", `(< 1 "a")`},
		{"compare one operand", `(< 1)`},
		{"equal chain", `(== 1 1 1)`},
		{"not equal", `(!= 1 2)`},
		{"mixed chain type error after false", `(< 2 1 "x")`},

		// control flow
		{"if then", `(if (> 2 1) "yes" "no")`},
		{"if no else", `(if false 1)`},
		{"if missing branch", `(if true)`},
		{"while counter", `(seq (let i 0) (while (< (var i) 5) (set i (+ (var i) 1))) (var i))`},
		{"while break value", `(seq (let i 0) (while true (seq (set i (+ (var i) 1)) (if (== (var i) 3) (break (* (var i) 10))))))`},
		{"while break no value", `(seq (let i 0) (while true (seq (set i (+ (var i) 1)) (if (> (var i) 2) (break)) (var i))))`},
		{"for sum", `(seq (let sum 0) (for x (list.new 1 2 3 4) (set sum (+ (var sum) (var x)))) (var sum))`},
		{"for over non-list", `(for x 5 (throw "unreachable"))`},
		{"for bad name", `(for (var x) (list.new 1) 1)`},
		{"for sees appended items", `(seq (let l (list.new 1)) (for x (var l) (if (< (list.len (var l)) 3) (list.push (var l) (var x)))) (var l))`},
		{"break outside loop", `(break 1)`},
		{"and short circuit", `(and true 0 (throw "no"))`},
		{"or short circuit", `(or false "" "x" (throw "no"))`},
		{"not", `(not 0)`},
		{"seq empty", `(seq)`},

		// variables and closures
		{"undefined var", `(var nope)`},
		{"closure snapshot", `(seq (let x 10) (let f (lambda () (var x))) (set x 20) (apply (var f)))`},
		{"closure does not write back", `(seq (let x 1) (apply (lambda () (set x 99))) (var x))`},
		{"params shadow", `(seq (let x 1) (apply (lambda (x) (* (var x) 2)) 21))`},
		{"missing param is null", `(seq (let x 1) (apply (lambda (x) (var x))))`},
		{"no self recursion", `(seq (let f (lambda (n) (apply (var f) (var n)))) (apply (var f) 1))`},
		{"nested closures", `(seq (let a 1) (let f (lambda (b) (lambda (c) (+ (var a) (var b) (var c))))) (apply (apply (var f) 2) 3))`},
		{"lambda bad params", `(lambda 5 1)`},
		{"apply non lambda", `(apply 5)`},
		{"error inside lambda", `(apply (lambda (x) (+ (var x) "s")) 1)`},

		// errors
		{"throw", `(throw "boom")`},
		{"try catch", `(try (throw "boom") e (str.concat "caught " (var e)))`},
		{"try no catch block", `(try (throw "boom"))`},
		{"try success", `(try 42 e 0)`},
		{"try does not catch security", `(seq (let k "__proto__") (try (obj.get (obj.new) (var k)) e "caught"))`},
		{"try does not catch break", `(while true (try (break 5) e "caught"))`},
		{"unknown opcode", `(nope 1 2)`},
		{"bare sequence", `(seq ((list.new) 1))`},

		// collections
		{"list new", `(list.new 1 "two" null)`},
		{"list get out of range", `(list.get (list.new 1) 5)`},
		{"list set grows", `(seq (let l (list.new)) (list.set (var l) 2 "x") (var l))`},
		{"list set growth out of gas", `(seq (let l (list.new)) (list.set (var l) 1e10 "x"))`},
		{"list slice huge end", `(list.slice (list.new 1 2 3) 0 1e300)`},
		{"lte nan", `(<= (/ 0 0) 1)`},
		{"gte nan", `(>= (/ 0 0) 1)`},
		{"lte nan chain", `(<= 0 (/ 0 0) 1)`},
		{"list map", `(list.map (list.new 1 2 3) (lambda (x i) (+ (var x) (var i))))`},
		{"list filter", `(list.filter (list.new 1 2 3 4) (lambda (x) (== (% (var x) 2) 0)))`},
		{"list reduce", `(list.reduce (list.new 1 2 3) (lambda (acc x) (+ (var acc) (var x))) 10)`},
		{"list find", `(list.find (list.new 1 2 3) (lambda (x) (> (var x) 1)))`},
		{"list map bad callback", `(list.map (list.new 1) 5)`},
		{"list map bad list", `(list.map 5 (lambda (x) 1))`},
		{"obj new and get", `(obj.get (obj.new (a 1) (b 2)) "b")`},
		{"obj computed key", `(seq (let k "dyn") (obj.keys (obj.new ((var k) 1) (z 2))))`},
		{"obj missing key", `(obj.get (obj.new) "x")`},
		{"obj default", `(obj.get (obj.new) "x" 5)`},
		{"obj bad pair", `(obj.new (a 1 2))`},
		{"obj set has del", `(seq (let o (obj.new)) (obj.set (var o) "k" 1) (list.new (obj.has (var o) "k") (obj.del (var o) "k") (obj.has (var o) "k")))`},
		{"quote", `(quote (a (b 1) "c"))`},

		// other libraries through direct calls
		{"str concat", `(str.concat "n=" 1.5 true null)`},
		{"str upper", `(str.upper "abc")`},
		{"math max", `(math.max 1 7 3)`},
		{"json round trip", `(json.parse (json.stringify (obj.new (a (list.new 1 2)))))`},
		{"typeof lambda", `(typeof (lambda () 1))`},

		// context
		{"args", `(args)`},
		{"arg", `(arg 1)`},
		{"this", `(obj.get (this) "name")`},
		{"caller null", `(caller)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertEquivalent(t, ops, tt.src, 1000)
		})
	}
}

func TestEquivalenceOutOfGas(t *testing.T) {
	ops := vm.NewStdRegistry()
	srcs := []string{
		`(while true 1)`,
		`(seq (let i 0) (while (< (var i) 100) (set i (+ (var i) 1))))`,
		`(list.map (list.new 1 2 3 4 5 6 7 8) (lambda (x) (* (var x) (var x))))`,
		`(for x (list.new 1 2 3) (seq (let y (var x)) (+ (var y) (var y) (var y))))`,
	}
	for _, src := range srcs {
		for _, gas := range []int64{1, 5, 17, 40} {
			got := assertEquivalent(t, ops, src, gas)
			if got.err != nil && !errors.Is(got.err, vm.ErrOutOfGas) {
				t.Errorf("%s with gas %d: %v, want OutOfGas", src, gas, got.err)
			}
		}
	}
}

func TestGasMatchesNodeCount(t *testing.T) {
	ops := vm.NewStdRegistry()
	n := parse(t, `(+ 1 (* 2 3) (- 4 1))`)
	count := int64(vm.Count(n))

	got := compiled(t, ops, n, count)
	if got.err != nil {
		t.Fatalf("with gas %d: %v", count, got.err)
	}
	if got.gas != 0 {
		t.Errorf("gas left = %d, want 0", got.gas)
	}
	if got := compiled(t, ops, n, count-1); !errors.Is(got.err, vm.ErrOutOfGas) {
		t.Errorf("with gas %d: %v, want OutOfGas", count-1, got.err)
	}
}

func TestStaticDangerousKeys(t *testing.T) {
	ops := vm.NewStdRegistry()
	srcs := []string{
		`(obj.get (obj.new) "__proto__")`,
		`(obj.set (obj.new) "constructor" 1)`,
		`(obj.has (obj.new) "prototype")`,
		`(obj.del (obj.new) "__proto__")`,
		`(obj.new ("constructor" 1))`,
		`(list.get (list.new) "__proto__")`,
		`(list.set (list.new) "prototype" 1)`,
		`(if false (obj.get (obj.new) "__proto__"))`,
		`(lambda () (obj.get (obj.new) "constructor"))`,
	}
	for _, src := range srcs {
		_, err := Compile(parse(t, src), ops)
		if !errors.Is(err, vm.ErrSecurity) {
			t.Errorf("Compile(%s) = %v, want SecurityError", src, err)
			continue
		}
		if !strings.Contains(err.Error(), "Security Error: Cannot access dangerous key") {
			t.Errorf("Compile(%s) message = %q", src, err.Error())
		}
	}
}

func TestRuntimeDangerousKeys(t *testing.T) {
	ops := vm.NewStdRegistry()
	srcs := []string{
		`(seq (let k "__proto__") (obj.get (obj.new) (var k)))`,
		`(seq (let k "constructor") (obj.set (obj.new) (var k) 1))`,
		`(seq (let k "prototype") (obj.has (obj.new) (var k)))`,
		`(seq (let k "__proto__") (obj.del (obj.new) (var k)))`,
		`(seq (let k "constructor") (obj.new ((var k) 1)))`,
		`(seq (let k "__proto__") (list.get (list.new) (var k)))`,
		`(seq (let k "prototype") (list.set (list.new) (var k) 1))`,
	}
	for _, src := range srcs {
		got := assertEquivalent(t, ops, src, 1000)
		if !errors.Is(got.err, vm.ErrSecurity) {
			t.Errorf("%s = %v, want SecurityError", src, got.err)
		}
	}
}

func TestRuntimeKeyCheckOrder(t *testing.T) {
	// A list opcode given a non-list fails validation before the key check.
	got := assertEquivalent(t, vm.NewStdRegistry(), `(seq (let k "__proto__") (list.get 5 (var k)))`, 1000)
	if vm.KindOf(got.err) != vm.KindValidation {
		t.Errorf("error = %v, want validation", got.err)
	}
}

func TestExtensionOpcodes(t *testing.T) {
	ops := vm.NewStdRegistry()
	ops.Register("unless", vm.Opcode{
		Metadata: vm.Metadata{Label: "Unless", Lazy: true},
		Handler: func(ctx *vm.Context, args []vm.Node) (any, error) {
			cond, err := vm.Evaluate(args[0], ctx)
			if err != nil {
				return nil, err
			}
			if vm.Truthy(cond) {
				return nil, nil
			}
			return vm.Evaluate(args[1], ctx)
		},
	})
	ops.Register("double", vm.Opcode{
		Metadata: vm.Metadata{Label: "Double"},
		Handler: vm.Strict("double", func(ctx *vm.Context, args []any) (any, error) {
			n, ok := args[0].(float64)
			if !ok {
				return nil, vm.Errorf(vm.KindValidation, "double: expected number")
			}
			return n * 2, nil
		}),
	})

	tests := []string{
		`(seq (let x 1) (unless false (set x 5)) (var x))`,
		`(seq (let x 1) (unless true (set x 5)) (var x))`,
		`(seq (let x 2) (unless false (let y (double (var x)))) (var y))`,
		`(unless false (unless false (throw "deep")))`,
		`(double (double 3))`,
		`(double "x")`,
		`(apply (lambda (n) (unless false (double (var n)))) 4)`,
	}
	for _, src := range tests {
		assertEquivalent(t, ops, src, 1000)
	}
}

// TestExtensionOpcodesSeeAllVariables covers host opcodes that read or
// write the variable scope directly, for names the script never binds
// itself and from inside closures.
func TestExtensionOpcodesSeeAllVariables(t *testing.T) {
	ops := vm.NewStdRegistry()
	ops.Register("lookup", vm.Opcode{
		Metadata: vm.Metadata{Label: "Lookup", Lazy: true},
		Handler: func(ctx *vm.Context, args []vm.Node) (any, error) {
			name, _ := vm.Name(args[0])
			return ctx.Vars[name], nil
		},
	})
	ops.Register("peek", vm.Opcode{
		Metadata: vm.Metadata{Label: "Peek"},
		Handler: vm.Strict("peek", func(ctx *vm.Context, args []any) (any, error) {
			name, _ := args[0].(string)
			return ctx.Vars[name], nil
		}),
	})
	ops.Register("define", vm.Opcode{
		Metadata: vm.Metadata{Label: "Define", Lazy: true},
		Handler: func(ctx *vm.Context, args []vm.Node) (any, error) {
			name, _ := vm.Name(args[0])
			v, err := vm.Evaluate(args[1], ctx)
			if err != nil {
				return nil, err
			}
			ctx.Vars[name] = v
			return v, nil
		},
	})

	tests := []struct {
		src  string
		want any
	}{
		{`(lookup "seed")`, 41.0},
		{`(peek "seed")`, 41.0},
		{`(lookup "missing")`, nil},
		{`(seq (let f (lambda () (lookup "seed"))) (apply (var f)))`, 41.0},
		{`(seq (let f (lambda () (peek "seed"))) (apply (var f)))`, 41.0},
		{`(seq (let x 5) (peek "x"))`, 5.0},
		{`(seq (let x 5) (apply (lambda () (peek "x"))))`, 5.0},
		{`(seq (let x 5) (let f (lambda () (lookup "x"))) (set x 6) (apply (var f)))`, 5.0},
		{`(seq (define made 3) (lookup "made"))`, 3.0},
		{`(seq (define made 3) (apply (lambda () (peek "made"))))`, 3.0},
		{`(seq (define x 3) (var x))`, 3.0},
		{`(apply (lambda (n) (seq (define m (+ (var n) 1)) (peek "m"))) 1)`, 2.0},
	}
	for _, tt := range tests {
		n := parse(t, tt.src)
		run := func(p func(*vm.Context) (any, error)) outcome {
			ctx := vm.NewContext(vm.Options{Ops: ops, Vars: map[string]any{"seed": 41.0}})
			v, err := p(ctx)
			return outcome{value: v, err: err, gas: ctx.Gas()}
		}
		want := run(func(ctx *vm.Context) (any, error) { return vm.Run(n, ctx) })
		got := run(MustCompile(n, ops))

		if want.err != nil || got.err != nil {
			t.Errorf("%s: errors %v (compiled) and %v (interpreted)", tt.src, got.err, want.err)
			continue
		}
		if !vm.DeepEqual(want.value, tt.want) {
			t.Errorf("%s: interpreter = %v, want %v", tt.src, want.value, tt.want)
		}
		if !vm.DeepEqual(got.value, want.value) {
			t.Errorf("%s = %v, interpreter %v", tt.src, got.value, want.value)
		}
		if got.gas != want.gas {
			t.Errorf("%s: gas left = %d, interpreter %d", tt.src, got.gas, want.gas)
		}
	}
}

func TestOverriddenBuiltinUsesRegistry(t *testing.T) {
	ops := vm.NewStdRegistry()
	ops.Register("+", vm.Opcode{
		Handler: vm.Strict("+", func(ctx *vm.Context, args []any) (any, error) {
			return "overridden", nil
		}),
	})
	got := assertEquivalent(t, ops, `(+ 1 2)`, 100)
	if got.value != "overridden" {
		t.Errorf("(+ 1 2) = %v, want the host override", got.value)
	}
}

func TestCompiledLambdaInInterpreter(t *testing.T) {
	// Lambdas cross between strategies through host values.
	ops := vm.NewStdRegistry()
	p := MustCompile(parse(t, `(seq (let base 100) (lambda (x) (+ (var base) (var x))))`), ops)
	ctx := newContext(ops, 1000)
	fn, err := p(ctx)
	if err != nil {
		t.Fatal(err)
	}
	v, err := vm.Run(vm.Call("list.map", vm.Call("list.new", 1, 2), vm.Evaluated{Value: fn}), ctx)
	if err != nil {
		t.Fatal(err)
	}
	if want := vm.FromPlain([]any{101.0, 102.0}); !vm.DeepEqual(v, want) {
		t.Errorf("map = %v, want [101 102]", vm.ToPlain(v))
	}
}

func TestHostVars(t *testing.T) {
	ops := vm.NewStdRegistry()
	p := MustCompile(parse(t, `(+ (var seed) 1)`), ops)
	ctx := vm.NewContext(vm.Options{Ops: ops, Vars: map[string]any{"seed": 41.0}})
	v, err := p(ctx)
	if err != nil || v != 42.0 {
		t.Errorf("program = %v, %v, want 42", v, err)
	}
}

func TestStackTraceInnermostFirst(t *testing.T) {
	ops := vm.NewStdRegistry()
	src := `(seq (let inner (lambda (x) (throw "bad"))) (let outer (lambda (y) (apply (var inner) (var y)))) (apply (var outer) 5))`
	got := assertEquivalent(t, ops, src, 1000)
	var se *vm.ScriptError
	if !errors.As(got.err, &se) {
		t.Fatalf("error = %v", got.err)
	}
	if len(se.StackTrace) != 2 {
		t.Fatalf("stack = %v, want 2 frames", se.StackTrace)
	}
	if !vm.DeepEqual(vm.FromPlain(se.StackTrace[0].Args), vm.FromPlain([]any{5.0})) {
		t.Errorf("innermost frame args = %v", se.StackTrace[0].Args)
	}
	if se.Op != "throw" {
		t.Errorf("op = %q, want throw", se.Op)
	}
}
