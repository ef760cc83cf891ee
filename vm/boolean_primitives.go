package vm

// ---------------------------------------------------------------------------
// Boolean library: equality, ordering, logic
// ---------------------------------------------------------------------------

// BooleanLibrary returns comparison and logic opcodes.
func BooleanLibrary() Library {
	lib := Library{}

	compare := func(name, label string, test func(a, b any) (bool, error)) {
		define(lib, name, Metadata{
			Label: label, Category: "logic", Layout: LayoutInfix,
			Description: label + " (chained pairwise over 2 or more operands)",
			Parameters: []Param{
				param("a", "unknown", "First operand."),
				param("b", "unknown", "Second operand."),
				param("...rest", "unknown[]", "Further operands."),
			},
			ReturnType: "boolean",
		}, func(ctx *Context, args []any) (any, error) {
			return Chain(name, args, test)
		})
	}

	compare("==", "Equal", func(a, b any) (bool, error) { return Equal(a, b), nil })
	compare("!=", "Not Equal", func(a, b any) (bool, error) { return !Equal(a, b), nil })
	compare("<", "Less Than", func(a, b any) (bool, error) { return Less("<", a, b) })
	compare(">", "Greater Than", func(a, b any) (bool, error) { return Less(">", b, a) })
	compare("<=", "Less Or Equal", func(a, b any) (bool, error) { return LessEqual("<=", a, b) })
	compare(">=", "Greater Or Equal", func(a, b any) (bool, error) { return LessEqual(">=", b, a) })

	defineLazy(lib, "and", Metadata{
		Label: "And", Category: "logic", Layout: LayoutInfix,
		Description: "True when every operand is truthy; stops at the first falsy one",
		Parameters:  []Param{param("...args", "unknown[]", "Operands.")},
		ReturnType:  "boolean",
	}, func(ctx *Context, args []Node) (any, error) {
		for _, a := range args {
			v, err := Evaluate(a, ctx)
			if err != nil {
				return nil, err
			}
			if !Truthy(v) {
				return false, nil
			}
		}
		return true, nil
	})

	defineLazy(lib, "or", Metadata{
		Label: "Or", Category: "logic", Layout: LayoutInfix,
		Description: "True when any operand is truthy; stops at the first truthy one",
		Parameters:  []Param{param("...args", "unknown[]", "Operands.")},
		ReturnType:  "boolean",
	}, func(ctx *Context, args []Node) (any, error) {
		for _, a := range args {
			v, err := Evaluate(a, ctx)
			if err != nil {
				return nil, err
			}
			if Truthy(v) {
				return true, nil
			}
		}
		return false, nil
	})

	define(lib, "not", Metadata{
		Label: "Not", Category: "logic",
		Description: "Logical negation",
		Parameters:  []Param{param("value", "unknown", "Operand.")},
		ReturnType:  "boolean",
	}, func(ctx *Context, args []any) (any, error) {
		if len(args) < 1 {
			return true, nil
		}
		return !Truthy(args[0]), nil
	})

	return lib
}

// Chain applies test to each adjacent pair of operands and reports whether
// every pair passes. All operands are already evaluated.
func Chain(op string, args []any, test func(a, b any) (bool, error)) (any, error) {
	if len(args) < 2 {
		return nil, Errorf(KindValidation, "%s: expected at least 2 arguments", op)
	}
	for i := 0; i+1 < len(args); i++ {
		ok, err := test(args[i], args[i+1])
		if err != nil {
			return nil, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Less orders two numbers or two strings.
func Less(op string, a, b any) (bool, error) {
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			return av < bv, nil
		}
	case string:
		if bv, ok := b.(string); ok {
			return av < bv, nil
		}
	}
	return false, Errorf(KindValidation, "%s: cannot compare %s with %s", op, TypeName(a), TypeName(b))
}

// LessEqual orders a and b inclusively. Any comparison involving NaN is
// false.
func LessEqual(op string, a, b any) (bool, error) {
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			return av <= bv, nil
		}
	case string:
		if bv, ok := b.(string); ok {
			return av <= bv, nil
		}
	}
	return false, Errorf(KindValidation, "%s: cannot compare %s with %s", op, TypeName(a), TypeName(b))
}
