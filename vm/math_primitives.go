package vm

import "math"

// ---------------------------------------------------------------------------
// Math library
// ---------------------------------------------------------------------------

// MathLibrary returns arithmetic opcodes.
func MathLibrary() Library {
	lib := Library{}

	arith := func(name, label string) {
		define(lib, name, Metadata{
			Label: label, Category: "math", Layout: LayoutInfix,
			Description: label + " of two or more numbers",
			Parameters: []Param{
				param("a", "number", "First operand."),
				param("b", "number", "Second operand."),
				param("...rest", "number[]", "Further operands."),
			},
			ReturnType: "number",
		}, func(ctx *Context, args []any) (any, error) {
			return Arith(name, args)
		})
	}
	arith("+", "Add")
	arith("-", "Subtract")
	arith("*", "Multiply")
	arith("/", "Divide")
	arith("%", "Modulo")
	arith("^", "Power")

	unary := func(name, label string, fn func(float64) float64) {
		define(lib, name, Metadata{
			Label: label, Category: "math",
			Description: label,
			Parameters:  []Param{param("num", "number", "Input number.")},
			ReturnType:  "number",
		}, func(ctx *Context, args []any) (any, error) {
			nums, err := Numbers(name, args, 1)
			if err != nil {
				return nil, err
			}
			return fn(nums[0]), nil
		})
	}
	unary("math.floor", "Floor", math.Floor)
	unary("math.ceil", "Ceiling", math.Ceil)
	unary("math.trunc", "Truncate", math.Trunc)
	unary("math.round", "Round", Round)
	unary("math.abs", "Absolute Value", math.Abs)
	unary("math.sqrt", "Square Root", math.Sqrt)
	unary("math.sin", "Sine", math.Sin)
	unary("math.cos", "Cosine", math.Cos)
	unary("math.tan", "Tangent", math.Tan)
	unary("math.log", "Natural Logarithm", math.Log)
	unary("math.exp", "Exponential", math.Exp)
	unary("math.sign", "Sign", Sign)

	variadic := func(name, label string, pick func(a, b float64) float64) {
		define(lib, name, Metadata{
			Label: label, Category: "math",
			Description: label + " of the arguments",
			Parameters:  []Param{param("...nums", "number[]", "Numbers to compare.")},
			ReturnType:  "number",
		}, func(ctx *Context, args []any) (any, error) {
			nums, err := Numbers(name, args, 1)
			if err != nil {
				return nil, err
			}
			acc := nums[0]
			for _, n := range nums[1:] {
				acc = pick(acc, n)
			}
			return acc, nil
		})
	}
	variadic("math.min", "Minimum", math.Min)
	variadic("math.max", "Maximum", math.Max)

	define(lib, "math.clamp", Metadata{
		Label: "Clamp", Category: "math",
		Description: "Clamp a number into [min, max]",
		Parameters: []Param{
			param("val", "number", "Value."),
			param("min", "number", "Lower bound."),
			param("max", "number", "Upper bound."),
		},
		ReturnType: "number",
	}, func(ctx *Context, args []any) (any, error) {
		nums, err := Numbers("math.clamp", args, 3)
		if err != nil {
			return nil, err
		}
		return math.Min(math.Max(nums[0], nums[1]), nums[2]), nil
	})

	return lib
}

// Numbers checks that args holds at least min numbers.
func Numbers(op string, args []any, min int) ([]float64, error) {
	if len(args) < min {
		return nil, Errorf(KindValidation, "%s: expected at least %d arguments", op, min)
	}
	nums := make([]float64, len(args))
	for i, a := range args {
		f, ok := a.(float64)
		if !ok {
			return nil, Errorf(KindValidation, "%s: expected number at index %d, got %s", op, i, TypeName(a))
		}
		nums[i] = f
	}
	return nums, nil
}

// Arith folds a variadic arithmetic operator. Power is right-associative.
func Arith(op string, args []any) (any, error) {
	nums, err := Numbers(op, args, 2)
	if err != nil {
		return nil, err
	}
	if op == "^" {
		acc := nums[len(nums)-1]
		for i := len(nums) - 2; i >= 0; i-- {
			acc = math.Pow(nums[i], acc)
		}
		return acc, nil
	}
	acc := nums[0]
	for _, n := range nums[1:] {
		switch op {
		case "+":
			acc += n
		case "-":
			acc -= n
		case "*":
			acc *= n
		case "/":
			acc /= n
		case "%":
			acc = math.Mod(acc, n)
		}
	}
	return acc, nil
}

// Round rounds half up, toward positive infinity.
func Round(f float64) float64 {
	return math.Floor(f + 0.5)
}

// Sign returns -1, 0 or 1.
func Sign(f float64) float64 {
	switch {
	case f > 0:
		return 1
	case f < 0:
		return -1
	}
	return f
}
