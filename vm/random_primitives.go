package vm

import (
	"math"
	"math/rand/v2"
)

// RandomSource backs the random opcodes. Tests may replace it with a seeded
// generator.
var RandomSource = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))

// RandomLibrary returns random-number opcodes.
func RandomLibrary() Library {
	lib := Library{}

	define(lib, "random.number", Metadata{
		Label: "Random Number", Category: "random",
		Description: "A number in [0, 1)",
		ReturnType:  "number",
	}, func(ctx *Context, args []any) (any, error) {
		return RandomSource.Float64(), nil
	})

	define(lib, "random.between", Metadata{
		Label: "Random Between", Category: "random",
		Description: "An integer in [min, max]",
		Parameters:  []Param{param("min", "number", "Lower bound."), param("max", "number", "Upper bound.")},
		ReturnType:  "number",
	}, func(ctx *Context, args []any) (any, error) {
		nums, err := Numbers("random.between", args, 2)
		if err != nil {
			return nil, err
		}
		lo, hi := math.Ceil(nums[0]), math.Floor(nums[1])
		if math.IsInf(lo, 0) || math.IsInf(hi, 0) || math.IsNaN(lo) || math.IsNaN(hi) {
			return nil, Errorf(KindValidation, "random.between: bounds must be finite")
		}
		if hi < lo {
			return nil, Errorf(KindValidation, "random.between: min must not exceed max")
		}
		span := hi - lo
		if span >= 1<<62 {
			// Past 2^62 Int64N cannot cover the span; scale a uniform float.
			return math.Min(hi, lo+math.Floor(RandomSource.Float64()*(span+1))), nil
		}
		return lo + float64(RandomSource.Int64N(int64(span)+1)), nil
	})

	define(lib, "random.choice", Metadata{
		Label: "Random Choice", Category: "random",
		Description: "A random item of a list, or null when empty",
		Parameters:  []Param{param("list", "any[]", "Candidates.")},
		ReturnType:  "any",
	}, func(ctx *Context, args []any) (any, error) {
		l, err := listArg("random.choice", args, 0)
		if err != nil {
			return nil, err
		}
		if len(l.Items) == 0 {
			return nil, nil
		}
		return l.Items[RandomSource.IntN(len(l.Items))], nil
	})

	return lib
}
