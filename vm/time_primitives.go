package vm

import (
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Time library. Timestamps are ISO-8601 strings in UTC with milliseconds.
// ---------------------------------------------------------------------------

// ISOLayout is the canonical timestamp format.
const ISOLayout = "2006-01-02T15:04:05.000Z"

// Clock supplies the current time to time.now. Tests may replace it.
var Clock = time.Now

var parseLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// FormatISO renders t as a canonical timestamp.
func FormatISO(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}

// ParseTime accepts RFC 3339 timestamps and bare dates.
func ParseTime(s string) (time.Time, bool) {
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// TimeLibrary returns time opcodes.
func TimeLibrary() Library {
	lib := Library{}

	define(lib, "time.now", Metadata{
		Label: "Now", Category: "time",
		Description: "The current time as an ISO string",
		ReturnType:  "string",
	}, func(ctx *Context, args []any) (any, error) {
		return FormatISO(Clock()), nil
	})

	define(lib, "time.format", Metadata{
		Label: "Format Time", Category: "time",
		Description: "Render a timestamp as time, date or full text",
		Parameters: []Param{
			param("time", "string", "ISO timestamp."),
			optional("format", "\"time\" | \"date\" | \"full\"", "Output style."),
		},
		ReturnType: "string",
	}, func(ctx *Context, args []any) (any, error) {
		t, err := timeArg("time.format", args, 0)
		if err != nil {
			return nil, err
		}
		style, _ := arg(args, 1).(string)
		switch style {
		case "time":
			return t.Format("15:04:05"), nil
		case "date":
			return t.Format("2006-01-02"), nil
		case "", "full":
			return t.Format("Mon, 02 Jan 2006 15:04:05 UTC"), nil
		}
		return nil, Errorf(KindValidation, "time.format: unknown format '%s'", style)
	})

	define(lib, "time.parse", Metadata{
		Label: "Parse Time", Category: "time",
		Description: "Normalize a date string to an ISO timestamp",
		Parameters:  []Param{param("time", "string", "Date string.")},
		ReturnType:  "string",
	}, func(ctx *Context, args []any) (any, error) {
		t, err := timeArg("time.parse", args, 0)
		if err != nil {
			return nil, err
		}
		return FormatISO(t), nil
	})

	define(lib, "time.from_timestamp", Metadata{
		Label: "From Timestamp", Category: "time",
		Description: "Convert milliseconds since the epoch to an ISO timestamp",
		Parameters:  []Param{param("timestamp", "number", "Milliseconds since epoch.")},
		ReturnType:  "string",
	}, func(ctx *Context, args []any) (any, error) {
		nums, err := Numbers("time.from_timestamp", args, 1)
		if err != nil {
			return nil, err
		}
		return FormatISO(time.UnixMilli(int64(nums[0]))), nil
	})

	define(lib, "time.to_timestamp", Metadata{
		Label: "To Timestamp", Category: "time",
		Description: "Convert an ISO timestamp to milliseconds since the epoch",
		Parameters:  []Param{param("time", "string", "ISO timestamp.")},
		ReturnType:  "number",
	}, func(ctx *Context, args []any) (any, error) {
		t, err := timeArg("time.to_timestamp", args, 0)
		if err != nil {
			return nil, err
		}
		return float64(t.UnixMilli()), nil
	})

	define(lib, "time.offset", Metadata{
		Label: "Offset Time", Category: "time",
		Description: "Shift a timestamp by an amount of units",
		Parameters: []Param{
			param("amount", "number", "Amount to add (may be negative)."),
			param("unit", "\"years\" | \"months\" | \"weeks\" | \"days\" | \"hours\" | \"minutes\" | \"seconds\"", "Unit."),
			optional("base", "string", "Base timestamp, default now."),
		},
		ReturnType: "string",
	}, func(ctx *Context, args []any) (any, error) {
		amount, ok := arg(args, 0).(float64)
		if !ok {
			return nil, Errorf(KindValidation, "time.offset: amount must be a number, got %s", TypeName(arg(args, 0)))
		}
		unit, err := stringArg("time.offset", args, 1)
		if err != nil {
			return nil, err
		}
		base := Clock().UTC()
		if len(args) > 2 && args[2] != nil {
			base, err = timeArg("time.offset", args, 2)
			if err != nil {
				return nil, err
			}
		}
		n := int(amount)
		var out time.Time
		switch strings.TrimSuffix(unit, "s") {
		case "year":
			out = base.AddDate(n, 0, 0)
		case "month":
			out = base.AddDate(0, n, 0)
		case "week":
			out = base.AddDate(0, 0, 7*n)
		case "day":
			out = base.AddDate(0, 0, n)
		case "hour":
			out = base.Add(time.Duration(amount * float64(time.Hour)))
		case "minute":
			out = base.Add(time.Duration(amount * float64(time.Minute)))
		case "second":
			out = base.Add(time.Duration(amount * float64(time.Second)))
		default:
			return nil, Errorf(KindValidation, "time.offset: unknown unit '%s'", unit)
		}
		return FormatISO(out), nil
	})

	return lib
}

func timeArg(op string, args []any, i int) (time.Time, error) {
	s, err := stringArg(op, args, i)
	if err != nil {
		return time.Time{}, err
	}
	t, ok := ParseTime(s)
	if !ok {
		return time.Time{}, Errorf(KindValidation, "%s: invalid date '%s'", op, s)
	}
	return t, nil
}
