package datanorm

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// CleanText renders a cell as text with whitespace runs collapsed to one
// space and the ends trimmed. Absent cells become "".
func CleanText(v any) string {
	return strings.Join(strings.Fields(cellString(v)), " ")
}

func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

// ToNumber coerces a cell to a number. It never fails: anything that does
// not parse is 0.
//
// Text is read with the separator heuristic carriers need: when both ',' and
// '.' appear, the later one is the decimal point and the earlier one is a
// thousands separator; a lone ',' is a decimal point; otherwise commas are
// thousands separators. A value wrapped in parentheses is negative.
func ToNumber(v any) float64 {
	return finite(toDecimal(v))
}

// finite converts d to float64, mapping values outside float64 range to 0.
func finite(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// plainDecimal is the only shape handed to the decimal parser. Exponents are
// rejected: "1e400" overflows float64 and a huge negative exponent makes the
// parser allocate for minutes.
var plainDecimal = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)

func toDecimal(v any) decimal.Decimal {
	switch t := v.(type) {
	case nil:
		return decimal.Zero
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return decimal.Zero
		}
		return decimal.NewFromFloat(t)
	case float32:
		return toDecimal(float64(t))
	case int:
		return decimal.NewFromInt(int64(t))
	case int64:
		return decimal.NewFromInt(t)
	case int32:
		return decimal.NewFromInt(int64(t))
	case json.Number:
		f, err := strconv.ParseFloat(t.String(), 64)
		if err != nil {
			return decimal.Zero
		}
		return toDecimal(f)
	default:
		return parseDecimal(cellString(v))
	}
}

func parseDecimal(raw string) decimal.Decimal {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero
	}

	negative := len(s) >= 2 && s[0] == '(' && s[len(s)-1] == ')'
	if negative {
		s = strings.NewReplacer("(", "", ")", "").Replace(s)
	}

	comma := strings.LastIndex(s, ",")
	dot := strings.LastIndex(s, ".")
	switch {
	case comma >= 0 && dot >= 0:
		if dot < comma {
			// 1.234,56
			s = strings.ReplaceAll(s, ".", "")
			s = strings.ReplaceAll(s, ",", ".")
		} else {
			// 1,234.56
			s = strings.ReplaceAll(s, ",", "")
		}
	case comma >= 0:
		s = strings.ReplaceAll(s, ",", ".")
	default:
		s = strings.ReplaceAll(s, ",", "")
	}

	if !plainDecimal.MatchString(s) {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	if negative {
		return d.Abs().Neg()
	}
	return d
}
