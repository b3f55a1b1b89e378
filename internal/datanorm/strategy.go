package datanorm

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ignite/carrier-mapping/internal/domain"
)

var (
	digitRun   = regexp.MustCompile(`\d{3,}`)
	digitToken = regexp.MustCompile(`^\d{3,}$`)
)

// Apply runs strategy against row for field and returns the raw extracted
// value. The result still has to be coerced to the field's type. Apply never
// fails; a miss yields nil or the cleaned cell text.
func Apply(field string, strategy domain.Strategy, aliases []string, row Row, opts domain.MappingOptions) any {
	switch strategy {
	case domain.StrategyExtractNumeric:
		v, _ := Pick(row, aliases)
		return ExtractNumeric(v)
	case domain.StrategyMixedToken:
		v, _ := Pick(row, aliases)
		return MixedToken(v)
	case domain.StrategyPenultimate:
		return Penultimate(row)
	case domain.StrategyFirstNonZero:
		return firstNonZero(opts.GroupsFor(field), aliases, row)
	case domain.StrategyCustom:
		v, _ := Pick(row, aliases)
		return CleanText(v)
	default:
		v, _ := Pick(row, aliases)
		return v
	}
}

// ExtractNumeric returns the first run of three or more digits in the cell,
// or the cleaned cell text when there is none.
func ExtractNumeric(v any) string {
	text := CleanText(v)
	if m := digitRun.FindString(text); m != "" {
		return m
	}
	return text
}

// MixedToken returns the first whitespace-delimited token made only of three
// or more digits, or the cleaned cell text when no token qualifies.
func MixedToken(v any) string {
	text := CleanText(v)
	for _, tok := range strings.Fields(text) {
		if digitToken.MatchString(tok) {
			return tok
		}
	}
	return text
}

// Penultimate returns the second-to-last value of the row, or nil when the
// row has fewer than two values.
func Penultimate(row Row) any {
	if row == nil {
		return nil
	}
	vals := row.Values()
	if len(vals) < 2 {
		return nil
	}
	return vals[len(vals)-2]
}

// firstNonZero sums each alias group in order and returns the first non-zero
// sum. Without a non-zero group it falls back to the rule's own aliases.
func firstNonZero(groups [][]string, aliases []string, row Row) float64 {
	for _, group := range groups {
		sum := decimal.Zero
		for _, alias := range group {
			v, _ := Pick(row, []string{alias})
			sum = sum.Add(toDecimal(v))
		}
		if !sum.IsZero() {
			return finite(sum)
		}
	}
	v, _ := Pick(row, aliases)
	return ToNumber(v)
}
