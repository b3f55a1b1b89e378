package mappings

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/ignite/carrier-mapping/internal/domain"
)

// foldName lowercases, strips accents and collapses whitespace so
// "Mapfre Panamá " and "MAPFRE PANAMA" compare equal.
func foldName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(cases.Fold().String(out)), " ")
}

// matchInsurer picks the carrier a display name refers to. Tiers are tried
// in order: exact, upper-case exact, case and accent insensitive, then
// containment in either direction. Only the containment tier can be ambiguous.
func matchInsurer(list []domain.Insurer, name string) (*domain.Insurer, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("insurer name is required")
	}

	for i := range list {
		if list[i].Name == name {
			return &list[i], nil
		}
	}

	upper := strings.ToUpper(name)
	for i := range list {
		if list[i].Name == upper {
			return &list[i], nil
		}
	}

	folded := foldName(name)
	for i := range list {
		if foldName(list[i].Name) == folded {
			return &list[i], nil
		}
	}

	var partial []int
	for i := range list {
		candidate := foldName(list[i].Name)
		if candidate == "" {
			continue
		}
		if strings.Contains(candidate, folded) || strings.Contains(folded, candidate) {
			partial = append(partial, i)
		}
	}
	switch len(partial) {
	case 0:
		return nil, fmt.Errorf("insurer %q: %w", name, ErrInsurerNotFound)
	case 1:
		return &list[partial[0]], nil
	default:
		names := make([]string, len(partial))
		for j, i := range partial {
			names[j] = list[i].Name
		}
		return nil, fmt.Errorf("insurer %q matches %s: %w", name, strings.Join(names, ", "), ErrAmbiguousInsurer)
	}
}
