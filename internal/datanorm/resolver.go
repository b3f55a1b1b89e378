package datanorm

import (
	"strings"
	"time"

	"github.com/ignite/carrier-mapping/internal/domain"
)

// Default strategies per field, used when no rule is persisted or the
// persisted strategy is not recognized.
var (
	defaultRuleStrategy = map[domain.TargetField]domain.Strategy{
		domain.FieldPolicy:     domain.StrategyByAlias,
		domain.FieldInsured:    domain.StrategyByAlias,
		domain.FieldStatus:     domain.StrategyByAlias,
		domain.FieldCommission: domain.StrategyExtractNumeric,
		domain.FieldDays:       domain.StrategyExtractNumeric,
		domain.FieldAmount:     domain.StrategyExtractNumeric,
	}

	defaultDelinquencyStrategy = map[domain.DelinquencyTarget]domain.Strategy{
		domain.DelinqBalance: domain.StrategyByAlias,
		domain.DelinqDays:    domain.StrategyExtractNumeric,
		domain.DelinqStatus:  domain.StrategyByAlias,
		domain.DelinqPolicy:  domain.StrategyByAlias,
		domain.DelinqInsured: domain.StrategyByAlias,
	}
)

// DefaultRuleStrategy returns the fallback strategy for a commission-side field.
func DefaultRuleStrategy(f domain.TargetField) domain.Strategy {
	if s, ok := defaultRuleStrategy[f]; ok {
		return s
	}
	return domain.StrategyByAlias
}

// DefaultDelinquencyStrategy returns the fixed strategy for a delinquency field.
func DefaultDelinquencyStrategy(f domain.DelinquencyTarget) domain.Strategy {
	if s, ok := defaultDelinquencyStrategy[f]; ok {
		return s
	}
	return domain.StrategyByAlias
}

// NormalizeStrategy canonicalizes raw, returning fallback for blank or
// unknown values.
func NormalizeStrategy(raw domain.Strategy, fallback domain.Strategy) domain.Strategy {
	if s, ok := domain.ParseStrategy(string(raw)); ok {
		return s
	}
	return fallback
}

// NormalizeAliases trims aliases, drops blanks and removes case-insensitive
// duplicates keeping the first casing seen. The result is never nil.
func NormalizeAliases(in []string) domain.AliasList {
	out := make(domain.AliasList, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, a := range in {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		key := strings.ToLower(a)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, a)
	}
	return out
}

// NormalizeNotes trims notes; blank notes become empty.
func NormalizeNotes(s string) string {
	return strings.TrimSpace(s)
}

// DefaultMapping is the header used for carriers that never saved one.
func DefaultMapping(insurerID string, now time.Time) domain.InsurerMapping {
	return domain.InsurerMapping{
		InsurerID:          insurerID,
		PolicyStrategy:     domain.StrategyByAlias,
		InsuredStrategy:    domain.StrategyByAlias,
		CommissionStrategy: domain.StrategyByAlias,
		Active:             true,
		CreatedAt:          now,
	}
}

// NormalizeMapping canonicalizes the header strategies, falling back to by_alias.
func NormalizeMapping(m domain.InsurerMapping) domain.InsurerMapping {
	m.PolicyStrategy = NormalizeStrategy(m.PolicyStrategy, domain.StrategyByAlias)
	m.InsuredStrategy = NormalizeStrategy(m.InsuredStrategy, domain.StrategyByAlias)
	m.CommissionStrategy = NormalizeStrategy(m.CommissionStrategy, domain.StrategyByAlias)
	return m
}

// ResolveRules returns exactly one rule per domain.TargetFields member, in
// that order. The first persisted rule for a field wins; fields without one
// get empty aliases and the default strategy.
func ResolveRules(insurerID string, persisted []domain.MappingRule) []domain.MappingRule {
	out := make([]domain.MappingRule, 0, len(domain.TargetFields))
	for _, field := range domain.TargetFields {
		fallback := DefaultRuleStrategy(field)
		rule := domain.MappingRule{
			InsurerID:   insurerID,
			TargetField: field,
			Aliases:     domain.AliasList{},
			Strategy:    fallback,
		}
		for _, p := range persisted {
			if f, ok := domain.ParseTargetField(string(p.TargetField)); !ok || f != field {
				continue
			}
			rule.Aliases = NormalizeAliases(p.Aliases)
			rule.Strategy = NormalizeStrategy(p.Strategy, fallback)
			rule.Notes = NormalizeNotes(p.Notes)
			break
		}
		out = append(out, rule)
	}
	return out
}

// ResolveDelinquencyRules returns exactly one rule per
// domain.DelinquencyTargets member, in that order. Persisted strategies are
// ignored; each field always uses its fixed default.
func ResolveDelinquencyRules(insurerID string, persisted []domain.DelinquencyRule) []domain.DelinquencyRule {
	out := make([]domain.DelinquencyRule, 0, len(domain.DelinquencyTargets))
	for _, field := range domain.DelinquencyTargets {
		rule := domain.DelinquencyRule{
			InsurerID:   insurerID,
			TargetField: field,
			Aliases:     domain.AliasList{},
			Strategy:    DefaultDelinquencyStrategy(field),
		}
		for _, p := range persisted {
			if f, ok := domain.ParseDelinquencyTarget(string(p.TargetField)); !ok || f != field {
				continue
			}
			rule.Aliases = NormalizeAliases(p.Aliases)
			break
		}
		out = append(out, rule)
	}
	return out
}

// ResolveSnapshot assembles the complete configuration for one carrier from
// whatever is persisted. header may be nil when the carrier never saved one.
func ResolveSnapshot(insurer domain.Insurer, header *domain.InsurerMapping, rules []domain.MappingRule, delinquency []domain.DelinquencyRule, now time.Time) domain.MappingSnapshot {
	mapping := DefaultMapping(insurer.ID, now)
	if header != nil {
		mapping = NormalizeMapping(*header)
		mapping.InsurerID = insurer.ID
	}
	return domain.MappingSnapshot{
		Insurer:     insurer,
		Mapping:     mapping,
		Rules:       ResolveRules(insurer.ID, rules),
		Delinquency: ResolveDelinquencyRules(insurer.ID, delinquency),
	}
}
