package datanorm

import (
	"github.com/ignite/carrier-mapping/internal/domain"
)

func ruleFor(snap *domain.MappingSnapshot, field domain.TargetField) domain.MappingRule {
	if r, ok := snap.Rule(field); ok {
		return r
	}
	return domain.MappingRule{TargetField: field, Strategy: DefaultRuleStrategy(field)}
}

func delinquencyRuleFor(snap *domain.MappingSnapshot, field domain.DelinquencyTarget) domain.DelinquencyRule {
	if r, ok := snap.DelinquencyRule(field); ok {
		if r.Strategy == "" {
			r.Strategy = DefaultDelinquencyStrategy(field)
		}
		return r
	}
	return domain.DelinquencyRule{TargetField: field, Strategy: DefaultDelinquencyStrategy(field)}
}

func extractText(snap *domain.MappingSnapshot, field domain.TargetField, row Row) string {
	r := ruleFor(snap, field)
	return CleanText(Apply(string(field), r.Strategy, r.Aliases, row, snap.Mapping.Options))
}

func extractNumber(snap *domain.MappingSnapshot, field domain.TargetField, row Row) float64 {
	r := ruleFor(snap, field)
	return ToNumber(Apply(string(field), r.Strategy, r.Aliases, row, snap.Mapping.Options))
}

// NormalizeRow builds one commission record from row using snap's rules.
func NormalizeRow(snap *domain.MappingSnapshot, row Row) domain.NormalizedRow {
	return domain.NormalizedRow{
		Policy:     extractText(snap, domain.FieldPolicy, row),
		Insured:    extractText(snap, domain.FieldInsured, row),
		Commission: extractNumber(snap, domain.FieldCommission, row),
		Status:     extractText(snap, domain.FieldStatus, row),
		Days:       extractNumber(snap, domain.FieldDays, row),
		Amount:     extractNumber(snap, domain.FieldAmount, row),
	}
}

// NormalizeDelinquencyRow builds one delinquency record from row. The
// balance column lands in Amount.
func NormalizeDelinquencyRow(snap *domain.MappingSnapshot, row Row) domain.NormalizedDelinquencyRow {
	raw := func(field domain.DelinquencyTarget) any {
		r := delinquencyRuleFor(snap, field)
		return Apply(string(field), r.Strategy, r.Aliases, row, snap.Mapping.Options)
	}
	return domain.NormalizedDelinquencyRow{
		Policy:  CleanText(raw(domain.DelinqPolicy)),
		Insured: CleanText(raw(domain.DelinqInsured)),
		Days:    ToNumber(raw(domain.DelinqDays)),
		Amount:  ToNumber(raw(domain.DelinqBalance)),
		Status:  CleanText(raw(domain.DelinqStatus)),
	}
}

// NormalizeBatch normalizes every row, dropping rows without a policy or an
// insured name.
func NormalizeBatch(snap *domain.MappingSnapshot, rows []Row) BatchResult {
	res := BatchResult{Normalized: make([]domain.NormalizedRow, 0, len(rows))}
	for i, row := range rows {
		n := NormalizeRow(snap, row)
		if n.Policy == "" || n.Insured == "" {
			res.skip(i, n.Policy, n.Insured)
			continue
		}
		res.Normalized = append(res.Normalized, n)
	}
	return res
}

// NormalizeDelinquencyBatch is NormalizeBatch for delinquency reports.
func NormalizeDelinquencyBatch(snap *domain.MappingSnapshot, rows []Row) DelinquencyBatchResult {
	res := DelinquencyBatchResult{Normalized: make([]domain.NormalizedDelinquencyRow, 0, len(rows))}
	for i, row := range rows {
		n := NormalizeDelinquencyRow(snap, row)
		if n.Policy == "" || n.Insured == "" {
			res.skip(i, n.Policy, n.Insured)
			continue
		}
		res.Normalized = append(res.Normalized, n)
	}
	return res
}
