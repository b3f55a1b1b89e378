package domain

import (
	"encoding/json"
	"strings"
)

// TargetField is a commission-side canonical field.
type TargetField string

const (
	FieldPolicy     TargetField = "policy"
	FieldInsured    TargetField = "insured"
	FieldCommission TargetField = "commission"
	FieldStatus     TargetField = "status"
	FieldDays       TargetField = "days"
	FieldAmount     TargetField = "amount"
)

// TargetFields lists every commission-side field in snapshot order.
var TargetFields = []TargetField{
	FieldPolicy,
	FieldInsured,
	FieldCommission,
	FieldStatus,
	FieldDays,
	FieldAmount,
}

// ParseTargetField matches s case-insensitively against TargetFields.
func ParseTargetField(s string) (TargetField, bool) {
	key := TargetField(strings.ToLower(strings.TrimSpace(s)))
	for _, f := range TargetFields {
		if f == key {
			return f, true
		}
	}
	return "", false
}

// DelinquencyTarget is a delinquency-side canonical field.
type DelinquencyTarget string

const (
	DelinqBalance DelinquencyTarget = "balance"
	DelinqDays    DelinquencyTarget = "days"
	DelinqStatus  DelinquencyTarget = "status"
	DelinqPolicy  DelinquencyTarget = "policy"
	DelinqInsured DelinquencyTarget = "insured"
)

// DelinquencyTargets lists every delinquency-side field in snapshot order.
var DelinquencyTargets = []DelinquencyTarget{
	DelinqBalance,
	DelinqDays,
	DelinqStatus,
	DelinqPolicy,
	DelinqInsured,
}

// ParseDelinquencyTarget matches s case-insensitively against DelinquencyTargets.
func ParseDelinquencyTarget(s string) (DelinquencyTarget, bool) {
	key := DelinquencyTarget(strings.ToLower(strings.TrimSpace(s)))
	for _, f := range DelinquencyTargets {
		if f == key {
			return f, true
		}
	}
	return "", false
}

// Strategy names the algorithm used to pull a field's raw value out of a row.
type Strategy string

const (
	StrategyByAlias        Strategy = "by_alias"
	StrategyExtractNumeric Strategy = "extract_numeric"
	StrategyMixedToken     Strategy = "mixed_token"
	StrategyFirstNonZero   Strategy = "first_non_zero"
	StrategyPenultimate    Strategy = "penultimate"
	StrategyCustom         Strategy = "custom"
)

// strategySpellings maps every accepted spelling (after lowercasing and
// turning spaces and dashes into underscores) to its canonical strategy.
var strategySpellings = map[string]Strategy{
	"by_alias":        StrategyByAlias,
	"aliases":         StrategyByAlias,
	"extract_numeric": StrategyExtractNumeric,
	"mixed_token":     StrategyMixedToken,
	"first_non_zero":  StrategyFirstNonZero,
	"first_nonzero":   StrategyFirstNonZero,
	"firstnonzero":    StrategyFirstNonZero,
	"penultimate":     StrategyPenultimate,
	"custom":          StrategyCustom,
}

// ParseStrategy resolves a persisted or user-supplied strategy string.
// The boolean is false for blank or unrecognized input.
func ParseStrategy(s string) (Strategy, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "" {
		return "", false
	}
	key = strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' || r == '\t' {
			return '_'
		}
		return r
	}, key)
	st, ok := strategySpellings[key]
	return st, ok
}

// MappingRule tells the engine how to extract one commission-side field.
type MappingRule struct {
	InsurerID   string      `json:"insurer_id" db:"insurer_id"`
	TargetField TargetField `json:"target_field" db:"target_field"`
	Aliases     AliasList   `json:"aliases" db:"aliases"`
	Strategy    Strategy    `json:"strategy" db:"strategy"`
	Notes       string      `json:"notes,omitempty" db:"notes"`
}

// DelinquencyRule is the delinquency-side counterpart of MappingRule. Its
// Strategy is never persisted; snapshots fill it from the field default.
type DelinquencyRule struct {
	InsurerID   string            `json:"insurer_id" db:"insurer_id"`
	TargetField DelinquencyTarget `json:"target_field" db:"target_field"`
	Aliases     AliasList         `json:"aliases" db:"aliases"`
	Strategy    Strategy          `json:"strategy,omitempty" db:"-"`
	Notes       string            `json:"notes,omitempty" db:"-"`
}

// AliasList is an ordered list of candidate column names. It decodes from
// either a JSON array or a comma-separated string.
type AliasList []string

// UnmarshalJSON implements json.Unmarshaler.
func (a *AliasList) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*a = list
		return nil
	}
	var csv string
	if err := json.Unmarshal(b, &csv); err != nil {
		return err
	}
	if strings.TrimSpace(csv) == "" {
		*a = AliasList{}
		return nil
	}
	*a = strings.Split(csv, ",")
	return nil
}

// MappingSnapshot is the fully resolved configuration for one carrier.
// Rules always has one entry per TargetFields member and Delinquency one
// entry per DelinquencyTargets member, both in declaration order.
type MappingSnapshot struct {
	Insurer     Insurer           `json:"insurer"`
	Mapping     InsurerMapping    `json:"mapping"`
	Rules       []MappingRule     `json:"rules"`
	Delinquency []DelinquencyRule `json:"delinquency"`
}

// Rule returns the commission-side rule for field.
func (s *MappingSnapshot) Rule(field TargetField) (MappingRule, bool) {
	for _, r := range s.Rules {
		if r.TargetField == field {
			return r, true
		}
	}
	return MappingRule{}, false
}

// DelinquencyRule returns the delinquency-side rule for field.
func (s *MappingSnapshot) DelinquencyRule(field DelinquencyTarget) (DelinquencyRule, bool) {
	for _, r := range s.Delinquency {
		if r.TargetField == field {
			return r, true
		}
	}
	return DelinquencyRule{}, false
}
