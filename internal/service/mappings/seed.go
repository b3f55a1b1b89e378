package mappings

import (
	"context"
	"fmt"

	"github.com/ignite/carrier-mapping/internal/domain"
)

// seedAliases are the column names most carrier reports use.
var seedAliases = map[domain.TargetField][]string{
	domain.FieldPolicy:     {"poliza", "póliza", "policy", "no. póliza", "nro póliza"},
	domain.FieldInsured:    {"asegurado", "nombre asegurado", "cliente", "titular"},
	domain.FieldCommission: {"comision", "comisión", "total comisión", "honorarios"},
	domain.FieldDays:       {"días", "dias", "days", "dias mora", "dias atraso"},
	domain.FieldAmount:     {"monto", "amount", "importe", "saldo"},
	domain.FieldStatus:     {"status", "estado", "estatus"},
}

var seedStrategies = map[domain.TargetField]domain.Strategy{
	domain.FieldPolicy:     domain.StrategyByAlias,
	domain.FieldInsured:    domain.StrategyByAlias,
	domain.FieldCommission: domain.StrategyExtractNumeric,
	domain.FieldDays:       domain.StrategyExtractNumeric,
	domain.FieldAmount:     domain.StrategyExtractNumeric,
	domain.FieldStatus:     domain.StrategyByAlias,
}

var seedCommissionGroups = [][]string{
	{"Honorarios Profesionales (Monto)", "Honorarios Profesionales", "Monto"},
	{"Vida 1er. Año", "Vida Primer Año"},
}

// SeedBundle returns the default configuration written by SeedDefaults.
// Delinquency is left nil; SeedDefaults keeps the carrier's existing
// delinquency rules.
func SeedBundle() Bundle {
	policy := seedStrategies[domain.FieldPolicy]
	insured := seedStrategies[domain.FieldInsured]
	commission := seedStrategies[domain.FieldCommission]
	active := true

	groups := make([][]string, len(seedCommissionGroups))
	for i, g := range seedCommissionGroups {
		groups[i] = append([]string(nil), g...)
	}

	b := Bundle{
		Mapping: &MappingPatch{
			PolicyStrategy:     &policy,
			InsuredStrategy:    &insured,
			CommissionStrategy: &commission,
			Options:            &domain.MappingOptions{CommissionGroups: groups},
			Active:             &active,
		},
	}
	for _, f := range domain.TargetFields {
		b.Rules = append(b.Rules, domain.MappingRule{
			TargetField: f,
			Aliases:     append(domain.AliasList(nil), seedAliases[f]...),
			Strategy:    seedStrategies[f],
		})
	}
	return b
}

// SeedDefaults writes SeedBundle for one carrier, keeping its persisted
// delinquency rules.
func (s *Service) SeedDefaults(ctx context.Context, insurerID string) (*domain.MappingSnapshot, error) {
	snap, err := s.saveBundle(ctx, insurerID, SeedBundle(), true)
	if err != nil {
		return nil, fmt.Errorf("seed insurer %s: %w", insurerID, err)
	}
	return snap, nil
}
