package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/carrier-mapping/internal/domain"
	"github.com/ignite/carrier-mapping/internal/service/mappings"
)

// MappingRepo implements mappings.Repository against PostgreSQL.
type MappingRepo struct{ db *sql.DB }

// NewMappingRepo creates a Postgres-backed mapping repository.
func NewMappingRepo(db *sql.DB) *MappingRepo { return &MappingRepo{db: db} }

func (r *MappingRepo) GetInsurer(ctx context.Context, id string) (*domain.Insurer, error) {
	var ins domain.Insurer
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, active FROM insurers WHERE id = $1`, id,
	).Scan(&ins.ID, &ins.Name, &ins.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, mappings.ErrInsurerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get insurer: %w", err)
	}
	return &ins, nil
}

func (r *MappingRepo) ListInsurers(ctx context.Context, activeOnly bool) ([]domain.Insurer, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, active
		FROM insurers
		WHERE ($1 = false OR active = true)
		ORDER BY name
	`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list insurers: %w", err)
	}
	defer rows.Close()

	var out []domain.Insurer
	for rows.Next() {
		var ins domain.Insurer
		if err := rows.Scan(&ins.ID, &ins.Name, &ins.Active); err != nil {
			return nil, fmt.Errorf("scan insurer: %w", err)
		}
		out = append(out, ins)
	}
	return out, rows.Err()
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *MappingRepo) GetMapping(ctx context.Context, insurerID string) (*domain.InsurerMapping, error) {
	return getMapping(ctx, r.db, insurerID)
}

func (r *MappingRepo) ListRules(ctx context.Context, insurerID string) ([]domain.MappingRule, error) {
	return listRules(ctx, r.db, insurerID)
}

func (r *MappingRepo) ListDelinquencyRules(ctx context.Context, insurerID string) ([]domain.DelinquencyRule, error) {
	return listDelinquencyRules(ctx, r.db, insurerID)
}

// LoadConfig reads the header and both rule sets in one repeatable-read
// transaction, so a concurrent SaveBundle is seen entirely or not at all.
func (r *MappingRepo) LoadConfig(ctx context.Context, insurerID string) (_ *domain.InsurerMapping, _ []domain.MappingRule, _ []domain.DelinquencyRule, err error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	header, err := getMapping(ctx, tx, insurerID)
	if err != nil {
		return nil, nil, nil, err
	}
	rules, err := listRules(ctx, tx, insurerID)
	if err != nil {
		return nil, nil, nil, err
	}
	delinquency, err := listDelinquencyRules(ctx, tx, insurerID)
	if err != nil {
		return nil, nil, nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, nil, nil, fmt.Errorf("commit: %w", err)
	}
	return header, rules, delinquency, nil
}

func getMapping(ctx context.Context, q querier, insurerID string) (*domain.InsurerMapping, error) {
	var (
		m       domain.InsurerMapping
		options []byte
	)
	err := q.QueryRowContext(ctx, `
		SELECT insurer_id, COALESCE(policy_strategy, ''), COALESCE(insured_strategy, ''),
		       COALESCE(commission_strategy, ''), options, active, created_at
		FROM insurer_mappings
		WHERE insurer_id = $1
	`, insurerID).Scan(&m.InsurerID, &m.PolicyStrategy, &m.InsuredStrategy,
		&m.CommissionStrategy, &options, &m.Active, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mapping: %w", err)
	}
	if len(options) > 0 {
		if err := json.Unmarshal(options, &m.Options); err != nil {
			return nil, fmt.Errorf("decode options for insurer %s: %w", insurerID, err)
		}
	}
	return &m, nil
}

func listRules(ctx context.Context, q querier, insurerID string) ([]domain.MappingRule, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT target_field, aliases, COALESCE(strategy, ''), COALESCE(notes, '')
		FROM insurer_mapping_rules
		WHERE insurer_id = $1
		ORDER BY position, created_at
	`, insurerID)
	if err != nil {
		return nil, fmt.Errorf("list mapping rules: %w", err)
	}
	defer rows.Close()

	var out []domain.MappingRule
	for rows.Next() {
		var (
			rule    domain.MappingRule
			aliases []byte
		)
		if err := rows.Scan(&rule.TargetField, &aliases, &rule.Strategy, &rule.Notes); err != nil {
			return nil, fmt.Errorf("scan mapping rule: %w", err)
		}
		if err := decodeAliases(aliases, &rule.Aliases); err != nil {
			return nil, fmt.Errorf("decode aliases for %s rule: %w", rule.TargetField, err)
		}
		rule.InsurerID = insurerID
		out = append(out, rule)
	}
	return out, rows.Err()
}

func listDelinquencyRules(ctx context.Context, q querier, insurerID string) ([]domain.DelinquencyRule, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT target_field, aliases
		FROM insurer_delinquency_rules
		WHERE insurer_id = $1
		ORDER BY position, created_at
	`, insurerID)
	if err != nil {
		return nil, fmt.Errorf("list delinquency rules: %w", err)
	}
	defer rows.Close()

	var out []domain.DelinquencyRule
	for rows.Next() {
		var (
			rule    domain.DelinquencyRule
			aliases []byte
		)
		if err := rows.Scan(&rule.TargetField, &aliases); err != nil {
			return nil, fmt.Errorf("scan delinquency rule: %w", err)
		}
		if err := decodeAliases(aliases, &rule.Aliases); err != nil {
			return nil, fmt.Errorf("decode aliases for %s delinquency rule: %w", rule.TargetField, err)
		}
		rule.InsurerID = insurerID
		out = append(out, rule)
	}
	return out, rows.Err()
}

// SaveBundle writes the header and both rule sets in one transaction.
func (r *MappingRepo) SaveBundle(ctx context.Context, insurerID string, b mappings.StoredBundle) (err error) {
	options, err := json.Marshal(b.Mapping.Options)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO insurer_mappings
			(insurer_id, policy_strategy, insured_strategy, commission_strategy, options, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (insurer_id) DO UPDATE SET
			policy_strategy = EXCLUDED.policy_strategy,
			insured_strategy = EXCLUDED.insured_strategy,
			commission_strategy = EXCLUDED.commission_strategy,
			options = EXCLUDED.options,
			active = EXCLUDED.active,
			updated_at = NOW()
	`, insurerID, string(b.Mapping.PolicyStrategy), string(b.Mapping.InsuredStrategy), string(b.Mapping.CommissionStrategy),
		string(options), b.Mapping.Active, b.Mapping.CreatedAt); err != nil {
		return fmt.Errorf("upsert mapping: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM insurer_mapping_rules WHERE insurer_id = $1`, insurerID); err != nil {
		return fmt.Errorf("clear mapping rules: %w", err)
	}
	for i, rule := range b.Rules {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO insurer_mapping_rules (id, insurer_id, target_field, aliases, strategy, notes, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, uuid.New().String(), insurerID, string(rule.TargetField), aliasJSON(rule.Aliases),
			nullString(string(rule.Strategy)), nullString(rule.Notes), i); err != nil {
			return fmt.Errorf("insert %s rule: %w", rule.TargetField, err)
		}
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM insurer_delinquency_rules WHERE insurer_id = $1`, insurerID); err != nil {
		return fmt.Errorf("clear delinquency rules: %w", err)
	}
	for i, rule := range b.Delinquency {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO insurer_delinquency_rules (id, insurer_id, target_field, aliases, position)
			VALUES ($1, $2, $3, $4, $5)
		`, uuid.New().String(), insurerID, string(rule.TargetField), aliasJSON(rule.Aliases), i); err != nil {
			return fmt.Errorf("insert %s delinquency rule: %w", rule.TargetField, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// CreateInsurer registers a carrier.
func (r *MappingRepo) CreateInsurer(ctx context.Context, name string) (*domain.Insurer, error) {
	ins := &domain.Insurer{ID: uuid.New().String(), Name: name, Active: true}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO insurers (id, name, active) VALUES ($1, $2, true)`,
		ins.ID, ins.Name,
	)
	if err != nil {
		return nil, fmt.Errorf("create insurer: %w", err)
	}
	return ins, nil
}

func decodeAliases(raw []byte, dst *domain.AliasList) error {
	if len(raw) == 0 || string(raw) == "null" {
		*dst = domain.AliasList{}
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func aliasJSON(a domain.AliasList) string {
	if len(a) == 0 {
		return "[]"
	}
	b, _ := json.Marshal([]string(a))
	return string(b)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
