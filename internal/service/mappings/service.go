package mappings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/carrier-mapping/internal/datanorm"
	"github.com/ignite/carrier-mapping/internal/domain"
	"github.com/ignite/carrier-mapping/internal/pkg/distlock"
	"github.com/ignite/carrier-mapping/internal/pkg/logger"
)

// LockFactory returns a fresh lock for key. Each save gets its own lock
// instance.
type LockFactory func(key string) distlock.DistLock

// Option configures a Service.
type Option func(*Service)

// WithLockFactory serializes saves for the same carrier through locks built by f.
func WithLockFactory(f LockFactory) Option {
	return func(s *Service) { s.newLock = f }
}

// WithClock overrides the time source used for synthesized headers.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service implements mapping configuration and normalization. It is safe for
// concurrent use.
type Service struct {
	repo       Repository
	newLock    LockFactory
	now        func() time.Time
	classifier *datanorm.Classifier
}

// NewService creates a mappings service backed by the given repository.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:       repo,
		now:        time.Now,
		classifier: datanorm.NewClassifier(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListActiveInsurers returns active carriers ordered by name.
func (s *Service) ListActiveInsurers(ctx context.Context) ([]domain.Insurer, error) {
	return s.repo.ListInsurers(ctx, true)
}

// ResolveInsurer finds a carrier by id or by display name. Strings that parse
// as a UUID are looked up by id first.
func (s *Service) ResolveInsurer(ctx context.Context, idOrName string) (*domain.Insurer, error) {
	key := strings.TrimSpace(idOrName)
	if key == "" {
		return nil, fmt.Errorf("insurer id or name is required")
	}

	if _, err := uuid.Parse(key); err == nil {
		ins, err := s.repo.GetInsurer(ctx, key)
		if err == nil {
			return ins, nil
		}
		if !errors.Is(err, ErrInsurerNotFound) {
			return nil, fmt.Errorf("get insurer %s: %w", key, err)
		}
	}

	list, err := s.repo.ListInsurers(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("list insurers: %w", err)
	}
	return matchInsurer(list, key)
}

// GetSnapshot resolves the complete mapping configuration for a carrier id.
func (s *Service) GetSnapshot(ctx context.Context, insurerID string) (*domain.MappingSnapshot, error) {
	ins, err := s.repo.GetInsurer(ctx, insurerID)
	if err != nil {
		return nil, fmt.Errorf("get snapshot for insurer %s: %w", insurerID, err)
	}
	return s.snapshotFor(ctx, *ins)
}

// GetSnapshotByName resolves the configuration for a carrier display name or id.
func (s *Service) GetSnapshotByName(ctx context.Context, idOrName string) (*domain.MappingSnapshot, error) {
	ins, err := s.ResolveInsurer(ctx, idOrName)
	if err != nil {
		return nil, err
	}
	return s.snapshotFor(ctx, *ins)
}

func (s *Service) loadConfig(ctx context.Context, insurerID string) (*domain.InsurerMapping, []domain.MappingRule, []domain.DelinquencyRule, error) {
	if loader, ok := s.repo.(ConfigLoader); ok {
		header, rules, delinquency, err := loader.LoadConfig(ctx, insurerID)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("load mapping config for insurer %s: %w", insurerID, err)
		}
		return header, rules, delinquency, nil
	}

	header, err := s.repo.GetMapping(ctx, insurerID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("get mapping for insurer %s: %w", insurerID, err)
	}
	rules, err := s.repo.ListRules(ctx, insurerID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list rules for insurer %s: %w", insurerID, err)
	}
	delinquency, err := s.repo.ListDelinquencyRules(ctx, insurerID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list delinquency rules for insurer %s: %w", insurerID, err)
	}
	return header, rules, delinquency, nil
}

func (s *Service) snapshotFor(ctx context.Context, ins domain.Insurer) (*domain.MappingSnapshot, error) {
	header, rules, delinquency, err := s.loadConfig(ctx, ins.ID)
	if err != nil {
		return nil, err
	}

	snap := datanorm.ResolveSnapshot(ins, header, rules, delinquency, s.now())
	logger.Debug("mapping snapshot resolved",
		"insurer_id", ins.ID,
		"has_header", header != nil,
		"persisted_rules", len(rules),
		"persisted_delinquency_rules", len(delinquency),
	)
	return &snap, nil
}

// NormalizeRowsForInsurer normalizes a commission report. Rows without a
// policy or insured name are skipped and counted, never reported as errors.
func (s *Service) NormalizeRowsForInsurer(ctx context.Context, idOrName string, rows []datanorm.Row) (*datanorm.BatchResult, error) {
	snap, err := s.GetSnapshotByName(ctx, idOrName)
	if err != nil {
		return nil, fmt.Errorf("normalize commission rows: %w", err)
	}

	res := datanorm.NormalizeBatch(snap, rows)
	logSkipped(snap.Insurer.ID, res.SkippedRows)
	logger.Info("commission rows normalized",
		"insurer_id", snap.Insurer.ID,
		"rows", len(rows),
		"normalized", len(res.Normalized),
		"skipped", res.Skipped,
	)
	return &res, nil
}

// NormalizeDelinquencyRowsForInsurer normalizes a delinquency report.
func (s *Service) NormalizeDelinquencyRowsForInsurer(ctx context.Context, idOrName string, rows []datanorm.Row) (*datanorm.DelinquencyBatchResult, error) {
	snap, err := s.GetSnapshotByName(ctx, idOrName)
	if err != nil {
		return nil, fmt.Errorf("normalize delinquency rows: %w", err)
	}

	res := datanorm.NormalizeDelinquencyBatch(snap, rows)
	logSkipped(snap.Insurer.ID, res.SkippedRows)
	logger.Info("delinquency rows normalized",
		"insurer_id", snap.Insurer.ID,
		"rows", len(rows),
		"normalized", len(res.Normalized),
		"skipped", res.Skipped,
	)
	return &res, nil
}

func logSkipped(insurerID string, skipped []datanorm.SkippedRow) {
	for _, sk := range skipped {
		logger.Debug("row skipped",
			"insurer_id", insurerID,
			"row", sk.Index,
			"policy", sk.Policy,
			"insured", sk.Insured,
		)
	}
}

// ReportResult is the outcome of NormalizeReportForInsurer. Exactly one of
// Commission and Delinquency is set, matching Kind.
type ReportResult struct {
	Kind        datanorm.ReportKind              `json:"kind"`
	Commission  *datanorm.BatchResult            `json:"commission,omitempty"`
	Delinquency *datanorm.DelinquencyBatchResult `json:"delinquency,omitempty"`
}

// NormalizeReportForInsurer normalizes a CSV report, deciding from the
// filename and headers whether it is a commission or delinquency report.
// Pass a non-empty kind to skip detection.
func (s *Service) NormalizeReportForInsurer(ctx context.Context, idOrName, filename string, kind datanorm.ReportKind, headers []string, records [][]string) (*ReportResult, error) {
	if kind == "" {
		kind = s.classifier.Classify(filename, headers)
	}
	rows := datanorm.PositionalRows(headers, records)

	switch kind {
	case datanorm.ReportCommission:
		res, err := s.NormalizeRowsForInsurer(ctx, idOrName, rows)
		if err != nil {
			return nil, err
		}
		return &ReportResult{Kind: kind, Commission: res}, nil
	case datanorm.ReportDelinquency:
		res, err := s.NormalizeDelinquencyRowsForInsurer(ctx, idOrName, rows)
		if err != nil {
			return nil, err
		}
		return &ReportResult{Kind: kind, Delinquency: res}, nil
	default:
		return nil, fmt.Errorf("unknown report kind %q", kind)
	}
}

// MappingPatch holds the header fields a save may change. Nil fields keep
// the current value; Options are merged key by key.
type MappingPatch struct {
	PolicyStrategy     *domain.Strategy       `json:"policy_strategy,omitempty"`
	InsuredStrategy    *domain.Strategy       `json:"insured_strategy,omitempty"`
	CommissionStrategy *domain.Strategy       `json:"commission_strategy,omitempty"`
	Options            *domain.MappingOptions `json:"options,omitempty"`
	Active             *bool                  `json:"active,omitempty"`
}

// Bundle is the input of SaveMappingBundle. Rules and Delinquency replace
// the carrier's whole rule sets.
type Bundle struct {
	Mapping     *MappingPatch            `json:"mapping,omitempty"`
	Rules       []domain.MappingRule     `json:"rules"`
	Delinquency []domain.DelinquencyRule `json:"delinquency"`
}

// SaveMappingBundle replaces a carrier's configuration and returns the
// snapshot as re-read from the store.
func (s *Service) SaveMappingBundle(ctx context.Context, insurerID string, b Bundle) (*domain.MappingSnapshot, error) {
	return s.saveBundle(ctx, insurerID, b, false)
}

// saveBundle holds the carrier's lock for the whole read-modify-write. With
// keepDelinquency set, b.Delinquency is replaced by the stored rules read
// under that lock.
func (s *Service) saveBundle(ctx context.Context, insurerID string, b Bundle, keepDelinquency bool) (*domain.MappingSnapshot, error) {
	insurerID = strings.TrimSpace(insurerID)
	if insurerID == "" {
		return nil, fmt.Errorf("insurer id is required")
	}

	if s.newLock != nil {
		lock := s.newLock("mapping-bundle:" + insurerID)
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("lock mapping bundle for insurer %s: %w", insurerID, err)
		}
		if !ok {
			return nil, fmt.Errorf("insurer %s: %w", insurerID, ErrSaveInProgress)
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("mapping bundle lock release failed", "insurer_id", insurerID, "error", err)
			}
		}()
	}

	if keepDelinquency {
		delinquency, err := s.repo.ListDelinquencyRules(ctx, insurerID)
		if err != nil {
			return nil, fmt.Errorf("save mapping bundle for insurer %s: %w", insurerID, err)
		}
		b.Delinquency = delinquency
	}

	prev, err := s.GetSnapshot(ctx, insurerID)
	if err != nil {
		return nil, fmt.Errorf("save mapping bundle: %w", err)
	}

	stored := StoredBundle{
		Mapping:     applyPatch(prev.Mapping, b.Mapping),
		Rules:       make([]domain.MappingRule, 0, len(b.Rules)),
		Delinquency: make([]domain.DelinquencyRule, 0, len(b.Delinquency)),
	}
	stored.Mapping.InsurerID = insurerID

	dropped := 0
	for _, r := range b.Rules {
		field, ok := domain.ParseTargetField(string(r.TargetField))
		if !ok {
			logger.Warn("dropping mapping rule with unknown target field", "insurer_id", insurerID, "target_field", r.TargetField)
			dropped++
			continue
		}
		stored.Rules = append(stored.Rules, domain.MappingRule{
			InsurerID:   insurerID,
			TargetField: field,
			Aliases:     datanorm.NormalizeAliases(r.Aliases),
			Strategy:    datanorm.NormalizeStrategy(r.Strategy, datanorm.DefaultRuleStrategy(field)),
			Notes:       datanorm.NormalizeNotes(r.Notes),
		})
	}
	for _, r := range b.Delinquency {
		field, ok := domain.ParseDelinquencyTarget(string(r.TargetField))
		if !ok {
			logger.Warn("dropping delinquency rule with unknown target field", "insurer_id", insurerID, "target_field", r.TargetField)
			dropped++
			continue
		}
		stored.Delinquency = append(stored.Delinquency, domain.DelinquencyRule{
			InsurerID:   insurerID,
			TargetField: field,
			Aliases:     datanorm.NormalizeAliases(r.Aliases),
		})
	}

	if err := s.repo.SaveBundle(ctx, insurerID, stored); err != nil {
		return nil, fmt.Errorf("save mapping bundle for insurer %s: %w", insurerID, err)
	}
	logger.Info("mapping bundle saved",
		"insurer_id", insurerID,
		"rules", len(stored.Rules),
		"delinquency_rules", len(stored.Delinquency),
		"dropped", dropped,
	)

	return s.GetSnapshot(ctx, insurerID)
}

func applyPatch(prev domain.InsurerMapping, p *MappingPatch) domain.InsurerMapping {
	out := prev
	if p == nil {
		return out
	}
	if p.PolicyStrategy != nil {
		out.PolicyStrategy = datanorm.NormalizeStrategy(*p.PolicyStrategy, domain.StrategyByAlias)
	}
	if p.InsuredStrategy != nil {
		out.InsuredStrategy = datanorm.NormalizeStrategy(*p.InsuredStrategy, domain.StrategyByAlias)
	}
	if p.CommissionStrategy != nil {
		out.CommissionStrategy = datanorm.NormalizeStrategy(*p.CommissionStrategy, domain.StrategyByAlias)
	}
	if p.Options != nil {
		out.Options = prev.Options.Merge(*p.Options)
	}
	if p.Active != nil {
		out.Active = *p.Active
	}
	return out
}
