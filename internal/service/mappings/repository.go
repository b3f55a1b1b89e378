package mappings

import (
	"context"

	"github.com/ignite/carrier-mapping/internal/domain"
)

// Repository defines the data access contract for carrier mapping configuration.
type Repository interface {
	// GetInsurer returns a carrier by id. Returns ErrInsurerNotFound if it doesn't exist.
	GetInsurer(ctx context.Context, id string) (*domain.Insurer, error)

	// ListInsurers returns carriers ordered by name.
	ListInsurers(ctx context.Context, activeOnly bool) ([]domain.Insurer, error)

	// GetMapping returns the carrier's mapping header, or nil if none was saved.
	GetMapping(ctx context.Context, insurerID string) (*domain.InsurerMapping, error)

	// ListRules returns the persisted commission-side rules in save order.
	ListRules(ctx context.Context, insurerID string) ([]domain.MappingRule, error)

	// ListDelinquencyRules returns the persisted delinquency rules in save order.
	ListDelinquencyRules(ctx context.Context, insurerID string) ([]domain.DelinquencyRule, error)

	// SaveBundle upserts the header and replaces both rule sets as one unit.
	// Readers observe either the previous configuration or the new one.
	SaveBundle(ctx context.Context, insurerID string, bundle StoredBundle) error
}

// ConfigLoader is implemented by stores that can read a carrier's header and
// both rule sets as of one save. Snapshots prefer it over the separate
// Repository reads, which may straddle a concurrent save.
type ConfigLoader interface {
	// LoadConfig returns a nil header when none was saved.
	LoadConfig(ctx context.Context, insurerID string) (*domain.InsurerMapping, []domain.MappingRule, []domain.DelinquencyRule, error)
}

// StoredBundle is a carrier's complete configuration as written by SaveBundle.
// Rules and Delinquency are already normalized.
type StoredBundle struct {
	Mapping     domain.InsurerMapping
	Rules       []domain.MappingRule
	Delinquency []domain.DelinquencyRule
}
