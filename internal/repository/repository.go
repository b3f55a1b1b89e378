// Package repository selects the configured mapping store backend.
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/carrier-mapping/internal/config"
	"github.com/ignite/carrier-mapping/internal/domain"
	"github.com/ignite/carrier-mapping/internal/repository/dynamo"
	"github.com/ignite/carrier-mapping/internal/repository/postgres"
	"github.com/ignite/carrier-mapping/internal/service/mappings"
)

// Store is a mappings.Repository that can also register carriers.
type Store interface {
	mappings.Repository
	CreateInsurer(ctx context.Context, name string) (*domain.Insurer, error)
}

var (
	_ Store = (*postgres.MappingRepo)(nil)
	_ Store = (*dynamo.MappingRepo)(nil)

	_ mappings.ConfigLoader = (*postgres.MappingRepo)(nil)
	_ mappings.ConfigLoader = (*dynamo.MappingRepo)(nil)
)

// New builds the store named by cfg.Type. db is required for the postgres
// backend and ignored otherwise.
func New(ctx context.Context, cfg config.StoreConfig, db *sql.DB) (Store, error) {
	switch cfg.Type {
	case "", config.StorePostgres:
		if db == nil {
			return nil, fmt.Errorf("postgres store requires a database connection")
		}
		return postgres.NewMappingRepo(db), nil
	case config.StoreDynamoDB:
		repo, err := dynamo.New(ctx, cfg.DynamoDBTable, cfg.AWSRegion, cfg.GetAWSProfile())
		if err != nil {
			return nil, fmt.Errorf("dynamodb store: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}
