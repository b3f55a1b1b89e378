// Package app wires configuration into the store, lock and mapping service
// shared by the commands.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/carrier-mapping/internal/config"
	"github.com/ignite/carrier-mapping/internal/pkg/distlock"
	"github.com/ignite/carrier-mapping/internal/pkg/logger"
	"github.com/ignite/carrier-mapping/internal/repository"
	"github.com/ignite/carrier-mapping/internal/service/mappings"
)

// App holds the long-lived handles a command needs.
type App struct {
	Config   *config.Config
	DB       *sql.DB
	Redis    *redis.Client
	Store    repository.Store
	Mappings *mappings.Service
}

// ConfigureLogger applies the log section of cfg to the default logger.
func ConfigureLogger(cfg config.LogConfig) {
	logger.SetLevel(logger.ParseLevel(cfg.Level))
	logger.SetRedactPII(cfg.ShouldRedact())
}

// OpenDB opens and pings the configured PostgreSQL database.
func OpenDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database url is required")
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime())

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}

// Open connects everything cfg describes. The database is optional for the
// dynamodb store; Redis is optional everywhere and a failed ping falls back
// to advisory locks.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	ConfigureLogger(cfg.Log)
	a := &App{Config: cfg}

	if cfg.Database.URL != "" {
		db, err := OpenDB(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.DB = db
	}

	if cfg.Redis.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Printf("Warning: Redis connection failed (%s): %v, falling back to PG advisory locks", cfg.Redis.Addr, err)
			client.Close()
		} else {
			a.Redis = client
		}
	}

	store, err := repository.New(ctx, cfg.Store, a.DB)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = store

	var opts []mappings.Option
	if f := a.lockFactory(); f != nil {
		opts = append(opts, mappings.WithLockFactory(f))
	}
	a.Mappings = mappings.NewService(store, opts...)
	return a, nil
}

func (a *App) lockFactory() mappings.LockFactory {
	if a.Config.Mappings.DisableSaveLock || (a.Redis == nil && a.DB == nil) {
		return nil
	}
	ttl := a.Config.Mappings.SaveLockTTL()
	return func(key string) distlock.DistLock {
		return distlock.NewLock(a.Redis, a.DB, key, ttl)
	}
}

// Close releases the database and Redis connections.
func (a *App) Close() {
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
