// Package app assembles the quote service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	migrate "github.com/golang-migrate/migrate/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"
	limitermemory "github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/noah-isme/cabinet-quote/internal/catalog"
	"github.com/noah-isme/cabinet-quote/internal/config"
	"github.com/noah-isme/cabinet-quote/internal/health"
	"github.com/noah-isme/cabinet-quote/internal/lock"
	"github.com/noah-isme/cabinet-quote/internal/quote"
	"github.com/noah-isme/cabinet-quote/internal/resilience"
	"github.com/noah-isme/cabinet-quote/internal/rules"
	"github.com/noah-isme/cabinet-quote/internal/shipping"
	"github.com/noah-isme/cabinet-quote/internal/tax"
	"github.com/noah-isme/cabinet-quote/internal/versioning"
)

const limiterPrefix = "quote-ratelimit"

// Dependencies enumerates the services shared by the HTTP handlers. DB and
// Redis are nil when their URLs are not configured.
type Dependencies struct {
	DB      *pgxpool.Pool
	Redis   redis.UniversalClient
	Limiter *limiter.Limiter

	Rules    *rules.Provider
	Catalog  catalog.Provider
	Tax      tax.Calculator
	Engine   *quote.Engine
	Versions *versioning.Service
}

// Build wires the calculation engine and versioning service from cfg.
func Build(ctx context.Context, cfg *config.Config, db *pgxpool.Pool, rdb redis.UniversalClient, logger zerolog.Logger) (*Dependencies, error) {
	deps := &Dependencies{DB: db, Redis: rdb}

	rulesStore, err := NewRulesStore(cfg, rdb)
	if err != nil {
		return nil, err
	}
	if err := SeedRules(ctx, rulesStore, logger); err != nil {
		return nil, err
	}
	deps.Rules = rules.NewProvider(rules.ProviderConfig{
		Store:         rulesStore,
		TTL:           cfg.RulesCacheTTL,
		ReloadTimeout: cfg.RulesReloadTimeout,
		Logger:        logger.With().Str("component", "rules").Logger(),
	})

	deps.Catalog = NewCatalog(cfg, db, rdb, logger)
	deps.Tax = tax.Calculator{Logger: logger.With().Str("component", "tax").Logger()}
	deps.Engine = quote.NewEngine(quote.EngineDeps{
		Catalog:       deps.Catalog,
		Rules:         deps.Rules,
		Tax:           deps.Tax,
		Shipping:      shipping.NewCalculator(logger.With().Str("component", "shipping").Logger()),
		Logger:        logger.With().Str("component", "quote").Logger(),
		LookupTimeout: cfg.CatalogLookupTimeout,
	})

	versionStore, err := NewVersionStore(cfg, db)
	if err != nil {
		return nil, err
	}
	deps.Versions = versioning.NewService(versioning.ServiceConfig{
		Store:   versionStore,
		Locker:  NewLocker(rdb),
		Logger:  logger.With().Str("component", "versioning").Logger(),
		LockTTL: cfg.VersionLockTTL,
	})

	store, err := NewLimiterStore(rdb)
	if err != nil {
		return nil, fmt.Errorf("init limiter store: %w", err)
	}
	deps.Limiter, err = NewLimiter(store, cfg.RateLimit)
	if err != nil {
		return nil, err
	}
	return deps, nil
}

// NewRulesStore selects the rules backend named by RULES_SOURCE.
func NewRulesStore(cfg *config.Config, rdb redis.UniversalClient) (rules.Store, error) {
	switch cfg.RulesSource {
	case config.SourceFile:
		return rules.FileStore{Path: cfg.RulesFile}, nil
	case config.SourceRedis:
		if rdb == nil {
			return nil, errors.New("rules source redis requires REDIS_URL")
		}
		return rules.RedisStore{Client: rdb}, nil
	default:
		return rules.NewMemoryStore(rules.Default()), nil
	}
}

// SeedRules writes the default rules into an empty shared store so a fresh
// deployment can serve quotes. A file store is never seeded.
func SeedRules(ctx context.Context, store rules.Store, logger zerolog.Logger) error {
	if _, ok := store.(rules.FileStore); ok {
		return nil
	}
	// other load errors surface through the provider and readiness probe
	if _, err := store.Load(ctx); !errors.Is(err, rules.ErrRulesNotFound) {
		return nil
	}
	if err := store.Save(ctx, rules.Default()); err != nil {
		return fmt.Errorf("seed default rules: %w", err)
	}
	logger.Info().Msg("rules_seeded_with_defaults")
	return nil
}

// NewCatalog returns the Postgres catalog behind a circuit breaker and, when
// Redis is available, a read-through cache. Without a database the demo
// catalog is served from memory.
func NewCatalog(cfg *config.Config, db *pgxpool.Pool, rdb redis.UniversalClient, logger zerolog.Logger) catalog.Provider {
	if db == nil {
		logger.Warn().Msg("catalog_using_demo_data")
		return catalog.NewMemory().SeedDemo()
	}
	breaker := resilience.NewBreaker(10, 0.5, 15*time.Second).
		WithDependency("catalog_postgres").
		WithLogger(logger)
	var provider catalog.Provider = catalog.Guarded{Inner: catalog.NewPostgres(db), Breaker: breaker}
	if rdb != nil {
		provider = catalog.NewCached(provider, rdb, cfg.CatalogCacheTTL, logger.With().Str("component", "catalog_cache").Logger())
	}
	return provider
}

// NewVersionStore selects the version backend named by VERSION_STORE.
func NewVersionStore(cfg *config.Config, db *pgxpool.Pool) (versioning.Store, error) {
	if cfg.VersionStore != config.SourcePostgres {
		return versioning.NewMemoryStore(), nil
	}
	if db == nil {
		return nil, errors.New("version store postgres requires DATABASE_URL")
	}
	return versioning.NewPostgres(db), nil
}

// NewLocker serializes version writers across instances when Redis is
// available and within the process otherwise.
func NewLocker(rdb redis.UniversalClient) lock.Locker {
	if rdb == nil {
		return lock.NewKeyedMutex()
	}
	return lock.RedisLocker{Client: rdb, Prefix: "lock:"}
}

// NewLimiterStore wires a rate limiter store backed by Redis, or by process
// memory when Redis is not configured.
func NewLimiterStore(rdb redis.UniversalClient) (limiter.Store, error) {
	if rdb == nil {
		return limitermemory.NewStoreWithOptions(limiter.StoreOptions{Prefix: limiterPrefix}), nil
	}
	return limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: limiterPrefix})
}

// NewLimiter parses a formatted rate such as "120-M".
func NewLimiter(store limiter.Store, formatted string) (*limiter.Limiter, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("parse RATE_LIMIT %q: %w", formatted, err)
	}
	return limiter.New(store, rate), nil
}

// RunMigrations applies pending migrations.
func RunMigrations(m *migrate.Migrate) error {
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// MigrateVersionStore applies the version store schema.
func MigrateVersionStore(databaseURL string) error {
	m, err := versioning.NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()
	return RunMigrations(m)
}

// PingDB implements health.Checker.
func (d *Dependencies) PingDB(ctx context.Context, timeout time.Duration) error {
	if d.DB == nil {
		return health.ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.DB.Ping(ctx)
}

// PingRedis implements health.Checker.
func (d *Dependencies) PingRedis(ctx context.Context, timeout time.Duration) error {
	if d.Redis == nil {
		return health.ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.Redis.Ping(ctx).Err()
}

// CheckRules implements health.Checker.
func (d *Dependencies) CheckRules(ctx context.Context, timeout time.Duration) error {
	if d.Rules == nil {
		return errors.New("rules provider not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := d.Rules.GetRules(ctx)
	return err
}
