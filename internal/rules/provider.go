package rules

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/cabinet-quote/internal/obs"
)

// DefaultTTL is how long a loaded snapshot is served before a reload.
const DefaultTTL = 5 * time.Minute

// DefaultReloadTimeout bounds a single store load.
const DefaultReloadTimeout = 5 * time.Second

// snapshot pairs a validated rule set with when it was loaded. Snapshots are
// never mutated after publication.
type snapshot struct {
	rules    *BusinessRules
	loadedAt time.Time
	// nextLoad is when the snapshot becomes due for a reload. A failed reload
	// pushes it one TTL forward without changing the rules.
	nextLoad time.Time
}

// Patch carries optional whole rule sections to replace.
type Patch struct {
	Pricing    *PricingRules    `json:"pricing,omitempty"`
	Discounts  *DiscountRules   `json:"discounts,omitempty"`
	Tax        *TaxRules        `json:"tax,omitempty"`
	Shipping   *ShippingRules   `json:"shipping,omitempty"`
	Validation *ValidationRules `json:"validation,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Pricing == nil && p.Discounts == nil && p.Tax == nil && p.Shipping == nil && p.Validation == nil
}

// ProviderConfig configures a Provider.
type ProviderConfig struct {
	Store Store
	TTL   time.Duration
	// ReloadTimeout bounds each store load. A reload that overruns it while a
	// snapshot is cached falls back to that snapshot.
	ReloadTimeout time.Duration
	Logger        zerolog.Logger
	Now           func() time.Time
}

// Provider serves the current rules snapshot. Reads are lock-free; reloads
// and updates are serialized and publish a new snapshot atomically.
type Provider struct {
	store         Store
	ttl           time.Duration
	reloadTimeout time.Duration
	logger        zerolog.Logger
	now           func() time.Time

	current atomic.Pointer[snapshot]
	mu      sync.Mutex
}

// NewProvider constructs a provider. Nothing is loaded until the first GetRules.
func NewProvider(cfg ProviderConfig) *Provider {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.ReloadTimeout <= 0 {
		cfg.ReloadTimeout = DefaultReloadTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Provider{store: cfg.Store, ttl: cfg.TTL, reloadTimeout: cfg.ReloadTimeout, logger: cfg.Logger, now: cfg.Now}
}

// GetRules returns the cached snapshot, reloading it once the TTL elapses. A
// failed or timed out reload keeps serving the previous snapshot; the failure
// is only returned when nothing has ever been loaded.
func (p *Provider) GetRules(ctx context.Context) (*BusinessRules, error) {
	if snap := p.current.Load(); snap != nil && p.now().Before(snap.nextLoad) {
		return snap.rules, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// another caller may have reloaded while we waited
	snap := p.current.Load()
	now := p.now()
	if snap != nil && now.Before(snap.nextLoad) {
		return snap.rules, nil
	}

	loadCtx := ctx
	if snap != nil {
		// the stale snapshot is the fallback, so one caller giving up must not
		// abort a reload the others are queued behind
		loadCtx = context.WithoutCancel(ctx)
	}
	loadCtx, cancel := context.WithTimeout(loadCtx, p.reloadTimeout)
	defer cancel()

	loaded, err := p.load(loadCtx)
	if err != nil {
		obs.IncRulesReload("error")
		if snap == nil {
			return nil, err
		}
		p.logger.Warn().Err(err).
			Int("rules_version", snap.rules.Version).
			Time("loaded_at", snap.loadedAt).
			Msg("rules_reload_failed_serving_stale")
		p.current.Store(&snapshot{rules: snap.rules, loadedAt: snap.loadedAt, nextLoad: now.Add(p.ttl)})
		return snap.rules, nil
	}
	obs.IncRulesReload("ok")
	p.current.Store(&snapshot{rules: loaded, loadedAt: now, nextLoad: now.Add(p.ttl)})
	return loaded, nil
}

func (p *Provider) load(ctx context.Context) (*BusinessRules, error) {
	if p.store == nil {
		return nil, errors.New("rules: store not configured")
	}
	loaded, err := p.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	if err := Validate(loaded); err != nil {
		return nil, err
	}
	return loaded, nil
}

// UpdateRules merges patch onto the current rules, validates the result,
// persists it and publishes it. Invalid results are rejected with a
// *ConfigurationError and nothing changes.
func (p *Provider) UpdateRules(ctx context.Context, patch Patch) (*BusinessRules, error) {
	base, err := p.GetRules(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if snap := p.current.Load(); snap != nil {
		base = snap.rules
	}

	next := base.Clone()
	if patch.Pricing != nil {
		next.Pricing = *patch.Pricing
	}
	if patch.Discounts != nil {
		next.Discounts = *patch.Discounts
	}
	if patch.Tax != nil {
		next.Tax = *patch.Tax
	}
	if patch.Shipping != nil {
		next.Shipping = *patch.Shipping
	}
	if patch.Validation != nil {
		next.Validation = *patch.Validation
	}
	// detach from caller-owned maps and slices
	next = next.Clone()
	now := p.now()
	next.Version = base.Version + 1
	next.UpdatedAt = now.UTC()

	if err := Validate(next); err != nil {
		return nil, err
	}
	if err := p.store.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("save rules: %w", err)
	}
	p.current.Store(&snapshot{rules: next, loadedAt: now, nextLoad: now.Add(p.ttl)})
	p.logger.Info().Int("rules_version", next.Version).Msg("rules_updated")
	return next, nil
}

// Invalidate forces the next GetRules to reload while keeping the current
// snapshot as the stale fallback.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if snap := p.current.Load(); snap != nil {
		p.current.Store(&snapshot{rules: snap.rules, loadedAt: snap.loadedAt})
	}
}

// LoadedAt reports when the served snapshot was loaded; zero when none has been.
func (p *Provider) LoadedAt() time.Time {
	if snap := p.current.Load(); snap != nil {
		return snap.loadedAt
	}
	return time.Time{}
}
