package obs

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// QuoteCalculationsTotal counts quote calculations by outcome.
	QuoteCalculationsTotal *prometheus.CounterVec
	// QuoteCalculationDuration records calculation latency in milliseconds.
	QuoteCalculationDuration *prometheus.HistogramVec
	// RulesReloadTotal counts business rules reload attempts by outcome.
	RulesReloadTotal *prometheus.CounterVec
	// QuoteVersionsCreatedTotal counts appended quote versions by operation (create, restore).
	QuoteVersionsCreatedTotal *prometheus.CounterVec
	// TaxDefaultRateTotal counts tax calculations that fell back to the default rate.
	TaxDefaultRateTotal *prometheus.CounterVec
	// CatalogCacheTotal counts catalog cache lookups by entity kind and result.
	CatalogCacheTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		QuoteCalculationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_calculations_total",
			Help:      "Count of quote calculations by outcome.",
		}, []string{"result"})
		QuoteCalculationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quote_calculation_duration_ms",
			Help:      "Latency of quote calculations in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"result"})
		RulesReloadTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rules_reload_total",
			Help:      "Count of business rules reloads by outcome.",
		}, []string{"result"})
		QuoteVersionsCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_versions_created_total",
			Help:      "Count of appended quote versions by operation.",
		}, []string{"operation"})
		TaxDefaultRateTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tax_default_rate_total",
			Help:      "Count of tax calculations that used the default rate.",
		}, []string{"jurisdiction"})
		CatalogCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_cache_total",
			Help:      "Count of catalog cache lookups by kind and result.",
		}, []string{"kind", "result"})

		reuseCounter := func(target **prometheus.CounterVec) func(prometheus.Collector) {
			return func(existing prometheus.Collector) {
				if v, ok := existing.(*prometheus.CounterVec); ok {
					*target = v
				}
			}
		}
		mustRegisterCollector(reg, QuoteCalculationsTotal, reuseCounter(&QuoteCalculationsTotal))
		mustRegisterCollector(reg, QuoteCalculationDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				QuoteCalculationDuration = v
			}
		})
		mustRegisterCollector(reg, RulesReloadTotal, reuseCounter(&RulesReloadTotal))
		mustRegisterCollector(reg, QuoteVersionsCreatedTotal, reuseCounter(&QuoteVersionsCreatedTotal))
		mustRegisterCollector(reg, TaxDefaultRateTotal, reuseCounter(&TaxDefaultRateTotal))
		mustRegisterCollector(reg, CatalogCacheTotal, reuseCounter(&CatalogCacheTotal))
	})
}

// ObserveQuoteCalculation records one calculation outcome. No-op until metrics are registered.
func ObserveQuoteCalculation(result string, elapsed time.Duration) {
	if QuoteCalculationsTotal != nil {
		QuoteCalculationsTotal.WithLabelValues(result).Inc()
	}
	if QuoteCalculationDuration != nil {
		QuoteCalculationDuration.WithLabelValues(result).Observe(DurationMillis(elapsed))
	}
}

// IncRulesReload records a rules reload outcome.
func IncRulesReload(result string) {
	if RulesReloadTotal != nil {
		RulesReloadTotal.WithLabelValues(result).Inc()
	}
}

// IncQuoteVersion records an appended version.
func IncQuoteVersion(operation string) {
	if QuoteVersionsCreatedTotal != nil {
		QuoteVersionsCreatedTotal.WithLabelValues(operation).Inc()
	}
}

// IncTaxDefaultRate records a default-rate fallback.
func IncTaxDefaultRate(jurisdiction string) {
	if TaxDefaultRateTotal != nil {
		TaxDefaultRateTotal.WithLabelValues(jurisdiction).Inc()
	}
}

// IncCatalogCache records a catalog cache hit, miss or error.
func IncCatalogCache(kind, result string) {
	if CatalogCacheTotal != nil {
		CatalogCacheTotal.WithLabelValues(kind, result).Inc()
	}
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
