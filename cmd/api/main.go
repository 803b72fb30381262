package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/cabinet-quote/internal/app"
	"github.com/noah-isme/cabinet-quote/internal/common"
	"github.com/noah-isme/cabinet-quote/internal/config"
	"github.com/noah-isme/cabinet-quote/internal/health"
	"github.com/noah-isme/cabinet-quote/internal/obs"
	"github.com/noah-isme/cabinet-quote/internal/quote"
	"github.com/noah-isme/cabinet-quote/internal/ratelimit"
	"github.com/noah-isme/cabinet-quote/internal/resilience"
	"github.com/noah-isme/cabinet-quote/internal/security"
	"github.com/noah-isme/cabinet-quote/internal/versioning"
)

const serviceName = "cabinet-quote-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsEnabled := cfg.Obs.EnablePrometheus
	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)
	resilience.MustRegisterMetrics(cfg.Obs.MetricsNamespace, nil)

	tracingEnabled := cfg.Obs.EnableTracing
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:    serviceName,
			ServiceVersion: envOrDefault("APP_VERSION", ""),
			Endpoint:       cfg.Obs.OTLPEndpoint,
			Exporter:       envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio:  cfg.Obs.TracingSamplingRatio,
			Environment:    cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool = connectDB(ctx, cfg, logger)
		defer pool.Close()
		if cfg.VersionStore == config.SourcePostgres {
			if err := app.MigrateVersionStore(cfg.DatabaseURL); err != nil {
				logger.Fatal().Err(err).Msg("migrate version store")
			}
		}
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient = connectRedis(ctx, cfg, metricsEnabled, logger)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
	}

	deps, err := app.Build(ctx, cfg, pool, universal(redisClient), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	if _, err := deps.Rules.GetRules(ctx); err != nil {
		logger.Error().Err(err).Msg("rules_unavailable_at_startup")
	}

	quoteHandler := quote.NewHandler(quote.HandlerConfig{
		Engine: deps.Engine,
		Rules:  deps.Rules,
		Tax:    deps.Tax,
		Logger: logger,
	})
	versionHandler := versioning.NewHandler(versioning.HandlerConfig{
		Service: deps.Versions,
		Engine:  deps.Engine,
		Logger:  logger,
	})
	idem := common.Idem{R: universal(redisClient), TTL: cfg.IdempotencyTTL}
	rateLimit := ratelimit.Handler{
		Limiter: deps.Limiter,
		Key:     ratelimit.ByActorOrIP,
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate_limit_store_failed") },
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(common.ActorMiddleware)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", common.ActorHeader, common.IdempotencyHeader, "X-Request-ID"},
		ExposedHeaders:   []string{"Content-Disposition", "Retry-After", "X-RateLimit-Remaining"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker:      deps,
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
		RulesTimeout: envDurationMillis("HEALTH_READY_RULES_TIMEOUT_MS", 1000),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(security.Headers{Enable: true, EnableHSTS: cfg.IsProduction()}.Middleware)
		v.Use(security.BodyLimit{Max: security.DefaultMaxBody}.Middleware)

		v.Get("/rules", quoteHandler.GetRules)
		v.Patch("/rules", quoteHandler.PatchRules)

		v.With(rateLimit.Middleware).Post("/quotes/calculate", quoteHandler.Calculate)
		v.With(rateLimit.Middleware).Post("/tax/estimate", quoteHandler.EstimateTax)

		v.Route("/quotes/{quoteID}", func(q chi.Router) {
			q.Get("/versions", versionHandler.History)
			q.Get("/versions/current", versionHandler.Current)
			q.Get("/versions/compare", versionHandler.Compare)
			q.Get("/versions/{version}", versionHandler.Get)
			q.Get("/changes", versionHandler.Changes)
			q.Get("/export", versionHandler.Export)

			q.Group(func(g chi.Router) {
				g.Use(rateLimit.Middleware)
				g.Use(idem.Middleware)
				g.Post("/versions", versionHandler.Create)
				g.Post("/versions/{version}/restore", versionHandler.Restore)
			})
		})
	})

	var handler http.Handler = r
	if tracingEnabled {
		// extracts inbound trace context; route spans nest under it
		handler = otelhttp.NewHandler(r, serviceName)
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("shutdown_started")
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), envDurationMillis("SHUTDOWN_TIMEOUT_MS", 15000))
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
	}
}

func connectDB(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = serviceName

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func connectRedis(ctx context.Context, cfg *config.Config, metricsEnabled bool, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	client := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return client
}

// universal avoids handing a typed nil *redis.Client to interface fields.
func universal(c *redis.Client) redis.UniversalClient {
	if c == nil {
		return nil
	}
	return c
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
