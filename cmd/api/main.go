package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mena-commerce/nbe-checkout/internal/callback"
	"github.com/mena-commerce/nbe-checkout/internal/checkout"
	"github.com/mena-commerce/nbe-checkout/internal/config"
	"github.com/mena-commerce/nbe-checkout/internal/db"
	"github.com/mena-commerce/nbe-checkout/internal/events"
	"github.com/mena-commerce/nbe-checkout/internal/gateway"
	"github.com/mena-commerce/nbe-checkout/internal/health"
	"github.com/mena-commerce/nbe-checkout/internal/lock"
	"github.com/mena-commerce/nbe-checkout/internal/obs"
	"github.com/mena-commerce/nbe-checkout/internal/order"
	"github.com/mena-commerce/nbe-checkout/internal/ratelimit"
	"github.com/mena-commerce/nbe-checkout/internal/resilience"
	"github.com/mena-commerce/nbe-checkout/internal/security"
	"github.com/mena-commerce/nbe-checkout/internal/session"
)

const metricsNamespace = "nbe_checkout"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	obs.MustRegisterDomainMetrics(metricsNamespace, registry)
	resilience.MustRegisterMetrics(metricsNamespace, registry)

	if cfg.TracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "nbe-checkout",
			Endpoint:      cfg.OTLPEndpoint,
			SamplingRatio: cfg.TraceSampleRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
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

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "nbe-checkout"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	creds := gateway.Credentials{
		MerchantID:  cfg.MerchantID,
		APIUsername: cfg.APIUsername,
		APIPassword: cfg.APIPassword,
		TestMode:    cfg.TestMode,
	}
	if !creds.Configured() {
		logger.Warn().Strs("missing", creds.MissingFields()).
			Msg("gateway credentials incomplete, checkout and verification are disabled")
	}

	breaker := resilience.NewBreaker(5, 0.5, 30*time.Second).
		WithTarget("nbe-gateway").
		WithLogger(logger)
	gatewayHTTP := resilience.HTTPClient{
		Client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		Breaker:     breaker,
		BaseBackoff: 250 * time.Millisecond,
		MaxAttempts: cfg.GatewayMaxAttempts,
		Jitter:      0.2,
	}
	gatewayClient := gateway.NewClient(creds, gatewayHTTP, logger)
	gatewayClient.SessionTimeout = cfg.SessionTimeout
	gatewayClient.VerifyTimeout = cfg.VerifyTimeout

	orders := order.NewPGStore(pool)
	sessions := session.NewPGStore(pool)
	bus := &events.Bus{Store: events.NewPGStore(pool)}

	checkoutSvc := &checkout.Service{
		Orders:        orders,
		Sessions:      sessions,
		Gateway:       gatewayClient,
		Creds:         creds,
		PublicBaseURL: cfg.PublicBaseURL,
		Events:        bus,
		Logger:        logger,
	}
	checkoutHandler := &checkout.Handler{Svc: checkoutSvc, Logger: logger}
	paymentPage := &checkout.PaymentPage{
		Orders:       orders,
		Sessions:     sessions,
		Creds:        creds,
		MerchantName: cfg.MerchantName,
		CheckoutURL:  cfg.CheckoutURL,
		ReturnURL:    checkoutSvc.ReturnURL,
		Logger:       logger,
	}

	reconciler := &callback.Reconciler{
		Orders:           orders,
		Sessions:         sessions,
		Gateway:          gatewayClient,
		Creds:            creds,
		Locker:           lock.Locker{R: redisClient},
		LockTTL:          cfg.CallbackLockTTL,
		CheckoutURL:      cfg.CheckoutURL,
		OrderReceivedURL: cfg.OrderReceivedURL,
		Events:           bus,
		Logger:           logger,
	}
	callbackHandler := &callback.Handler{Reconciler: reconciler, Logger: logger}
	callbackLimit := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "nbe:ratelimit:"},
		Config: ratelimit.Config{
			Key:    func(r *http.Request) string { return "callback:" + r.URL.Query().Get("order_id") },
			Window: cfg.CallbackRateWindow,
			Max:    cfg.CallbackRateMax,
		},
		OnError: func(err error) {
			logger.Warn().Err(err).Msg("callback rate limiter unavailable")
		},
	}

	httpMetrics := obs.NewHTTPMetrics(metricsNamespace, nil, registry)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(security.Headers{EnableHSTS: cfg.AppEnv == "production"}.Middleware)
	r.Use(obs.RoutePatternMiddleware)
	if cfg.TracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	checker := health.Checker{
		PingDB:    pool.Ping,
		PingRedis: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	}
	r.Get("/health/live", checker.Live)
	r.Get("/health/ready", checker.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Post("/checkout/{orderId}/start", checkoutHandler.Start)
	})
	r.Route("/payments/nbe", func(p chi.Router) {
		p.Get("/pay", paymentPage.Serve)
		p.With(callbackLimit.Middleware).Get("/return", callbackHandler.Return)
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	logger.Info().Str("addr", srv.Addr).Bool("test_mode", cfg.TestMode).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}
