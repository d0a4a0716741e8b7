// Command goupgrade serves the payment intent API and the provider webhooks.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	httpMiddleware "github.com/mihaimyh/goupgrade/middleware/http"
	"github.com/mihaimyh/goupgrade/pkg/api"
	"github.com/mihaimyh/goupgrade/pkg/billing"
	"github.com/mihaimyh/goupgrade/pkg/billing/mercadopago"
	billingmetrics "github.com/mihaimyh/goupgrade/pkg/billing/metrics/prometheus"
	"github.com/mihaimyh/goupgrade/pkg/billing/stripe"
	"github.com/mihaimyh/goupgrade/pkg/upgrade"
	zerologadapter "github.com/mihaimyh/goupgrade/pkg/upgrade/logger/zerolog"
	upgrademetrics "github.com/mihaimyh/goupgrade/pkg/upgrade/metrics/prometheus"
	firestoreStorage "github.com/mihaimyh/goupgrade/storage/firestore"
	"github.com/mihaimyh/goupgrade/storage/memory"
	postgresStorage "github.com/mihaimyh/goupgrade/storage/postgres"
	redisStorage "github.com/mihaimyh/goupgrade/storage/redis"
)

const metricsNamespace = "goupgrade"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "goupgrade: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	zlog := newZerolog(cfg)
	logger := zerologadapter.NewLogger(&zlog)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	logger.Info("storage ready", upgrade.Field{Key: "store", Value: cfg.Store})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	upgradeMetrics := upgrademetrics.NewMetrics(reg, metricsNamespace)
	billingMetrics := billingmetrics.NewMetrics(reg, metricsNamespace)

	factory, err := upgrade.NewIntentFactory(upgrade.IntentConfig{
		Catalog:     upgrade.DefaultCatalog(),
		AppPrefix:   cfg.AppPrefix,
		BackendURL:  cfg.BackendURL,
		FrontendURL: cfg.FrontendURL,
		Logger:      logger,
		Metrics:     upgradeMetrics,
	})
	if err != nil {
		return fmt.Errorf("intent factory: %w", err)
	}

	mpFetcher, err := mercadopago.NewFetcher(mercadopago.FetcherConfig{
		AccessToken: cfg.AccessToken,
		APIBase:     cfg.APIBase,
		Metrics:     billingMetrics,
	})
	if err != nil {
		return err
	}
	mpEngine, err := newEngine(store, guard(mpFetcher, upgradeMetrics, logger, "mercadopago"), factory.Prefix(), upgradeMetrics, logger)
	if err != nil {
		return err
	}
	mpProvider, err := mercadopago.NewProvider(mercadopago.Config{
		Config: billing.Config{
			Engine:           mpEngine,
			WebhookSecret:    cfg.WebhookSecret,
			Production:       cfg.Production,
			ReconcileTimeout: cfg.ReconcileTimeout,
			Metrics:          billingMetrics,
			Logger:           logger,
		},
	})
	if err != nil {
		return err
	}
	if cfg.WebhookSecret == "" {
		logger.Warn("WEBHOOK_SECRET is empty, webhook signatures are not verified")
	}

	providers := []billing.Provider{mpProvider}
	if cfg.StripeAPIKey != "" {
		stripeProvider, err := newStripeProvider(cfg, store, factory.Prefix(), upgradeMetrics, billingMetrics, logger)
		if err != nil {
			return err
		}
		providers = append(providers, stripeProvider)
	}

	handler, err := api.NewHandler(api.Config{
		Factory:      factory,
		Store:        store,
		GetAccountID: accountIDParam,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	router := newRouter(handler, providers, store, reg)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", upgrade.Field{Key: "addr", Value: cfg.HTTPAddr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newZerolog(cfg *serverConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.Production {
		return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	}
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

// openStore returns the configured account store and a function releasing it.
func openStore(ctx context.Context, cfg *serverConfig) (upgrade.Store, func(), error) {
	switch cfg.Store {
	case "postgres":
		pgConfig := postgresStorage.DefaultConfig()
		pgConfig.ConnectionString = cfg.PostgresDSN
		s, err := postgresStorage.New(ctx, pgConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres storage: %w", err)
		}
		return s, s.Close, nil

	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("%w: redis %s: %w", upgrade.ErrStorageUnavailable, cfg.RedisAddr, err)
		}
		s, err := redisStorage.New(client, redisStorage.DefaultConfig())
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil

	case "firestore":
		client, err := firestore.NewClient(ctx, cfg.FirestoreProject)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore client: %w", err)
		}
		s, err := firestoreStorage.New(client, firestoreStorage.Config{})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return s, func() { _ = client.Close() }, nil

	default:
		return memory.New(), func() {}, nil
	}
}

// guard coalesces concurrent lookups of one payment and trips a breaker when
// the provider keeps failing.
func guard(fetcher upgrade.StatusFetcher, metrics upgrade.Metrics, logger upgrade.Logger, provider string) upgrade.StatusFetcher {
	breaker := upgrade.NewCircuitBreaker(upgrade.BreakerConfig{
		OnStateChange: func(state upgrade.BreakerState) {
			metrics.RecordCircuitBreakerStateChange(string(state))
			logger.Warn("provider circuit breaker state changed",
				upgrade.Field{Key: "provider", Value: provider},
				upgrade.Field{Key: "state", Value: string(state)},
			)
		},
	})
	return upgrade.NewGuardedFetcher(upgrade.NewCoalescingFetcher(fetcher), breaker)
}

func newEngine(store upgrade.Store, fetcher upgrade.StatusFetcher, prefix string, metrics upgrade.Metrics, logger upgrade.Logger) (*upgrade.Engine, error) {
	config := upgrade.EngineConfig{
		Store:           store,
		Fetcher:         fetcher,
		ReferencePrefix: prefix,
		Logger:          logger,
		Metrics:         metrics,
	}
	if ts, ok := store.(upgrade.TimeSource); ok {
		config.TimeSource = ts
	}
	return upgrade.NewEngine(config)
}

func newStripeProvider(cfg *serverConfig, store upgrade.Store, prefix string,
	upgradeMetrics upgrade.Metrics, billingMetrics billing.Metrics, logger upgrade.Logger) (*stripe.Provider, error) {
	fetcher, err := stripe.NewFetcher(stripe.FetcherConfig{APIKey: cfg.StripeAPIKey, Metrics: billingMetrics})
	if err != nil {
		return nil, err
	}
	engine, err := newEngine(store, guard(fetcher, upgradeMetrics, logger, "stripe"), prefix, upgradeMetrics, logger)
	if err != nil {
		return nil, err
	}
	return stripe.NewProvider(stripe.Config{
		Config: billing.Config{
			Engine:           engine,
			WebhookSecret:    cfg.StripeWebhookSecret,
			Production:       cfg.Production,
			ReconcileTimeout: cfg.ReconcileTimeout,
			Metrics:          billingMetrics,
			Logger:           logger,
		},
	})
}

func accountIDParam(r *http.Request) string {
	return chi.URLParam(r, "id")
}

func newRouter(handler *api.Handler, providers []billing.Provider, store upgrade.Store, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(httpMiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/payments", handler.CreatePayment)
		r.Get("/accounts/{id}", handler.GetAccount)

		// Sample route reserved for PRO accounts
		r.With(httpMiddleware.Middleware(httpMiddleware.Config{
			Accounts:  store,
			GetUserID: httpMiddleware.FromHeader("X-User-ID"),
		})).Get("/pro/reports", func(w http.ResponseWriter, r *http.Request) {
			account := httpMiddleware.AccountFromContext(r.Context())
			w.Header().Set("Content-Type", "application/json")
			_, _ = fmt.Fprintf(w, `{"user":%q,"plan":%q}`, account.ID, account.Plan)
		})
	})

	for _, p := range providers {
		r.Handle("/webhooks/"+p.Name(), p.WebhookHandler())
	}
	return r
}
