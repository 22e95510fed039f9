// Package app wires the marketplace API server: storage, cache, events,
// domain services, HTTP handlers, and graceful shutdown.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/vendimo/marketplace-core/internal/cache"
	"github.com/vendimo/marketplace-core/internal/domain/cart"
	"github.com/vendimo/marketplace-core/internal/domain/catalog"
	"github.com/vendimo/marketplace-core/internal/domain/commission"
	"github.com/vendimo/marketplace-core/internal/domain/order"
	"github.com/vendimo/marketplace-core/internal/domain/settlement"
	"github.com/vendimo/marketplace-core/internal/events"
	"github.com/vendimo/marketplace-core/internal/handler"
	"github.com/vendimo/marketplace-core/internal/notify"
	"github.com/vendimo/marketplace-core/internal/storage/postgres"
	"github.com/vendimo/marketplace-core/pkg/health"
	"github.com/vendimo/marketplace-core/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Repositories.
	var products catalog.Repository = postgres.NewProductRepository(pool)
	dealRepo := postgres.NewDealRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	settlementRepo := postgres.NewSettlementRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Optional catalog cache.
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		healthSvc.AddReadinessCheck("redis", 2*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		products = cache.NewCatalogCache(products, rdb, cache.DefaultTTL)
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Event publishing and settlement notifications are best-effort and
	// optional: absent configuration wires a no-op.
	var publisher interface {
		order.Publisher
		settlement.Publisher
	} = nopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		producer := events.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		publisher = producer
	}

	var notifier settlement.Notifier = nopNotifier{}
	if cfg.WebhookURL != "" {
		notifier = notify.NewWebhook(cfg.WebhookURL, nil, 4)
	}

	// Domain services.
	validator := cart.NewValidator(products, dealRepo)
	orderService := order.NewService(products, dealRepo, validator, orderRepo, publisher)
	settlementService := settlement.NewService(
		orderRepo,
		settlementRepo,
		orderRepo,
		commission.NewCalculator(commission.DefaultConfig()),
		settlement.CommissionBase(cfg.CommissionBase),
		notifier,
		publisher,
	)

	// HTTP handlers.
	security := handler.NewSecurity(apikeyRepo, []byte(cfg.APIKeyPepper))
	h := handler.NewHandler(validator, orderService, settlementService, security)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", h.Routes())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(
			otelhttp.NewHandler(mux, "marketplace-api",
				otelhttp.WithTracerProvider(m.TracerProvider()),
				otelhttp.WithMeterProvider(m.MeterProvider()),
			),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins: cfg.CORS.Origins,
				AllowHeaders: []string{"Content-Type", "Authorization", "X-API-Key"},
				MaxAge:       86400,
			}),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

type nopPublisher struct{}

func (nopPublisher) OrderCreated(context.Context, *order.Order) error { return nil }

func (nopPublisher) SettlementRequested(context.Context, *settlement.Settlement) error {
	return nil
}

type nopNotifier struct{}

func (nopNotifier) SettlementRequested(context.Context, *settlement.Settlement) error { return nil }
