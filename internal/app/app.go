package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-commerce/internal/domain/adjuster"
	"github.com/xenking/kart-commerce/internal/domain/cart"
	"github.com/xenking/kart-commerce/internal/domain/coupon"
	"github.com/xenking/kart-commerce/internal/domain/customer"
	"github.com/xenking/kart-commerce/internal/domain/order"
	"github.com/xenking/kart-commerce/internal/domain/payment"
	"github.com/xenking/kart-commerce/internal/domain/product"
	"github.com/xenking/kart-commerce/internal/domain/shipping"
	"github.com/xenking/kart-commerce/internal/domain/tax"
	"github.com/xenking/kart-commerce/internal/events"
	"github.com/xenking/kart-commerce/internal/gateway/dummy"
	"github.com/xenking/kart-commerce/internal/gateway/stripe"
	"github.com/xenking/kart-commerce/internal/handler"
	"github.com/xenking/kart-commerce/pkg/health"
	"github.com/xenking/kart-commerce/pkg/httpmiddleware"
)

// services is the wired domain layer.
type services struct {
	orders   *order.Service
	carts    *cart.Manager
	payments *payment.Service
}

func newServices(lg *zap.Logger, m httpmiddleware.Telemetry, cfg *Config, repos *repositories, sessions cart.SessionStore) (*services, error) {
	addresses := customer.NewAddressBook(repos.addresses)
	catalog := product.NewCatalog(repos.products)
	coupons := coupon.NewMatcher(repos.coupons)

	pipeline := order.NewPipeline(
		adjuster.NewShipping(shipping.NewRuleMatcher(repos.shipping, addresses)),
		adjuster.NewDiscount(coupons),
		adjuster.NewTax(tax.NewZoneResolver(repos.taxRates), addresses),
	)
	orders := order.NewService(order.Deps{
		Orders:       repos.orders,
		LineItems:    repos.lineItems,
		Adjustments:  repos.adjustments,
		Statuses:     repos.statuses,
		Payments:     repos.transactions,
		Addresses:    addresses,
		Purchasables: catalog,
		Tx:           repos.tx,
		Pipeline:     pipeline,
	}, order.WithTracerProvider(m.TracerProvider()))

	carts := cart.NewManager(cart.Deps{
		Orders:       repos.orders,
		LineItems:    repos.lineItems,
		Purchasables: catalog,
		Engine:       orders,
		Sessions:     sessions,
		Addresses:    addresses,
		Coupons:      coupons,
		Tx:           repos.tx,
		Currency:     cfg.Currency,
	})
	orders.Use(carts.CompletionHook(), coupon.NewUsageHook(repos.coupons))

	gateways := map[string]payment.Gateway{dummy.Name: dummy.New()}
	if cfg.Payments.Stripe.APIKey != "" {
		g, err := stripe.New(stripe.Config{
			APIKey:    cfg.Payments.Stripe.APIKey,
			AccountID: cfg.Payments.Stripe.AccountID,
		})
		if err != nil {
			return nil, errors.Wrap(err, "create stripe gateway")
		}
		gateways[stripe.Name] = g
		lg.Info("Stripe gateway enabled")
	}
	registry, err := payment.NewRegistry(gateways)
	if err != nil {
		return nil, errors.Wrap(err, "create gateway registry")
	}
	payments, err := payment.NewService(payment.Deps{
		Transactions: repos.transactions,
		Methods:      repos.methods,
		Orders:       repos.orders,
		LineItems:    repos.lineItems,
		OrderPayment: orders,
		Gateways:     registry,
		Tx:           repos.tx,
	},
		payment.WithTimeout(cfg.Payments.GatewayTimeout),
		payment.WithURLs(cfg.Payments.ReturnURL, cfg.Payments.CancelURL),
		payment.WithMeterProvider(m.MeterProvider()),
		payment.WithRequestID(httpmiddleware.RequestIDFromContext),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create payment service")
	}

	return &services{orders: orders, carts: carts, payments: payments}, nil
}

// newRouter installs the middleware chain and mounts the probes and the API.
func newRouter(
	ctx context.Context,
	cfg *Config,
	m httpmiddleware.Telemetry,
	probes *health.Health,
	h *handler.Handler,
	sec *handler.SecurityHandler,
	limiter httpmiddleware.Limiter,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		httpmiddleware.Recovery(),
		httpmiddleware.Instrument("kart-commerce", m),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", handler.APIKeyHeader, httpmiddleware.RequestIDHeader},
			TokenHeader:      handler.CartTokenHeader,
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
			Max:     cfg.RateLimit.Max,
			Window:  cfg.RateLimit.Window,
			KeyFunc: httpmiddleware.HeaderKeyFunc(handler.CartTokenHeader),
			Limiter: limiter,
		}),
		httpmiddleware.LogRequests(),
	)
	r.Get("/livez", probes.LiveEndpoint)
	r.Get("/readyz", probes.ReadyEndpoint)
	r.Mount("/", h.Routes(sec.Middleware))
	return r
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage),
	)

	var (
		repos *repositories
		err   error
	)
	if cfg.Storage == StorageMemory {
		repos, err = openMemory(ctx, lg, cfg.APIKeyPepper, cfg.AdminAPIKey)
	} else {
		repos, err = openPostgres(ctx, lg, cfg.DatabaseURL)
	}
	if err != nil {
		return err
	}
	defer repos.close()

	sessions, err := openSessions(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := sessions.close(); err != nil {
			lg.Warn("Close sessions", zap.Error(err))
		}
	}()

	svc, err := newServices(lg, m, cfg, repos, sessions)
	if err != nil {
		return err
	}

	if len(cfg.Kafka.Brokers) > 0 {
		pub := events.NewPublisher(events.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), repos.lineItems)
		svc.orders.Use(pub)
		defer func() {
			if err := pub.Close(); err != nil {
				lg.Warn("Close event writer", zap.Error(err))
			}
		}()
		lg.Info("Publishing order events",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}

	// Health check service.
	healthSvc := health.New()
	if repos.ping != nil {
		healthSvc.Add(health.Readiness, "postgres", 5*time.Second, health.PingCheck("postgres", repos.ping))
	}
	if sessions.ping != nil {
		healthSvc.Add(health.Readiness, "redis", 2*time.Second, health.PingCheck("redis", sessions.ping))
	}
	healthSvc.Add(health.Liveness, "goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	h := handler.NewHandler(
		handler.Config{StaleCartAge: cfg.StaleCartAge},
		svc.carts,
		svc.payments,
		repos.adjustments,
	)
	securityHandler := handler.NewSecurityHandler(repos.apiKeys, []byte(cfg.APIKeyPepper))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Gateway calls are bounded separately; leave room for them.
		WriteTimeout:   cfg.Payments.GatewayTimeout + 10*time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler:        newRouter(ctx, cfg, m, healthSvc, h, securityHandler, sessions.limiter(ctx, cfg.RateLimit)),
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
