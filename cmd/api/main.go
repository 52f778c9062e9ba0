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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/angelmondragon/todolimpio-backend/api/controllers"
	"github.com/angelmondragon/todolimpio-backend/api/routes"
	"github.com/angelmondragon/todolimpio-backend/internal/auth"
	"github.com/angelmondragon/todolimpio-backend/internal/cart"
	"github.com/angelmondragon/todolimpio-backend/internal/changefeed"
	"github.com/angelmondragon/todolimpio-backend/internal/checkout"
	"github.com/angelmondragon/todolimpio-backend/internal/gateway"
	"github.com/angelmondragon/todolimpio-backend/internal/orders"
	"github.com/angelmondragon/todolimpio-backend/internal/products"
	"github.com/angelmondragon/todolimpio-backend/internal/users"
	"github.com/angelmondragon/todolimpio-backend/pkg/auth/session"
	"github.com/angelmondragon/todolimpio-backend/pkg/config"
	"github.com/angelmondragon/todolimpio-backend/pkg/db"
	"github.com/angelmondragon/todolimpio-backend/pkg/logger"
	"github.com/angelmondragon/todolimpio-backend/pkg/metrics"
	"github.com/angelmondragon/todolimpio-backend/pkg/migrate"
	"github.com/angelmondragon/todolimpio-backend/pkg/outbox"
	"github.com/angelmondragon/todolimpio-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/todolimpio-backend/pkg/pubsub"
	"github.com/angelmondragon/todolimpio-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "api",
		"feedMode":    cfg.ChangeFeed.ModeKind(),
	})

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "api stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api shut down gracefully")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) (err error) {
	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			err = multierr.Append(err, closers[i]())
		}
	}()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	closers = append(closers, dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	closers = append(closers, redisClient.Close)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics := metrics.NewHTTPMetrics(reg)
	checkoutMetrics := metrics.NewCheckoutMetrics(reg)
	feedMetrics := metrics.NewFeedMetrics(reg)

	hub := changefeed.NewHub(cfg.ChangeFeed.BufferSize, feedMetrics, logg)

	ready := map[string]controllers.Pinger{"database": dbClient, "redis": redisClient}

	var (
		emitter  gateway.Emitter
		consumer *changefeed.Consumer
	)
	switch cfg.ChangeFeed.ModeKind() {
	case config.ChangeFeedModePubSub:
		pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return err
		}
		closers = append(closers, pubsubClient.Close)
		ready["pubsub"] = pubsubClient

		emitter, err = changefeed.NewOutboxEmitter(outbox.NewService(outbox.NewRepository(dbClient.DB()), logg))
		if err != nil {
			return err
		}
		guard, err := idempotency.NewGuard(redisClient, cfg.ChangeFeed.IdempotencyTTL)
		if err != nil {
			return err
		}
		subscription := pubsubClient.ChangeFeedSubscription()
		if subscription == nil {
			return fmt.Errorf("%s is required to consume the change feed", config.EnvPubSubChangeFeedSub)
		}
		consumer, err = changefeed.NewConsumer(changefeed.ConsumerParams{
			Name:         cfg.PubSub.ChangeFeedSubscription,
			Subscription: subscription,
			Guard:        guard,
			Hub:          hub,
			Logger:       logg,
		})
		if err != nil {
			return err
		}
	default:
		emitter = changefeed.NewLocalEmitter(hub)
	}

	store, err := gateway.NewStore(gateway.StoreParams{
		DB:      dbClient,
		Feed:    hub,
		Emitter: emitter,
		Logger:  logg,
	})
	if err != nil {
		return err
	}

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		return err
	}

	userService, err := users.NewService(store, cfg.Password, logg)
	if err != nil {
		return err
	}
	authService, err := auth.NewService(auth.ServiceParams{
		UserRepo:       users.NewRepository(dbClient.DB()),
		SessionManager: sessionManager,
		JWTConfig:      cfg.JWT,
		Logger:         logg,
	})
	if err != nil {
		return err
	}
	registerService, err := auth.NewAdminRegisterService(userService)
	if err != nil {
		return err
	}
	productService, err := products.NewService(store)
	if err != nil {
		return err
	}
	orderService, err := orders.NewService(store, logg)
	if err != nil {
		return err
	}

	cartStorage, err := newCartStorage(cfg.Cart, redisClient)
	if err != nil {
		return err
	}
	cartService, err := cart.NewService(cartStorage, logg)
	if err != nil {
		return err
	}
	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		Carts:   cartService,
		Gateway: store,
		Metrics: checkoutMetrics,
		Logger:  logg,
	})
	if err != nil {
		return err
	}

	router := routes.NewRouter(routes.Deps{
		Config:         cfg,
		Logger:         logg,
		Ready:          ready,
		Sessions:       sessionManager,
		Feed:           store,
		Idempotency:    redisClient,
		Limiter:        redisClient,
		HTTPMetrics:    httpMetrics,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Auth:           authService,
		AdminRegister:  registerService,
		Products:       productService,
		Carts:          cartService,
		Checkout:       checkoutService,
		Orders:         orderService,
		Users:          userService,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	errCh := make(chan error, 2)
	go func() {
		logg.Info(logg.WithField(ctx, "addr", srv.Addr), "starting http server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	if consumer != nil {
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logg.Info(ctx, "shutdown signal received")
	case runErr = <-errCh:
	}
	cancelRun()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.App.ShutdownTimeout)
	defer cancel()
	// Open streams are hijacked and ignored by Shutdown; closing the hub ends them.
	hub.Close()
	return multierr.Append(runErr, srv.Shutdown(shutdownCtx))
}

func newCartStorage(cfg config.CartConfig, client *redis.Client) (cart.Storage, error) {
	if cfg.StorageKind() == config.CartStorageMemory {
		return cart.NewMemoryStorage(), nil
	}
	return cart.NewRedisStorage(client, cfg.TTL)
}
