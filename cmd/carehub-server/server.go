package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/carehub/internal/config"
	"github.com/ehr/carehub/internal/domain/notification"
	"github.com/ehr/carehub/internal/domain/payment"
	"github.com/ehr/carehub/internal/platform/auth"
	"github.com/ehr/carehub/internal/platform/db"
	"github.com/ehr/carehub/internal/platform/events"
	"github.com/ehr/carehub/internal/platform/gateway"
	"github.com/ehr/carehub/internal/platform/lock"
	"github.com/ehr/carehub/internal/platform/metrics"
	"github.com/ehr/carehub/internal/platform/middleware"
	"github.com/ehr/carehub/internal/platform/websocket"
)

const (
	devJWTSecret     = "carehub-development-secret-not-for-production"
	devUserID        = "00000000-0000-0000-0000-000000000001"
	reconcileLockTTL = 30 * time.Second
	shutdownTimeout  = 10 * time.Second
	hstsMaxAge       = 365 * 24 * 60 * 60
)

func gateConfig(cfg *config.Config) websocket.GateConfig {
	return websocket.GateConfig{
		UnauthenticatedPolicy: websocket.UnauthenticatedPolicy(cfg.WSUnauthPolicy),
		CloseSuperseded:       cfg.CloseSuperseded(),
		AuthTimeout:           cfg.WSAuthTimeout,
	}
}

func jwtSecret(cfg *config.Config) []byte {
	if cfg.JWTSecret == "" && cfg.IsDev() {
		return []byte(devJWTSecret)
	}
	return []byte(cfg.JWTSecret)
}

func securityConfig(cfg *config.Config) middleware.SecurityConfig {
	if cfg.IsProduction() {
		return middleware.SecurityConfig{HSTSMaxAge: hstsMaxAge}
	}
	return middleware.SecurityConfig{}
}

// app holds the long-lived dependencies the HTTP server and background
// workers share.
type app struct {
	echo     *echo.Echo
	hub      *websocket.Hub
	consumer *events.Consumer
}

func buildApp(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, rdb *redis.Client) *app {
	var m *metrics.Metrics
	registry := prometheus.NewRegistry()
	if cfg.MetricsEnabled {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(registry)
	}

	verifier := auth.NewTokenVerifier(jwtSecret(cfg), cfg.JWTIssuer)
	hub := websocket.NewHub(verifier, gateConfig(cfg), logger.With().Str("component", "websocket").Logger(), m)

	// Notifications
	notifySvc := notification.NewService(notification.NewRepoPG(pool), hub.Dispatcher, logger.With().Str("component", "notification").Logger())

	// Payments
	gw := gateway.NewClient(gateway.Config{
		APIURL:    cfg.GatewayBaseURL,
		SnapURL:   cfg.GatewaySnapURL,
		ServerKey: cfg.GatewayServerKey,
		Timeout:   cfg.GatewayTimeout,
	}, gateway.WithMetrics(m), gateway.WithLogger(logger.With().Str("component", "gateway").Logger()))

	paySvc := payment.NewService(
		payment.NewIntentRepoPG(pool),
		payment.NewFactsRepoPG(pool),
		payment.NewBuilder(payment.BuilderConfig{DefaultConsultationFee: cfg.ConsultationFeeDefault}),
		gw,
		logger.With().Str("component", "payment").Logger(),
		m,
	)
	paySvc.SetNotifier(notifySvc)
	paySvc.SetTxFunc(func(ctx context.Context, fn func(ctx context.Context) error) error {
		return db.InTx(ctx, pool, fn)
	})
	if rdb != nil {
		paySvc.SetLocker(lock.NewLocker(rdb), reconcileLockTTL)
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(m.Middleware())
	e.Use(middleware.SecurityHeaders(securityConfig(cfg)))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	if cfg.IsDev() {
		logger.Warn().Str("user_id", devUserID).Msg("development auth: unauthenticated requests run as admin")
		e.Use(auth.DevAuthMiddleware(verifier, devUserID))
	} else {
		e.Use(auth.JWTMiddleware(verifier, auth.AuthSkipper))
	}

	websocket.NewWebSocketHandler(hub, cfg.CORSOrigins).RegisterRoutes(e)

	apiV1 := e.Group("/api/v1",
		middleware.RequestTimeout(30*time.Second),
		middleware.BodyLimit("256K"),
		middleware.RateLimit(middleware.DefaultRateLimitConfig()),
	)
	payment.NewHandler(paySvc).RegisterRoutes(apiV1)
	notification.NewHandler(notifySvc).RegisterRoutes(apiV1)

	checks := map[string]db.Check{}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	e.GET("/health", db.HealthHandler(pool, checks))
	e.GET("/health/db", db.HealthHandler(pool, nil))
	if cfg.MetricsEnabled {
		e.GET("/metrics", metrics.Handler(registry))
	}

	a := &app{echo: e, hub: hub}
	if cfg.KafkaEnabled() {
		a.consumer = events.NewConsumer(events.ConsumerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaNotifyTopic,
			GroupID: cfg.KafkaGroupID,
		}, notifySvc, logger.With().Str("component", "events").Logger())
	}
	return a
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error().Err(err).Msg("invalid REDIS_URL")
			return err
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Msg("redis unreachable; webhook reconciliation runs without a distributed lock")
		}
	} else {
		logger.Warn().Msg("REDIS_URL not set; webhook reconciliation runs without a distributed lock")
	}

	a := buildApp(cfg, logger, pool, rdb)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := a.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if a.consumer != nil {
		g.Go(func() error {
			logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaNotifyTopic).Msg("starting notification consumer")
			return a.consumer.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := a.echo.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := a.hub.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if a.consumer != nil {
			if err := a.consumer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
