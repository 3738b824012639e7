package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/domain/medrecord"
	"github.com/hms/hms/internal/domain/pharmacy"
	"github.com/hms/hms/internal/domain/ward"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/cache"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/directory"
	"github.com/hms/hms/internal/platform/middleware"
	"github.com/hms/hms/internal/platform/websocket"
)

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := newLogger(cfg)
	ctx := logger.WithContext(context.Background())

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	checks := map[string]db.Check{}

	var occupancy ward.OccupancyCache
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			// The ledger works without the cache; only occupancy reads get slower.
			logger.Warn().Err(err).Msg("redis unavailable, occupancy cache disabled")
		} else {
			defer rc.Close()
			kv := cache.NewRedisKV(rc)
			occupancy = cache.NewJSONCache(kv, "occupancy", cfg.OccupancyCacheTTL)
			checks["cache"] = kv.Ping
		}
	}

	var patients identity.Directory
	identitySvc := identity.NewService(identity.NewPatientRepo(pool))
	if cfg.PatientDirectoryURL != "" {
		client := directory.NewPatientClient(directory.Config{
			BaseURL:    cfg.PatientDirectoryURL,
			Timeout:    cfg.PatientDirectoryTimeout,
			RetryCount: 2,
			RetryWait:  200 * time.Millisecond,
		})
		patients = client
		checks["patient_directory"] = client.Ping
		logger.Info().Str("url", cfg.PatientDirectoryURL).Msg("using remote patient directory")
	} else {
		patients = identitySvc
	}

	hub := websocket.NewHub(logger)
	svcs := buildServices(pool, identitySvc, patients, occupancy, hub, cfg.BillingGracePeriod)

	e := newEcho(cfg, logger)
	e.GET("/health", db.HealthHandler(pool, checks))
	websocket.NewHandler(hub, cfg.CORSOrigins, logger).RegisterRoutes(e)
	registerAPI(e, cfg, logger, svcs)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting hms server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

// buildServices wires the domain services. Billing reads room context from
// the ward ledger and freezes records through medrecord; pharmacy locks the
// same records for dispensing.
func buildServices(pool *pgxpool.Pool, identitySvc *identity.Service, patients identity.Directory,
	occupancy ward.OccupancyCache, events websocket.EventPublisher, grace time.Duration) *services {
	tx := db.NewTxManager(pool)

	wardSvc := ward.NewService(ward.NewRoomRepo(pool), ward.NewAssignmentRepo(pool), patients, tx)
	if occupancy != nil {
		wardSvc.SetOccupancyCache(occupancy)
	}
	wardSvc.SetEventPublisher(events)

	recordSvc := medrecord.NewService(medrecord.NewRepo(pool), patients)

	pharmacySvc := pharmacy.NewService(pharmacy.NewMedicineRepo(pool), pharmacy.NewPrescriptionRepo(pool),
		pharmacy.NewMovementRepo(pool), recordSvc, tx)
	pharmacySvc.SetEventPublisher(events)

	billingSvc := billing.NewService(billing.NewBillRepo(pool), patients, wardSvc, recordSvc, pharmacySvc, tx, grace)
	billingSvc.SetEventPublisher(events)

	return &services{
		identity:  identitySvc,
		ward:      wardSvc,
		medrecord: recordSvc,
		pharmacy:  pharmacySvc,
		billing:   billingSvc,
	}
}

// newEcho builds the echo instance with the global middleware chain.
func newEcho(cfg *config.Config, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderXRequestID},
	}))

	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rl.BurstSize = cfg.RateLimitBurst
	}
	e.Use(middleware.RateLimit(rl))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}
	return e
}

// registerAPI mounts every domain handler under /api/v1 behind authentication.
func registerAPI(e *echo.Echo, cfg *config.Config, logger zerolog.Logger, svcs *services) {
	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.JWTSigningKey),
	}

	api := e.Group("/api/v1")
	if cfg.IsDev() {
		api.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		api.Use(auth.JWTMiddleware(jwtCfg))
	}
	api.Use(middleware.Audit(logger))

	identity.NewHandler(svcs.identity).RegisterRoutes(api)
	ward.NewHandler(svcs.ward).RegisterRoutes(api)
	medrecord.NewHandler(svcs.medrecord).RegisterRoutes(api)
	pharmacy.NewHandler(svcs.pharmacy).RegisterRoutes(api)
	billing.NewHandler(svcs.billing).RegisterRoutes(api)
}
