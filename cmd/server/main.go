package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"rocket-cms/internal/admin"
	"rocket-cms/internal/auth"
	"rocket-cms/internal/authz"
	"rocket-cms/internal/config"
	"rocket-cms/internal/content"
	"rocket-cms/internal/instrument"
	"rocket-cms/internal/logger"
	"rocket-cms/internal/metadata"
	"rocket-cms/internal/store"
)

func main() {
	if err := run(); err != nil {
		logger.Error("server stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.Log.Level); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck
	logger.Info("config loaded",
		zap.Int("port", cfg.Server.Port),
		zap.String("driver", cfg.Database.Driver),
		zap.String("database", cfg.Database.Name),
	)

	if cfg.JWTSecret == "changeme-secret" {
		logger.Warn("jwt_secret is the default value, set JWT_SECRET before exposing the server")
	}

	// 2. Connect to database
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	// 3. Bootstrap system tables and the super admin
	if err := db.Bootstrap(ctx, cfg.Admin); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	// 4. Load content types and roles
	reg := metadata.NewRegistry()
	if err := metadata.LoadAll(ctx, db, reg); err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	// 5. Authorization engine
	conditions := authz.NewConditionRegistry()
	opts := []authz.Option{authz.WithLogger(logger.WithModule("authz"))}
	if cfg.Metrics.Enabled {
		m, err := authz.NewMetrics(prometheus.DefaultRegisterer)
		if err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		opts = append(opts, authz.WithMetrics(m))
	}
	engine := authz.NewEngine(reg, conditions, opts...)

	// 6. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: content.ErrorHandler,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	// 7. Instrumentation
	if cfg.Instrumentation.Enabled {
		buffer := instrument.NewEventBuffer(db.DB, db.Dialect, cfg.Instrumentation.BufferSize, cfg.Instrumentation.FlushIntervalMs)
		defer buffer.Stop()
		app.Use(instrument.Middleware(cfg.Instrumentation, buffer))
		instrument.StartCleanup(ctx, db.DB, db.Dialect, cfg.Instrumentation.RetentionDays, time.Hour)
	}

	// 8. Health check and metrics
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if cfg.Metrics.Enabled {
		app.Get(cfg.Metrics.Path, adaptor.HTTPHandler(promhttp.Handler()))
	}

	// 9. Auth routes (no auth required)
	tokens := auth.NewTokens(cfg.JWTSecret, cfg.Auth)
	auth.RegisterAuthRoutes(app, auth.NewAuthHandler(db, tokens))

	authMW := auth.AuthMiddleware(tokens, db)
	adminMW := auth.RequireAdmin()

	// 10. Admin routes (auth + super admin)
	admin.RegisterAdminRoutes(app, admin.NewHandler(db, reg, conditions), authMW, adminMW)

	// 11. Content manager routes (auth required)
	content.RegisterRoutes(app, content.NewHandler(db, reg, engine, cfg.Content), authMW)

	// 12. Start server
	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		_ = app.ShutdownWithTimeout(10 * time.Second)
	}()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("starting server", zap.String("addr", addr))
	return app.Listen(addr)
}
