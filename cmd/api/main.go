// Command api is the single entry point for the service: it owns the Fiber
// HTTP surface (admin dashboard, payment webhook, per-bot Telegram sinks)
// and every background goroutine (BotFleet health/failover, JobScheduler's
// periodic jobs, the finalizer's retry queue, the admin live feed), all in
// one process.
//
// A three-binary split — separate API gateway, alert engine and
// notification worker processes — works when those processes share no
// in-process mutable state and only talk to each other through
// Postgres/Redis. It doesn't work here: BotFleet's transport registry and
// failover mutex, and the finalizer's retry queue, are in-memory state a
// second process cannot see. Running two copies of BotFleet would
// double-register Telegram webhooks and let each process fail over
// independently into an inconsistent view of which bot token is live. So
// every concern that might otherwise be its own binary is instead its own
// set of goroutines inside this one process.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/dropbot/backend/internal/adminauth"
	"github.com/dropbot/backend/internal/adminflow"
	"github.com/dropbot/backend/internal/adminweb"
	"github.com/dropbot/backend/internal/api/handlers"
	"github.com/dropbot/backend/internal/api/middleware"
	"github.com/dropbot/backend/internal/api/routes"
	"github.com/dropbot/backend/internal/botconv"
	"github.com/dropbot/backend/internal/botfleet"
	"github.com/dropbot/backend/internal/catalog"
	"github.com/dropbot/backend/internal/discount"
	"github.com/dropbot/backend/internal/finalize"
	"github.com/dropbot/backend/internal/payment"
	"github.com/dropbot/backend/internal/priceoracle"
	"github.com/dropbot/backend/internal/repository"
	"github.com/dropbot/backend/internal/reservation"
	"github.com/dropbot/backend/internal/scheduler"
	"github.com/dropbot/backend/pkg/config"
	"github.com/dropbot/backend/pkg/database"
	"github.com/dropbot/backend/pkg/logger"
	"github.com/dropbot/backend/pkg/redisclient"
	"github.com/dropbot/backend/pkg/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logger.New(cfg.Server.Env)
	log.Info("starting api",
		slog.String("env", cfg.Server.Env),
		slog.String("port", cfg.Server.Port),
		slog.Int("bots", len(cfg.Bots.PrimaryTokens)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, database.PostgresConfig{
		URL:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		log.Error("failed to connect to postgres", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()
	log.Info("connected to PostgreSQL")

	redisClient, err := redisclient.NewClient(ctx, redisclient.Config{
		URL:      cfg.Redis.URL,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Error("failed to connect to redis", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer redisClient.Close()
	log.Info("connected to Redis")

	v := validator.New()
	rateLimiter := redisclient.NewRateLimiter(redisClient)

	// Repositories
	products := repository.NewProductRepository(pool)
	baskets := repository.NewBasketRepository(pool)
	deposits := repository.NewPendingDepositRepository(pool)
	discountRepo := repository.NewDiscountRepository(pool)
	users := repository.NewUserRepository(pool)
	purchases := repository.NewPurchaseRepository(pool)
	adminLogs := repository.NewAdminLogRepository(pool)

	// Catalog and pricing
	cat := catalog.New(products)
	if err := cat.Refresh(ctx); err != nil {
		log.Error("initial catalog refresh failed", slog.String("error", err.Error()))
	}

	oracle := priceoracle.New(redisClient, log,
		priceoracle.NewRPCProvider(cfg.Price.RPCURL),
		priceoracle.NewCoinGeckoProvider(""),
		priceoracle.NewNOWPaymentsEstimateProvider(cfg.NOWPayments.APIURL, cfg.NOWPayments.APIKey),
	)
	oracle.RefreshAll(ctx, priceoracle.SupportedCryptos)

	// Core domain engines
	resEngine := reservation.New(pool, products, baskets, deposits, adminLogs, log, cfg.Basket.Timeout)
	discounts := discount.New(discountRepo)
	gateway := payment.New(cfg.NOWPayments.APIURL, cfg.NOWPayments.APIKey, cfg.NOWPayments.IPNSecret)

	// BotFleet owns every outbound Telegram call; it also satisfies
	// finalize.Notifier and botconv.Replier, so it's constructed before
	// both and handed to each.
	fleet := botfleet.New(cfg, log)

	finalizer := finalize.New(pool, deposits, users, products, purchases, adminLogs, resEngine, discounts, oracle, fleet, log)

	flows := adminflow.NewStore()
	router := botconv.New(cfg, cat, users, products, deposits, discountRepo, resEngine, discounts, gateway, oracle, flows, finalizer, fleet, log, cfg.Bots.WebhookURL)

	eventsHub := adminweb.NewHub(log)
	go eventsHub.Run(ctx)

	adminAuthSvc := adminauth.New(cfg.JWT.Secret, cfg.JWT.Expiry)

	sched := scheduler.New(resEngine, deposits, discountRepo, products, oracle, finalizer, cat, nil, log)

	// Handlers
	adminAuthHandler := handlers.NewAdminAuthHandler(cfg, adminAuthSvc, primaryBotToken(cfg), v)
	adminHandler := handlers.NewAdminHandler(products, discountRepo, users, cat, finalizer, fleet, eventsHub, v, log)
	webhookHandler := handlers.NewWebhookHandler(gateway, finalizer, log)
	telegramHandler := handlers.NewTelegramHandler(fleet, router, log)

	app := fiber.New(fiber.Config{
		AppName:               "dropbot api",
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		IdleTimeout:           120 * time.Second,
		DisableStartupMessage: cfg.IsProduction(),
	})

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Logging(middleware.LoggingConfig{
		Logger:        log,
		SkipPaths:     []string{"/health"},
		SlowThreshold: 500 * time.Millisecond,
	}))
	app.Use(cors.New(cors.Config{
		AllowOriginsFunc: func(origin string) bool {
			if cfg.IsProduction() {
				return origin == "https://web.telegram.org" || origin == "https://telegram.org"
			}
			return true
		},
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		AllowCredentials: true,
	}))

	routes.Setup(app, &routes.Config{
		RateLimiter: rateLimiter,
		Log:         log,
		AdminAuth:   middleware.AdminAuthConfig{Auth: adminAuthSvc, Logger: log},
		Handlers: &routes.Handlers{
			AdminAuth: adminAuthHandler,
			Admin:     adminHandler,
			Webhook:   webhookHandler,
			Telegram:  telegramHandler,
		},
		EventsHub: eventsHub,
	})

	// Background goroutines: BotFleet's health/failover loop and
	// JobScheduler's periodic jobs, and the finalizer's own retry-queue
	// drain loop. All three share ctx, so a single cancel stops them
	// together with the HTTP server below.
	fleet.Start(ctx)
	sched.Start(ctx)
	go finalizer.Run(ctx)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down...")
		cancel()
		sched.Wait()

		if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Error("server shutdown error", slog.String("error", err.Error()))
		}
	}()

	log.Info("server starting", slog.String("addr", ":"+cfg.Server.Port))
	if err := app.Listen(":" + cfg.Server.Port); err != nil {
		log.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// primaryBotToken returns the first configured primary bot token, the one
// whose Mini App is presumed to front the admin dashboard login.
func primaryBotToken(cfg *config.Config) string {
	if len(cfg.Bots.PrimaryTokens) == 0 {
		return ""
	}
	return cfg.Bots.PrimaryTokens[0]
}
