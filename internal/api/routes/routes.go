// Package routes wires Fiber route groups to handlers: the admin
// dashboard's /admin/v1 surface (JWT-protected), the payment gateway's
// /webhook sink and the per-bot /telegram/:token sink (both
// unauthenticated by design — the IPN is protected by its own HMAC
// signature and the Telegram sink by its unguessable bot token segment).
// Route groups follow the usual Fiber shape: global middleware plus
// grouped sub-routers, protected routes wrapped in AdminAuth/RequirePrimary.
package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/dropbot/backend/internal/adminweb"
	"github.com/dropbot/backend/internal/api/handlers"
	"github.com/dropbot/backend/internal/api/middleware"
	"github.com/dropbot/backend/pkg/logger"
	"github.com/dropbot/backend/pkg/redisclient"
)

// Handlers holds every HTTP handler routes.Setup mounts.
type Handlers struct {
	AdminAuth *handlers.AdminAuthHandler
	Admin     *handlers.AdminHandler
	Webhook   *handlers.WebhookHandler
	Telegram  *handlers.TelegramHandler
}

// Config holds route configuration.
type Config struct {
	RateLimiter *redisclient.RateLimiter
	Log         *logger.Logger
	AdminAuth   middleware.AdminAuthConfig
	Handlers    *Handlers
	EventsHub   *adminweb.Hub // nil disables the live feed route
}

// Setup mounts every route group onto app.
func Setup(app *fiber.App, cfg *Config) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	// Payment gateway IPN — unauthenticated (HMAC-verified inside the
	// handler), but rate-limited by source IP against abuse.
	app.Post("/webhook", middleware.RateLimit(middleware.RateLimitConfig{
		Limiter: cfg.RateLimiter, MaxRequests: 120, WindowSeconds: 60, KeyPrefix: "webhook",
	}), cfg.Handlers.Webhook.Handle)

	// Per-bot Telegram update sink — unauthenticated (the token segment
	// in the path is the secret), rate-limited per source IP.
	app.Post("/telegram/:token", middleware.RateLimit(middleware.RateLimitConfig{
		Limiter: cfg.RateLimiter, MaxRequests: 120, WindowSeconds: 60, KeyPrefix: "telegram",
	}), cfg.Handlers.Telegram.Handle)

	admin := app.Group("/admin/v1")
	admin.Post("/auth/login", cfg.Handlers.AdminAuth.Login)

	authed := admin.Group("", middleware.AdminAuth(cfg.AdminAuth), middleware.RateLimit(middleware.RateLimitConfig{
		Limiter: cfg.RateLimiter, MaxRequests: 300, WindowSeconds: 60, KeyPrefix: "admin",
	}))
	setupAdminRoutes(authed, cfg)

	if cfg.EventsHub != nil {
		wsHandler := adminweb.NewHandler(cfg.EventsHub, cfg.Log)
		authed.Get("/ws/events", wsHandler.Upgrade())
	}
}

// setupAdminRoutes mounts the catalog/discount/reseller/user/recovery
// surface. Mutations that change catalog or discount state, moderate a
// user, or drive recovery are reserved to primary administrators;
// read-only routes and broadcast are open to any admin on the allow-list.
func setupAdminRoutes(router fiber.Router, cfg *Config) {
	h := cfg.Handlers.Admin

	products := router.Group("/products")
	products.Get("/", h.ListProducts)
	products.Post("/", middleware.RequirePrimary(), h.CreateProduct)
	products.Patch("/:id/price", middleware.RequirePrimary(), h.UpdatePrice)
	products.Patch("/:id/available", middleware.RequirePrimary(), h.AdjustAvailable)
	products.Delete("/:id", middleware.RequirePrimary(), h.DeleteProduct)

	discounts := router.Group("/discounts")
	discounts.Get("/", h.ListDiscountCodes)
	discounts.Post("/", middleware.RequirePrimary(), h.CreateDiscountCode)
	discounts.Patch("/:code/active", middleware.RequirePrimary(), h.SetCodeActive)

	resellers := router.Group("/resellers/:user_id/rules")
	resellers.Get("/", h.ListResellerRules)
	resellers.Put("/", middleware.RequirePrimary(), h.UpsertResellerRule)

	users := router.Group("/users")
	users.Get("/:id", h.GetUser)
	users.Patch("/:id/banned", middleware.RequirePrimary(), h.SetBanned)
	users.Patch("/:id/reseller", middleware.RequirePrimary(), h.SetReseller)

	router.Post("/recover", middleware.RequirePrimary(), h.ManualRecover)
	router.Post("/broadcast", h.Broadcast)
	router.Get("/stats", h.Stats)
}
