package http

import (
	"net/http"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/modelgate/backend/internal/config"
	"github.com/modelgate/backend/internal/http/handlers"
	"github.com/modelgate/backend/internal/middleware"
	"github.com/modelgate/backend/internal/rbac"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	metricsHandler http.Handler,
	walletHandler *handlers.WalletHandler,
	userHandler *handlers.UserHandler,
	paymentHandler *handlers.PaymentHandler,
	modelHandler *handlers.ModelHandler,
	auditHandler *handlers.AuditHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:  "*",
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, X-Request-ID, " + handlers.HeaderTransactionHash,
		ExposeHeaders: "X-Request-ID, Retry-After",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "payment_gate_enabled": cfg.GateEnabled})
	})
	if metricsHandler != nil {
		app.Get("/metrics", adaptor.HTTPHandler(metricsHandler))
	}

	api := app.Group("/api/v1")

	// Rate-limited public endpoints
	if rdb != nil {
		api.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMinute, time.Minute))
	}

	// Wallet sign-in (public)
	api.Post("/auth/nonce", walletHandler.IssueNonce)
	api.Post("/auth/wallet", walletHandler.SignIn)

	api.Get("/models/active", modelHandler.GetActive)

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	protected.Get("/me", userHandler.GetMe)

	// Paid operations
	protected.Post("/prediction", middleware.RequirePermission(rbac.PermPredict), paymentHandler.Predict)
	protected.Get("/payment/status", middleware.RequirePermission(rbac.PermViewStatus), paymentHandler.PredictionStatus)
	protected.Get("/models/active/template", middleware.RequirePermission(rbac.PermPredict), paymentHandler.DownloadTemplate)
	protected.Get("/predictions", paymentHandler.ListPredictions)

	protected.Post("/eda/report", middleware.RequirePermission(rbac.PermRunEDA), paymentHandler.EDAReport)
	protected.Get("/eda/payment/status", middleware.RequirePermission(rbac.PermViewStatus), paymentHandler.EDAStatus)

	// Admin
	admin := protected.Group("/admin", middleware.AdminMiddleware(cfg))
	admin.Post("/models", modelHandler.Upload)
	admin.Get("/models", modelHandler.List)
	admin.Post("/models/:id/activate", modelHandler.Activate)
	admin.Get("/audit/:entityType/:entityId", auditHandler.List)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
