package main

import (
	"github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/compassdigitalnl/compassdigital-cms-sub009/internal/billing"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/internal/cluster"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/internal/envsync"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/internal/handler"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/internal/middleware"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/internal/provider"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/internal/provision"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/internal/tenant"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/pkg/config"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/pkg/database"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/pkg/jwtutil"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/pkg/logger"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/prometheus"
)

func main() {
	// Load configuration from .env file and environment variables
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger with config
	logger.InitLogger(cfg)
	log := logger.GetLogger()
	log.Info("Starting provisioner service...", cfg.LogConfig()...)

	// Initialize platform database
	if err := database.InitDB(cfg); err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	log.Info("Platform database connection established")

	// Initialize JWT utility
	jwtutil.Initialize(&cfg.JWT)
	log.Info("JWT utility initialized")

	// Redis backs the per-client provisioning lock and the tenant route cache
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Tenant database cluster control plane
	clusterProvisioner, err := cluster.NewProvisioner(cfg.Cluster, log)
	if err != nil {
		log.Fatal("Failed to connect to database cluster", zap.Error(err))
	}
	defer clusterProvisioner.Close()
	log.Info("Database cluster connection established")

	// Hosting provider adapters; choice per client is configuration, not code
	providers := provider.NewRegistry(
		provider.NewPloiClient(cfg.Ploi, log),
		provider.NewVercelClient(cfg.Vercel, log),
	)

	// Core components
	store := provision.NewGormStore(database.GetDB())
	locker := provision.NewRedisLocker(redisClient)
	orchestrator := provision.NewOrchestrator(store, clusterProvisioner, providers, locker, log)
	synchronizer := envsync.NewSynchronizer(providers, log)
	reconciler := billing.NewReconciler(billing.NewGormStore(database.GetDB()), log)
	resolver := tenant.NewResolver(database.GetDB(), redisClient, log)

	handler.Initialize(orchestrator, synchronizer, reconciler, resolver)

	// Initialize Echo framework
	e := echo.New()

	// Apply global middleware - order matters
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(middleware.RequestIDMiddleware)
	e.Use(logger.Middleware(log))
	e.Use(prometheus.MetricsMiddleware())

	// Public routes - no authentication required
	e.GET("/health", handler.HealthCheck)
	e.GET("/metrics", handler.MetricsHandler)

	// Payment webhooks: authenticated by transaction identity, always acked
	e.POST("/webhooks/:provider", handler.PaymentWebhook)

	// API routes - admin JWT or shared service key
	api := e.Group("/api")
	api.Use(middleware.AuthMiddleware(cfg.Auth.ServiceKey))

	clients := api.Group("/clients")
	clients.POST("", handler.CreateClient)
	clients.GET("", handler.ListClients)
	clients.GET("/:id", handler.GetClient)
	clients.POST("/:id/provision", handler.ProvisionClient)
	clients.POST("/:id/features/sync", handler.SyncFeatures)
	clients.PATCH("/:id/features", handler.UpdateFeatures)
	clients.POST("/:id/suspend", handler.SuspendClient)
	clients.POST("/:id/reactivate", handler.ReactivateClient)
	clients.DELETE("/:id", handler.DeleteClient)

	// Internal routes for sidecar tenant resolution
	internal := e.Group("/internal")
	internal.Use(middleware.AuthMiddleware(cfg.Auth.ServiceKey))
	internal.GET("/resolve", handler.ResolveTenant)

	// Tenant data plane: requests arrive on the client's hostname and get the
	// resolved tenant identity injected before handling
	tenantGroup := e.Group("/t")
	tenantGroup.Use(middleware.TenantContextMiddleware(resolver))
	tenantGroup.GET("/context", handler.TenantContext)

	// Start server
	port := cfg.Server.Port
	log.Info("Starting server", zap.String("port", port))
	if err := e.Start(":" + port); err != nil {
		log.Fatal("Failed to start server", zap.Error(err))
	}
}
