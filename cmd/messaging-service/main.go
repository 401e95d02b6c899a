package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"clinichub-backend/internal/bus"
	"clinichub-backend/internal/database"
	adminHandler "clinichub-backend/internal/handler/http/admin"
	messagingHandler "clinichub-backend/internal/handler/http/messaging"
	wsHandler "clinichub-backend/internal/handler/ws"
	"clinichub-backend/internal/middleware"
	"clinichub-backend/internal/presence"
	"clinichub-backend/internal/repository/mongodb"
	messagingService "clinichub-backend/internal/service/messaging"
	storageService "clinichub-backend/internal/service/storage"
	verificationService "clinichub-backend/internal/service/verification"
	"clinichub-backend/pkg/env"
	"clinichub-backend/pkg/jwt"
	"clinichub-backend/pkg/logger"
	"clinichub-backend/pkg/metrics"
)

func main() {
	logger.InitDefault()
	defer logger.Sync()

	// 1. JWT manager
	jwtSecret := env.GetStringFromFile("JWT_SECRET", "")
	if jwtSecret == "" {
		logger.Fatal("JWT_SECRET environment variable is required")
	}
	if len(jwtSecret) < 32 {
		logger.Fatal("JWT_SECRET must be at least 32 characters")
	}
	jwtManager := jwt.NewJWTManager(jwtSecret, env.GetDuration("JWT_TOKEN_DURATION", 15*time.Minute))

	ctx := context.Background()

	// 2. MongoDB
	mongoConfig := &database.MongoConfig{
		URI:         env.GetStringFromFile("MONGO_URI", "mongodb://localhost:27017"),
		Database:    env.GetString("MONGO_DATABASE", "clinichub"),
		MaxPoolSize: uint64(env.GetInt("MONGO_MAX_POOL_SIZE", 100)),
		Timeout:     10 * time.Second,
	}
	mongoDB, err := database.NewMongoDB(ctx, mongoConfig)
	if err != nil {
		logger.Fatal("failed to connect to MongoDB", zap.Error(err))
	}
	defer mongoDB.Close(context.Background())
	logger.Info("connected to MongoDB", zap.String("database", mongoConfig.Database))

	// 3. Redis (cross-context event store)
	redisConfig := &database.RedisConfig{
		Host:     env.GetString("REDIS_HOST", "localhost"),
		Port:     env.GetInt("REDIS_PORT", 6379),
		Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
		DB:       0,
		PoolSize: 10,
		Timeout:  5 * time.Second,
	}
	redisDB, err := database.NewRedisDB(ctx, redisConfig)
	if err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer redisDB.Close()
	logger.Info("connected to Redis")

	// 4. Repositories
	messageRepo := mongodb.NewMessageRepository(mongoDB.DB)
	userRepo := mongodb.NewUserRepository(mongoDB.DB)
	if err := messageRepo.EnsureIndexes(ctx); err != nil {
		logger.Fatal("failed to ensure message indexes", zap.Error(err))
	}

	// 5. Metrics
	appMetrics := metrics.NewMetrics("messaging-service")
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	// 6. Presence registry and WebSocket hub
	registry := presence.NewRegistry()
	chatHub := wsHandler.NewChatHub(registry, jwtManager, appMetrics, logger.Log)

	// 7. Cross-context event bus
	eventStore := bus.NewRedisStore(redisDB.Client, logger.Log)
	eventBus := bus.NewBus(bus.Config{
		Store:   eventStore,
		Metrics: appMetrics,
		Logger:  logger.Log,
	})
	busCtx, stopBus := context.WithCancel(context.Background())
	go eventBus.Run(busCtx)
	defer func() {
		stopBus()
		eventStore.Close()
	}()

	// 8. Optional blob storage for file messages
	var attachmentSvc *storageService.Service
	if endpoint := env.GetString("MINIO_ENDPOINT", ""); endpoint != "" {
		minioClient, err := storageService.NewMinioClient(
			endpoint,
			env.GetStringFromFile("MINIO_ACCESS_KEY", ""),
			env.GetStringFromFile("MINIO_SECRET_KEY", ""),
			env.GetString("MINIO_USE_SSL", "true") == "true",
			logger.Log,
		)
		if err != nil {
			logger.Fatal("failed to create MinIO client", zap.Error(err))
		}
		bucket := env.GetString("MINIO_BUCKET", "clinichub-attachments")
		if err := minioClient.EnsureBucket(ctx, bucket); err != nil {
			logger.Fatal("failed to ensure attachment bucket", zap.Error(err))
		}
		attachmentSvc = storageService.NewService(
			minioClient,
			bucket,
			env.GetString("MINIO_PUBLIC_URL", "https://"+endpoint),
			logger.Log,
		)
		logger.Info("attachment storage enabled", zap.String("bucket", bucket))
	} else {
		logger.Warn("MINIO_ENDPOINT not set, file messages disabled")
	}

	// 9. Services
	messagingSvc := messagingService.NewService(messageRepo, userRepo, registry, chatHub, appMetrics)
	verificationSvc := verificationService.NewService(userRepo, eventBus, logger.Log)

	// 10. Handlers
	messagingHdlr := messagingHandler.NewHandler(messagingSvc, attachmentSvc, registry)
	adminHdlr := adminHandler.NewHandler(verificationSvc)

	// 11. Router
	if env.GetString("ENV", "development") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.SetTrustedProxies(nil)

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware())
	router.Use(prometheusMiddleware.Handler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "messaging-service",
			"time":    time.Now().UTC(),
		})
	})
	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	v1 := router.Group("/v1")
	adminHdlr.RegisterPublicRoutes(v1)

	// Authentication for the WebSocket endpoint is in-band, so it sits
	// outside the auth middleware.
	v1.GET("/ws/chat", chatHub.ServeWS)

	// The rate limiter runs after authentication so its per-user keying
	// sees the verified principal id.
	rateLimiter := middleware.NewRateLimiter(
		redisDB.Client,
		env.GetInt("RATE_LIMIT_REQUESTS", 300),
		env.GetDuration("RATE_LIMIT_WINDOW", time.Minute),
	)

	authed := v1.Group("")
	authed.Use(middleware.AuthMiddleware(jwtManager))
	authed.Use(rateLimiter.Middleware())
	messagingHdlr.RegisterRoutes(authed)

	adminOnly := authed.Group("/admin")
	adminOnly.Use(middleware.RequireRole("admin"))
	adminHdlr.RegisterAdminRoutes(adminOnly)

	// 12. Start server with graceful shutdown
	port := env.GetString("PORT", "8082")
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", port),
		Handler: router,
	}

	go func() {
		logger.Info("messaging service starting", zap.String("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}
