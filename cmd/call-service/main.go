package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"callwave-backend/internal/config"
	callHandler "callwave-backend/internal/handler/http/call"
	wsHandler "callwave-backend/internal/handler/ws"
	"callwave-backend/internal/middleware"
	"callwave-backend/internal/presence"
	"callwave-backend/internal/repository/cockroach"
	"callwave-backend/internal/repository/memory"
	callService "callwave-backend/internal/service/call"
	"callwave-backend/internal/service/notification"
	"callwave-backend/pkg/database"
	"callwave-backend/pkg/email"
	"callwave-backend/pkg/jwt"
	"callwave-backend/pkg/logger"
	"callwave-backend/pkg/metrics"
	"callwave-backend/pkg/push"
	"callwave-backend/pkg/token"
)

func main() {
	ctx := context.Background()

	// 1. Configuration and logging
	cfg := config.Load()

	if err := logger.Init(&logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
		if cfg.JWTSecret == "dev-secret" {
			logger.Fatal("JWT_SECRET must be set in production")
		}
	}

	// 2. Session store: CockroachDB with exponential backoff, in-memory
	// fallback for development when the database is unreachable
	var store callService.SessionStore

	db := connectCockroach(ctx, &cfg.DB)
	if db != nil {
		defer db.Close()

		repo := cockroach.NewSessionRepository(db.Pool)
		if err := repo.Migrate(ctx); err != nil {
			logger.Fatal("Failed to run session store migration", zap.Error(err))
		}
		store = repo
	} else {
		if cfg.IsProduction() {
			logger.Fatal("CockroachDB is required in production")
		}
		logger.Warn("Running with in-memory session store; sessions are lost on restart")
		store = memory.NewSessionRepository()
	}

	// 3. Redis for cross-instance event fanout and rate limiting
	var redisDB *database.RedisDB
	if cfg.RedisEnabled {
		var err error
		redisDB, err = database.NewRedisDB(&cfg.Redis)
		if err != nil {
			logger.Warn("Failed to connect to Redis, running single-instance", zap.Error(err))
			redisDB = nil
		} else {
			defer redisDB.Close()
			logger.Info("Connected to Redis",
				zap.String("host", cfg.Redis.Host),
				zap.Int("port", cfg.Redis.Port))
		}
	}

	// 4. Collaborators
	verifier := jwt.NewVerifier(cfg.JWTSecret, cfg.JWTDuration)
	credentials := token.NewProvider(cfg.MediaAppID, cfg.MediaAppSecret)

	var mailer email.Sender
	if cfg.SMTPHost != "" {
		mailer = email.NewSMTPSender(&email.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPass,
			From:     cfg.SMTPFrom,
		})
	} else {
		mailer = &email.MockSender{}
	}

	notifier := notification.NewDispatcher(&push.MockProvider{}, mailer, nil, cfg.AppURL)

	// 5. Core services
	calls := callService.NewService(store, credentials)
	registry := presence.NewRegistry()
	appMetrics := metrics.NewMetrics("call-service")

	var redisClient *redis.Client
	if redisDB != nil {
		redisClient = redisDB.Client
	}
	relay := wsHandler.NewRelay(calls, registry, notifier, appMetrics, redisClient, cfg.AllowedOrigins)

	callHdlr := callHandler.NewHandler(calls, relay)

	// 6. Router
	router := gin.New()
	router.SetTrustedProxies(nil)

	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.AllowedOrigins))
	router.Use(prometheusMiddleware.Handler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "call-service",
			"time":    time.Now().UTC(),
		})
	})
	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	v1 := router.Group("/v1")
	v1.Use(middleware.Auth(verifier))
	if redisDB != nil {
		limiter := middleware.NewRateLimiter(redisDB.Client, cfg.RateLimitRequests, cfg.RateLimitWindow)
		v1.Use(limiter.Middleware())
	}
	{
		sessions := v1.Group("/sessions")
		sessions.POST("", callHdlr.CreateSession)
		sessions.GET("/active", callHdlr.GetActiveSessions)
		sessions.GET("/history", callHdlr.GetHistory)
		sessions.GET("/:id", callHdlr.GetSession)
		sessions.POST("/:id/join", callHdlr.JoinSession)
		sessions.POST("/:id/leave", callHdlr.LeaveSession)
		sessions.POST("/:id/end", callHdlr.EndSession)
		sessions.POST("/:id/cancel", callHdlr.CancelSession)
		sessions.POST("/:id/invite", callHdlr.InviteUsers)
		sessions.POST("/:id/respond", callHdlr.RespondToInvitation)
		sessions.PATCH("/:id/media", callHdlr.UpdateMedia)
		sessions.POST("/:id/messages", callHdlr.SendMessage)
		sessions.GET("/:id/credential", callHdlr.GetCredential)

		v1.GET("/ws", relay.ServeWS)
	}

	// 7. Start server
	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info("Call service starting",
		zap.String("addr", addr),
		zap.String("env", cfg.Env))
	if err := router.Run(addr); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}
}

// connectCockroach dials the database with exponential backoff. Returns nil
// when every attempt fails.
func connectCockroach(ctx context.Context, cfg *database.CockroachConfig) *database.CockroachDB {
	maxRetries := 5
	baseDelay := 1 * time.Second
	maxDelay := 30 * time.Second

	var db *database.CockroachDB
	var err error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		db, err = database.NewCockroachDB(ctx, cfg)
		if err == nil {
			logger.Info("Connected to CockroachDB",
				zap.String("host", cfg.Host),
				zap.Int("attempt", attempt))
			return db
		}

		if attempt < maxRetries {
			delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt-1)))
			if delay > maxDelay {
				delay = maxDelay
			}
			logger.Warn("CockroachDB connection failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("retry_in", delay),
				zap.Error(err))
			time.Sleep(delay)
		}
	}

	logger.Warn("Failed to connect to CockroachDB", zap.Error(err))
	return nil
}
