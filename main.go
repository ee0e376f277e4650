package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"ephemeral-chat/internal/config"
	"ephemeral-chat/internal/db"
	"ephemeral-chat/internal/feed"
	"ephemeral-chat/internal/grpcserver"
	"ephemeral-chat/internal/handlers"
	"ephemeral-chat/internal/lifecycle"
	"ephemeral-chat/internal/logger"
	"ephemeral-chat/internal/middleware"
	"ephemeral-chat/internal/observability"
	"ephemeral-chat/internal/paramstore"
	"ephemeral-chat/internal/rabbitmq"
	"ephemeral-chat/internal/repositories"
	"ephemeral-chat/internal/telemetry"
	"ephemeral-chat/internal/translation"
)

func main() {
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	zlog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Tracing.Endpoint, cfg.Tracing.ServiceName)
	if err != nil {
		zlog.Fatal("failed to init tracer", zap.Error(err))
	}

	if cfg.Auth.JWTSecret == "" {
		zlog.Fatal("auth.jwtsecret must be set")
	}
	verifier := middleware.NewHMACVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	database, err := db.Connect(cfg.DB.DSN, zlog)
	if err != nil {
		zlog.Fatal("failed to connect to db", zap.Error(err))
	}
	defer database.Close()

	messageRepo := repositories.NewMessageRepo(database)
	deletionRepo := repositories.NewDeletionRepo(database)
	participantRepo := repositories.NewParticipantRepo(database)

	auditPublisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.AuditExchange, zlog)
	defer auditPublisher.Close()
	observability.SetPublisher(auditPublisher)
	auditEmitter := telemetry.NewAuditEmitter(auditPublisher, cfg.AMQP.AuditRouting, "ephemeral-chat", cfg.Server.Environment, zlog)
	zlog.Info("audit publisher ready",
		zap.String("mode", rabbitmq.PublisherMode(auditPublisher)),
		zap.String("noop_reason", rabbitmq.PublisherNoopReason(auditPublisher)),
	)

	hub := feed.NewHub(zlog)
	var broker feed.Broker = feed.NewLocalBroker(hub)
	if cfg.AMQP.URL != "" {
		amqpBroker, err := feed.DialAMQPBroker(cfg.AMQP.URL, cfg.AMQP.FeedExchange, hub, zlog)
		if err != nil {
			zlog.Warn("feed broker falls back to local delivery", zap.Error(err))
		} else {
			defer amqpBroker.Close()
			broker = amqpBroker
			go func() {
				if err := amqpBroker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					zlog.Error("feed consumer stopped", zap.Error(err))
				}
			}()
		}
	}

	translations := newTranslationCache(ctx, cfg, zlog)

	service := lifecycle.NewService(messageRepo, deletionRepo, participantRepo, broker,
		lifecycle.TTLBounds{
			Default: cfg.Lifecycle.DefaultTTL,
			Min:     cfg.Lifecycle.MinTTL,
			Max:     cfg.Lifecycle.MaxTTL,
		},
		zlog,
		lifecycle.WithAuditor(auditEmitter),
		lifecycle.WithEvictor(translations),
		lifecycle.WithLanguageDetector(translation.Detect),
	)

	sweeper := lifecycle.NewSweeper(messageRepo, deletionRepo, broker, auditEmitter, cfg.Sweep.Interval, cfg.Sweep.BatchSize, zlog,
		lifecycle.WithSweepEvictor(translations))
	go sweeper.Run(ctx)

	var translator handlers.Translator
	if svc := newTranslationService(ctx, cfg, service, translations, zlog); svc != nil {
		translator = svc
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	router.Use(middleware.RequestID())
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		if err := database.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	feedHandler := feed.NewHandler(hub, service, verifier, zlog)
	router.GET("/ws/conversations/:conversation_id", feedHandler.Handle)

	api := router.Group("/", middleware.AuthMiddleware(verifier))
	handlers.NewConversationHandler(service, translator).Register(api)
	handlers.RegisterDebugRoutes(api, auditEmitter, cfg.Server.DebugRoutes)

	grpcSrv := grpcserver.New(zlog)
	lis, err := net.Listen("tcp", ":"+cfg.GRPC.Port)
	if err != nil {
		zlog.Fatal("failed to listen for grpc", zap.Error(err))
	}
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			zlog.Error("grpc server stopped", zap.Error(err))
		}
	}()

	httpSrv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: router}
	go func() {
		zlog.Info("http server listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server error", zap.Error(err))
		}
	}()
	grpcSrv.SetServing(true)

	<-ctx.Done()
	zlog.Info("shutting down")
	grpcSrv.SetServing(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("http shutdown", zap.Error(err))
	}
	grpcSrv.Stop()
	if err := shutdownTracer(shutdownCtx); err != nil {
		zlog.Warn("tracer shutdown", zap.Error(err))
	}
}

// newTranslationService returns nil when no translation backend is configured.
func newTranslationService(ctx context.Context, cfg *config.Config, messages translation.MessageSource, cache translation.Cache, zlog *zap.Logger) *translation.Service {
	if cfg.Translation.BaseURL == "" {
		zlog.Info("translation disabled", zap.String("reason", "empty base url"))
		return nil
	}

	opts := []translation.Option{translation.WithTimeout(cfg.Translation.Timeout)}
	switch {
	case cfg.Translation.APIKey != "":
		opts = append(opts, translation.WithAPIKey(cfg.Translation.APIKey))
	case cfg.Translation.ParamPrefix != "":
		store, err := paramstore.NewFromEnvironment(ctx)
		if err != nil {
			zlog.Warn("parameter store unavailable, translation runs without api key", zap.Error(err))
		} else {
			opts = append(opts, translation.WithParamStoreKey(store, cfg.Translation.ParamPrefix))
		}
	}
	client, err := translation.NewClient(cfg.Translation.BaseURL, opts...)
	if err != nil {
		zlog.Warn("translation disabled", zap.Error(err))
		return nil
	}

	return translation.NewService(messages, client, cache, zlog)
}

// newTranslationCache prefers redis and falls back to process memory.
func newTranslationCache(ctx context.Context, cfg *config.Config, zlog *zap.Logger) translation.Cache {
	if cfg.Redis.Addr == "" {
		return translation.NewMemoryCache()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		zlog.Warn("redis unavailable, using in-process translation cache", zap.Error(err))
		_ = rdb.Close()
		return translation.NewMemoryCache()
	}
	return translation.NewRedisCache(rdb, cfg.Translation.CacheTTL)
}
