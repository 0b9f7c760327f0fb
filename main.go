package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"association-chat/internal/auth"
	"association-chat/internal/config"
	"association-chat/internal/db"
	"association-chat/internal/handlers"
	"association-chat/internal/middleware"
	"association-chat/internal/observability"
	"association-chat/internal/rabbitmq"
	"association-chat/internal/repositories"
	"association-chat/internal/storage"
	"association-chat/internal/telemetry"
	"association-chat/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "read configuration from this YAML file instead of the environment")
	createUser := flag.String("create-user", "", "create a staff account as name:email:password[:role] and exit")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, closer, err := observability.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *createUser != "" {
		if err := runCreateUser(ctx, cfg, *createUser); err != nil {
			logger.WithError(err).Fatal("create user failed")
		}
		logger.Info("staff account created")
		return
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("chat-api stopped")
	}
}

func run(ctx context.Context, cfg config.Server, logger *logrus.Logger) error {
	shutdownTracer, err := observability.InitTracer(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	database, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer database.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	logger.WithFields(logrus.Fields{
		"mode":   rabbitmq.PublisherMode(publisher),
		"reason": rabbitmq.PublisherNoopReason(publisher),
	}).Info("event publisher ready")
	audit := telemetry.NewAuditEmitter(publisher, cfg.AMQP.AuditRouteKey, cfg.Tracing.ServiceName, cfg.Environment, logger)

	users := repositories.NewUserRepo(database)
	messages := repositories.NewMessageRepo(database)
	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	hubOpts := []ws.HubOption{ws.WithAudit(audit), ws.WithLogger(logger)}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		hubOpts = append(hubOpts, ws.WithPresence(ws.NewRedisPresence(rdb)), ws.WithRelay(ws.NewRedisRelay(rdb, logger)))
		logger.WithField("addr", cfg.Redis.Addr).Info("redis fan-out enabled")
	}
	hub := ws.NewHub(messages, hubOpts...)

	var attachments storage.AttachmentStore
	store, err := storage.NewMinioStore(ctx, cfg.Storage)
	switch {
	case err == nil:
		attachments = store
	case errors.Is(err, storage.ErrStorageDisabled):
		logger.Info("attachment storage disabled")
	default:
		return fmt.Errorf("attachment storage: %w", err)
	}

	polling := ws.NewPollingHandler(hub, tokens, cfg.Push.PollWait, cfg.Push.PollIdle, cfg.Push.PollQueue)
	go func() {
		if err := hub.Run(ctx); err != nil {
			logger.WithError(err).Error("push relay stopped")
		}
	}()
	go polling.Run(ctx)

	if cfg.Environment != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	router.Use(observability.RequestID())
	router.Use(observability.AccessLog(logger))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", observability.MetricsHandler())
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	authHandler := handlers.NewAuthHandler(users, tokens, audit)
	router.POST("/auth/login", authHandler.Login)

	chatHandler := handlers.NewChatHandler(users, messages, attachments, audit, cfg.Storage.MaxSizeMB<<20, logger)
	chat := router.Group("/chat", middleware.AuthMiddleware(tokens))
	chat.GET("/conversations", chatHandler.Conversations)
	chat.GET("/staff", chatHandler.Staff)
	chat.GET("/messages/:userId", chatHandler.Messages)
	chat.PUT("/messages/read/:userId", chatHandler.MarkRead)
	chat.GET("/unread/count", chatHandler.UnreadCount)
	chat.POST("/attachments", chatHandler.UploadAttachment)

	wsHandler := ws.NewWebSocketHandler(hub, tokens, cfg.Push.WriteTimeout)
	router.GET("/push/ws", wsHandler.Handle)
	router.POST("/push/poll", polling.Open)
	router.GET("/push/poll/:sid", polling.Poll)
	router.POST("/push/poll/:sid", polling.Emit)
	router.DELETE("/push/poll/:sid", polling.Close)

	debug := router.Group("/", middleware.AuthMiddleware(tokens))
	handlers.RegisterDebugRoutes(debug, hub, audit, cfg.Debug)

	srv := &http.Server{Addr: cfg.Address(), Handler: router}
	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.Address()).Info("chat-api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runCreateUser(ctx context.Context, cfg config.Server, arg string) error {
	user, password, err := parseUserArg(arg)
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	user.PasswordHash = hash

	database, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer database.Close()

	_, err = repositories.NewUserRepo(database).CreateUser(ctx, user)
	return err
}

func loadConfig(path string) (config.Server, error) {
	if path == "" {
		return config.LoadServer()
	}
	var cfg config.Server
	if err := config.LoadFromFile(path, &cfg); err != nil {
		return config.Server{}, fmt.Errorf("read %s: %w", path, err)
	}
	return cfg, nil
}
