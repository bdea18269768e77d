package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"marketplace-chat/internal/auth"
	"marketplace-chat/internal/config"
	"marketplace-chat/internal/db"
	"marketplace-chat/internal/grpcserver"
	"marketplace-chat/internal/handlers"
	"marketplace-chat/internal/logging"
	"marketplace-chat/internal/middleware"
	"marketplace-chat/internal/observability"
	"marketplace-chat/internal/rabbitmq"
	"marketplace-chat/internal/repositories"
	"marketplace-chat/internal/service"
	"marketplace-chat/internal/storage"
	"marketplace-chat/internal/telemetry"
	"marketplace-chat/internal/ws"
)

const auditRoutingKey = "audit.chat"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.Telemetry.LogLevel,
		zap.String("service", cfg.Telemetry.ServiceName),
		zap.String("env", cfg.Telemetry.Environment),
	)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.Environment, cfg.Telemetry.OTLPEndpoint, logger)
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open chat store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	logger.Info("chat store ready", zap.String("driver", cfg.Store.Driver))

	publisher := rabbitmq.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, logger)
	observability.SetPublisher(publisher)
	logger.Info("event publisher ready",
		zap.String("mode", rabbitmq.PublisherMode(publisher)),
		zap.String("noop_reason", rabbitmq.PublisherNoopReason(publisher)),
	)
	audit := telemetry.NewAuditEmitter(publisher, auditRoutingKey, cfg.Telemetry.ServiceName, cfg.Telemetry.Environment, logger)

	hub := ws.NewHub(logger)
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		relay := ws.NewRedisRelay(rdb, hub, logger)
		hub.SetRelay(relay)
		go func() {
			if err := relay.Run(ctx); err != nil {
				logger.Error("redis relay stopped", zap.Error(err))
			}
		}()
	}

	var repairs service.RepairQueue
	repairQueue := rabbitmq.NewRepairQueue(publisher, cfg.RabbitMQ.RepairQueue)
	amqpConn := rabbitmq.Connection(publisher)
	if amqpConn != nil {
		if err := rabbitmq.DeclareRepairTopology(amqpConn, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.RepairQueue); err != nil {
			logger.Error("repair queues not declared, partial writes will only be logged", zap.Error(err))
			amqpConn = nil
		} else {
			repairs = repairQueue
		}
	}
	chatService := service.NewChatService(store, hub, repairs, logger)

	if amqpConn != nil {
		consumer := rabbitmq.NewRepairConsumer(amqpConn, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.RepairQueue, chatService, repairQueue, logger)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Error("repair consumer stopped", zap.Error(err))
			}
		}()
	}

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)
	files := storage.NewLocalFileStore(cfg.Uploads.Dir, cfg.Uploads.URLPrefix, logger)
	chatHandler := handlers.NewChatHandler(chatService, files, audit, logger)
	chatWS := ws.NewChatWebSocketHandler(hub, chatService, verifier, logger)

	if cfg.Telemetry.Environment != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.Static(cfg.Uploads.URLPrefix, files.Dir())

	authMiddleware := middleware.AuthMiddleware(verifier)
	chats := router.Group("/chats", authMiddleware)
	chats.GET("", chatHandler.ListSessions)
	chats.POST("/messages", chatHandler.SendMessage)
	chats.PUT("/:userName/:counterpart/seen", chatHandler.MarkSeen)
	chats.GET("/:userName/:counterpart/messages", chatHandler.GetMessages)

	router.GET("/ws", chatWS.Handle)
	handlers.RegisterDebugRoutes(router, audit, cfg.Server.DebugRoutes)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	var grpcSrv *grpcserver.Server
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			logger.Fatal("failed to listen for grpc", zap.String("addr", cfg.GRPC.Addr), zap.Error(err))
		}
		server := grpcserver.New(logger)
		grpcSrv = server
		go func() {
			logger.Info("grpc server listening", zap.String("addr", cfg.GRPC.Addr))
			if err := server.Serve(lis); err != nil {
				logger.Error("grpc server stopped", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	if grpcSrv != nil {
		grpcSrv.Shutdown()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if err := publisher.Close(); err != nil {
		logger.Warn("publisher close failed", zap.Error(err))
	}
	if err := closeStore(shutdownCtx); err != nil {
		logger.Warn("store close failed", zap.Error(err))
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown failed", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repositories.ChatStore, func(context.Context) error, error) {
	switch cfg.Store.Driver {
	case config.StoreMemory:
		return repositories.NewMemoryChatStore(), func(context.Context) error { return nil }, nil
	case config.StoreMongo:
		client, database, err := db.ConnectMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database, logger)
		if err != nil {
			return nil, nil, err
		}
		return repositories.NewMongoChatStore(database), client.Disconnect, nil
	default:
		database, err := db.Connect(cfg.Postgres.DSN, logger)
		if err != nil {
			return nil, nil, err
		}
		return repositories.NewPostgresChatStore(database), func(context.Context) error { return database.Close() }, nil
	}
}
