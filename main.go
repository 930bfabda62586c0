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
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"househub-chat/internal/auth"
	"househub-chat/internal/chat"
	"househub-chat/internal/config"
	"househub-chat/internal/db"
	"househub-chat/internal/health"
	"househub-chat/internal/logger"
	"househub-chat/internal/observability"
	"househub-chat/internal/presence"
	"househub-chat/internal/rabbitmq"
	"househub-chat/internal/repositories"
	"househub-chat/internal/telemetry"
	"househub-chat/internal/ws"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		boot := logger.New(logger.Options{})
		boot.Fatal().Err(err).Msg("failed to load configuration")
	}
	log := logger.New(logger.Options{
		Level:   cfg.LogLevel,
		Pretty:  cfg.IsDevelopment(),
		Service: cfg.Tracing.ServiceName,
	})
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing.Endpoint, cfg.Tracing.ServiceName)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init tracing")
	}

	healthSrv := health.NewServer()
	grpcLis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to listen for grpc")
	}
	go func() {
		if err := healthSrv.Serve(grpcLis); err != nil {
			log.Error().Err(err).Msg("grpc health server error")
		}
	}()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("store", cfg.Store).Msg("failed to open message store")
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, log)
	log.Info().
		Str("mode", rabbitmq.PublisherMode(publisher)).
		Str("reason", rabbitmq.PublisherNoopReason(publisher)).
		Msg("lifecycle event publisher ready")

	typing := presence.NewTracker(cfg.Chat.TypingTTL)
	controller := chat.NewController(
		auth.NewJWTAuthenticator(cfg.JWTSecret),
		chat.NewHub(log),
		store,
		typing,
		log,
		chat.Options{HistoryLimit: cfg.Chat.HistoryLimit},
	)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go typing.Run(sweepCtx, cfg.Chat.TypingSweep, controller.OnTypingExpired)

	chatWS := ws.NewHandler(controller, observability.NewWSEvents(publisher, log), log, cfg.Chat.SendBuffer)

	router := gin.New()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/ws/chat", chatWS.Handle)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": controller.ActiveSessions()})
	})

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()
	healthSrv.SetServing()
	log.Info().Str("port", cfg.Port).Str("grpc_port", cfg.GRPCPort).Str("store", cfg.Store).Msg("chat service started")

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	healthSrv.Stop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	controller.Shutdown()
	stopSweep()
	if err := closeStore(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("close message store")
	}
	if err := publisher.Close(); err != nil {
		log.Error().Err(err).Msg("close publisher")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("flush traces")
	}
}

// openStore connects the configured engine and, when Redis is configured,
// fronts it with the history cache.
func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (repositories.MessageStore, func(context.Context) error, error) {
	var (
		store   repositories.MessageStore
		closers []func(context.Context) error
	)

	switch cfg.Store {
	case config.StorePostgres:
		database, err := db.ConnectPostgres(ctx, cfg.Postgres.DSN, log)
		if err != nil {
			return nil, nil, err
		}
		store = repositories.NewPostgresMessageStore(database)
		closers = append(closers, func(context.Context) error { return database.Close() })
	case config.StoreMemory:
		log.Warn().Msg("using in-memory message store, history is lost on restart")
		store = repositories.NewMemoryMessageStore()
	default:
		client, database, err := db.ConnectMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, nil, err
		}
		mongoStore := repositories.NewMongoMessageStore(database)
		if err := mongoStore.EnsureIndexes(ctx); err != nil {
			log.Warn().Err(err).Msg("could not ensure chat indexes")
		}
		store = mongoStore
		closers = append(closers, client.Disconnect)
	}

	if cfg.Redis.Addr != "" {
		client, err := db.ConnectRedis(ctx, cfg.Redis.Addr, cfg.Redis.DB)
		if err != nil {
			log.Warn().Err(err).Msg("history cache disabled")
		} else {
			store = repositories.NewCachedMessageStore(store, client, cfg.Chat.HistoryLimit, log)
			closers = append(closers, func(context.Context) error { return client.Close() })
		}
	}

	closeAll := func(ctx context.Context) error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i](ctx))
		}
		return errors.Join(errs...)
	}
	return store, closeAll, nil
}
