package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-session/internal/auth"
	"chat-session/internal/composer"
	"chat-session/internal/config"
	"chat-session/internal/db"
	"chat-session/internal/directory"
	"chat-session/internal/events"
	grpcserver "chat-session/internal/grpc"
	"chat-session/internal/handlers"
	"chat-session/internal/middleware"
	"chat-session/internal/observability"
	"chat-session/internal/presence"
	"chat-session/internal/profiles"
	"chat-session/internal/rabbitmq"
	"chat-session/internal/repositories"
	"chat-session/internal/repositories/memstore"
	"chat-session/internal/session"
	"chat-session/internal/storage"
	"chat-session/internal/stream"
	"chat-session/internal/telemetry"
	"chat-session/internal/ws"
)

const healthCheckInterval = 30 * time.Second

// Stores bundles the directory store contracts.
type Stores struct {
	Chats    repositories.ChatRepository
	Messages repositories.MessageRepository
	Profiles repositories.ProfileRepository
}

// App is the wired service.
type App struct {
	cfg *config.Config
	log zerolog.Logger

	database  *sqlx.DB
	listener  *events.PGListener
	hub       *events.Hub
	stores    Stores
	publisher rabbitmq.Publisher
	health    *grpcserver.HealthServer
	sweeper   *presence.Sweeper

	Presence *presence.Manager
	Router   *gin.Engine
}

// OpenStores connects the configured directory store. For postgres the schema
// is migrated and insert notifications are bridged into hub.
func OpenStores(ctx context.Context, cfg *config.Config, hub *events.Hub, log zerolog.Logger) (Stores, *sqlx.DB, *events.PGListener, error) {
	if cfg.StoreDriver == "memory" {
		store := memstore.New(hub)
		log.Warn().Msg("using in-memory directory store; data is lost on restart")
		return Stores{Chats: store, Messages: store, Profiles: store}, nil, nil, nil
	}

	database, err := db.Connect(ctx, cfg.DatabaseDSN)
	if err != nil {
		return Stores{}, nil, nil, err
	}
	if err := db.Migrate(ctx, database, cfg.NotifyChannel, log); err != nil {
		_ = database.Close()
		return Stores{}, nil, nil, err
	}
	stores := Stores{
		Chats:    repositories.NewChatRepo(database),
		Messages: repositories.NewMessageRepo(database),
		Profiles: repositories.NewProfileRepo(database),
	}
	return stores, database, events.NewPGListener(cfg.DatabaseDSN, cfg.NotifyChannel, hub, log), nil
}

// New wires every component.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	hub := events.NewHub(log)
	stores, database, listener, err := OpenStores(ctx, cfg, hub, log)
	if err != nil {
		return nil, err
	}

	uploader, disk, err := newUploader(ctx, cfg, log)
	if err != nil {
		if database != nil {
			_ = database.Close()
		}
		return nil, err
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
	observability.SetPublisher(publisher)
	audit := telemetry.NewAuditEmitter(publisher, cfg.AuditRouting, cfg.ServiceName, cfg.Environment, log)
	log.Info().Str("mode", rabbitmq.PublisherMode(publisher)).Str("reason", rabbitmq.PublisherNoopReason(publisher)).Msg("event publisher ready")

	resolver := profiles.NewResolver(stores.Chats, stores.Profiles, log)
	pres := presence.NewManager(stores.Profiles, cfg.PresenceStaleAfter, log)
	dir := directory.NewService(stores.Chats, resolver, pres, log)
	st := stream.New(stores.Messages, hub, log)
	comp := composer.New(stores.Messages, log)
	sessions := session.NewManager(dir, pres, st, log)

	var pinger grpcserver.Pinger
	if database != nil {
		pinger = database
	}

	a := &App{
		cfg:       cfg,
		log:       log,
		database:  database,
		listener:  listener,
		hub:       hub,
		stores:    stores,
		publisher: publisher,
		health:    grpcserver.NewHealthServer(cfg.ServiceName, pinger, log),
		sweeper:   presence.NewSweeper(pres, cfg.PresenceSweepInterval, log),
		Presence:  pres,
	}

	chatHandler := handlers.NewChatHandler(dir, st, comp, audit)
	profileHandler := handlers.NewProfileHandler(resolver, pres)
	uploadHandler := handlers.NewUploadHandler(comp, uploader, cfg.MaxUploadSize)
	sessionWS := ws.NewSessionHandler(sessions, cfg.PresenceTouchInterval, log)
	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)

	a.Router = a.routes(chatHandler, profileHandler, uploadHandler, sessionWS, verifier, audit, disk)
	return a, nil
}

func newUploader(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storage.Uploader, *storage.Disk, error) {
	if cfg.StorageDriver == "s3" {
		s3, err := storage.NewS3(ctx, storage.S3Config{
			Endpoint:       cfg.S3Endpoint,
			PublicEndpoint: cfg.S3PublicEndpoint,
			Region:         cfg.S3Region,
			Bucket:         cfg.S3Bucket,
			AccessKeyID:    cfg.S3AccessKeyID,
			SecretKey:      cfg.S3SecretKey,
			UsePathStyle:   cfg.S3UsePathStyle,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		if err := s3.Health(ctx); err != nil {
			log.Warn().Err(err).Str("bucket", cfg.S3Bucket).Msg("upload bucket not reachable yet")
		}
		return s3, nil, nil
	}
	disk, err := storage.NewDisk(cfg.UploadDir, cfg.PublicBaseURL, log)
	return disk, disk, err
}

func (a *App) routes(
	chatHandler *handlers.ChatHandler,
	profileHandler *handlers.ProfileHandler,
	uploadHandler *handlers.UploadHandler,
	sessionWS *ws.SessionHandler,
	verifier *auth.Verifier,
	audit *telemetry.AuditEmitter,
	disk *storage.Disk,
) *gin.Engine {
	if a.cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		otelgin.Middleware(a.cfg.ServiceName),
		observability.HTTPMetricsMiddleware(),
		observability.RequestLogger(a.log),
	)

	router.GET("/healthz", func(c *gin.Context) {
		if err := a.health.Check(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if disk != nil {
		router.Static(storage.FilesRoute, disk.Root())
	}

	authed := router.Group("/", middleware.AuthMiddleware(verifier, a.stores.Profiles, a.log))
	authed.GET("/chats", chatHandler.ListChats)
	authed.POST("/chats/direct", chatHandler.StartDirectChat)
	authed.GET("/chats/:chat_id/messages", chatHandler.GetChatMessages)
	authed.POST("/chats/:chat_id/messages", chatHandler.PostChatMessage)
	authed.POST("/chats/:chat_id/files", chatHandler.PostFileMessage)
	authed.POST("/uploads", uploadHandler.Upload)
	authed.GET("/profiles", profileHandler.SearchProfiles)
	authed.PUT("/presence", profileHandler.SetPresence)
	authed.GET("/ws/session", sessionWS.Handle)
	handlers.RegisterDebugRoutes(authed, audit, a.hub, a.cfg.DebugRoutes)

	return router
}

// Run serves HTTP and gRPC and runs the background workers until ctx is
// cancelled, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	if a.listener != nil {
		go func() {
			if err := a.listener.Run(ctx); err != nil {
				a.log.Error().Err(err).Msg("insert listener stopped; live updates unavailable")
			}
		}()
	}
	a.sweeper.Start(ctx)
	go a.health.Watch(ctx, healthCheckInterval)

	grpcLis, err := net.Listen("tcp", a.cfg.GRPCAddr())
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr(),
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 2)
	go func() {
		if err := a.health.Serve(grpcLis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		a.log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error().Err(err).Msg("http shutdown")
	}
	a.health.Stop()
	a.sweeper.Stop()
	a.Close()
	return runErr
}

// Close releases the broker and database connections.
func (a *App) Close() {
	if err := a.publisher.Close(); err != nil {
		a.log.Warn().Err(err).Msg("close publisher")
	}
	if a.database != nil {
		if err := a.database.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close database")
		}
	}
}
