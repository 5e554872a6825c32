package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/thereayou/voxus/internal/config"
	"github.com/thereayou/voxus/internal/database"
	"github.com/thereayou/voxus/internal/handlers"
	"github.com/thereayou/voxus/internal/middleware"
	"github.com/thereayou/voxus/internal/mutation"
	"github.com/thereayou/voxus/internal/propagation"
	ws "github.com/thereayou/voxus/internal/websocket"
	"github.com/thereayou/voxus/pkg/auth"
)

type Server struct {
	Router     *gin.Engine
	DB         *database.Database
	Redis      *redis.Client
	Hub        *ws.Hub
	JWTManager *auth.JWTManager

	cfg *config.Config
	log *zap.Logger
}

func NewServer(cfg *config.Config, log *zap.Logger) (*Server, error) {
	dbConn := &database.Database{}
	if err := dbConn.Connect(cfg.DatabaseURL); err != nil {
		return nil, err
	}

	s := &Server{
		DB:         dbConn,
		JWTManager: auth.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL),
		cfg:        cfg,
		log:        log,
	}

	// Без Redis узел работает один: события идут через шину в памяти
	var (
		bus       propagation.Bus
		blacklist middleware.Blacklist
		revoker   handlers.TokenRevoker
		limiter   gin.HandlerFunc
	)
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		rdb := redis.NewClient(redisOpts)
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			return nil, err
		}
		s.Redis = rdb

		bus = propagation.NewRedisBus(rdb, "room", log.Named("bus"))
		rb := middleware.NewRedisBlacklist(rdb)
		blacklist, revoker = rb, rb
		limiter = middleware.NewRateLimiter(rdb, "ratelimit", cfg.RateLimit, cfg.RateWindow, log.Named("ratelimit")).Middleware()
	} else {
		log.Warn("REDIS_URL is not set, using in-process event bus without rate limiting")
		bus = propagation.NewMemoryBus()
	}

	svc := mutation.NewService(dbConn, bus,
		mutation.WithPolicy(cfg.Policy),
		mutation.WithLogger(log.Named("mutation")))

	s.Hub = ws.NewHub(bus, dbConn, log.Named("hub"))

	if !cfg.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	APIEndpoints(router, Endpoints{
		Auth:        handlers.NewAuthHandler(dbConn, s.JWTManager, revoker, log.Named("auth")),
		Messages:    handlers.NewHTTPMessageHandler(dbConn, svc, log.Named("messages")),
		Rooms:       handlers.NewRoomHandler(dbConn, s.Hub, log.Named("rooms")),
		WebSocket:   handlers.NewWebSocketHandler(s.Hub, handlers.NewMessageHandler(svc, log.Named("ws")), cfg.AllowedOrigins, log.Named("ws")),
		RequireAuth: middleware.AuthMiddleware(s.JWTManager, blacklist),
		RateLimit:   limiter,
	})
	s.Router = router

	return s, nil
}

// Run обслуживает запросы, пока не отменён ctx, затем мягко останавливается
func (s *Server) Run(ctx context.Context) error {
	go s.Hub.Run()

	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server starting", zap.String("port", s.cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.close()
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.close()
	return err
}

func (s *Server) close() {
	s.Hub.Stop()
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			s.log.Warn("close redis", zap.Error(err))
		}
	}
	if err := s.DB.Close(); err != nil {
		s.log.Warn("close database", zap.Error(err))
	}
}
