package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/PaulBabatuyi/marketchat/internal/auth"
	"github.com/PaulBabatuyi/marketchat/internal/chat"
	"github.com/PaulBabatuyi/marketchat/internal/config"
	"github.com/PaulBabatuyi/marketchat/internal/data"
	"github.com/PaulBabatuyi/marketchat/internal/metrics"
	"github.com/PaulBabatuyi/marketchat/internal/middleware"
	"github.com/PaulBabatuyi/marketchat/internal/presence"
	"github.com/PaulBabatuyi/marketchat/internal/realtime"
	"github.com/PaulBabatuyi/marketchat/internal/storage"
	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
)

// messageStore is what the API needs from the message store.
type messageStore interface {
	chat.MessageSaver
	GetConversation(ctx context.Context, user1, user2 string) ([]*data.Message, error)
	GetRecentChats(ctx context.Context, userEmail string, limit int64) ([]*data.ChatPartner, error)
}

// pinger reports backend reachability for /readyz.
type pinger interface {
	Ping(ctx context.Context) error
}

// Server wires the stores, the realtime layer and every listener.
type Server struct {
	cfg      config.Config
	log      *zap.Logger
	store    messageStore
	files    storage.FileStore
	registry *presence.Registry
	router   *chat.Router
	hub      *realtime.Hub
	jwt      *auth.JWTManager
	metrics  *metrics.Metrics
	promReg  *prometheus.Registry
	backend  pinger

	limiter  *middleware.LimiterStore
	sio      *socketio.Server
	http     *http.Server
	admin    *http.Server
	grpc     *grpc.Server
	health   *health.Server
	ready    atomic.Bool
	stopHub  context.CancelFunc
	handlers http.Handler
}

// deps are the collaborators main builds from configuration.
type deps struct {
	store   messageStore
	files   storage.FileStore
	jwt     *auth.JWTManager
	backend pinger
}

// newServer builds the object graph: registry -> router -> hub -> transports.
func newServer(cfg config.Config, log *zap.Logger, d deps) *Server {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	notifier := presence.NewDirectNotifier(log, m)
	registry := presence.NewRegistry(notifier, m)
	router := chat.NewRouter(d.store, registry, notifier, log, m)

	hubCtx, stopHub := context.WithCancel(context.Background())
	hub := realtime.NewHub(hubCtx, registry, router, notifier, log, m, realtime.Options{
		SendTimeout:     cfg.Chat.SendTimeout,
		EventsPerSecond: cfg.Socket.EventsPerSecond,
		EventBurst:      cfg.Socket.EventBurst,
	})

	s := &Server{
		cfg:      cfg,
		log:      log,
		store:    d.store,
		files:    d.files,
		registry: registry,
		router:   router,
		hub:      hub,
		jwt:      d.jwt,
		metrics:  m,
		promReg:  promReg,
		backend:  d.backend,
		limiter:  middleware.NewLimiterStore(cfg.RateLimit.RPM, cfg.RateLimit.Burst, time.Minute),
		stopHub:  stopHub,
	}
	s.sio = realtime.NewSocketIOServer(hub, d.jwt, realtime.OriginChecker(cfg.CORS.AllowedOrigins))
	s.handlers = s.routes()
	return s
}

// Start serves HTTP, admin and gRPC until ctx is done, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	httpLis, err := net.Listen("tcp", listenAddr(s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Port, err)
	}
	grpcLis, err := net.Listen("tcp", s.cfg.GRPC.Address)
	if err != nil {
		_ = httpLis.Close()
		return fmt.Errorf("listen on %s: %w", s.cfg.GRPC.Address, err)
	}

	s.grpc, s.health, err = newGRPCServer(s.cfg, s.log, s.limiter)
	if err != nil {
		_ = httpLis.Close()
		_ = grpcLis.Close()
		return err
	}

	go func() {
		if err := s.sio.Serve(); err != nil {
			s.log.Warn("socket.io server stopped", zap.Error(err))
		}
	}()
	s.startAdminServer()

	s.http = &http.Server{
		Handler:           s.handlers,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		var err error
		if s.cfg.TLS.Cert != "" {
			err = s.http.ServeTLS(httpLis, s.cfg.TLS.Cert, s.cfg.TLS.Key)
		} else {
			err = s.http.Serve(httpLis)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("serve http: %w", err)
		}
	}()
	go func() {
		if err := s.grpc.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("serve gRPC: %w", err)
		}
	}()

	s.ready.Store(true)
	s.log.Info("chat server listening",
		zap.String("http", httpLis.Addr().String()),
		zap.String("grpc", grpcLis.Addr().String()),
		zap.Bool("auth", s.jwt != nil),
	)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGracePeriod)
	defer cancel()
	s.Shutdown(stopCtx)
	return runErr
}

func (s *Server) startAdminServer() {
	if s.cfg.Admin.Address == "" {
		return
	}

	s.admin = &http.Server{
		Addr:              s.cfg.Admin.Address,
		Handler:           s.adminMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("admin server stopped", zap.Error(err))
		}
	}()
	s.log.Info("admin server listening", zap.String("address", s.cfg.Admin.Address))
}

func (s *Server) adminMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not_ready"))
			return
		}
		if s.backend != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := s.backend.Ping(ctx); err != nil {
				s.log.Warn("readiness ping failed", zap.Error(err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("store_unreachable"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return mux
}

// Shutdown stops accepting work and drains every listener.
func (s *Server) Shutdown(ctx context.Context) {
	s.ready.Store(false)
	if s.health != nil {
		s.health.Shutdown()
	}

	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("http server shutdown", zap.Error(err))
		}
	}
	if err := s.sio.Close(); err != nil {
		s.log.Warn("socket.io shutdown", zap.Error(err))
	}
	// hijacked /ws connections are invisible to http.Server.Shutdown; canceling
	// the hub closes them and their sessions leave the registry.
	s.stopHub()
	s.limiter.Stop()

	if s.admin != nil {
		if err := s.admin.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("admin server shutdown", zap.Error(err))
		}
	}
	if s.grpc == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("servers stopped")
	case <-ctx.Done():
		s.log.Warn("graceful shutdown timed out; forcing stop")
		s.grpc.Stop()
	}
}

func listenAddr(port string) string {
	if strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

// routes builds the public HTTP surface.
func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(
		middleware.Recovery(s.log),
		middleware.RequestLogger(s.log),
		middleware.CORS(s.cfg.CORS.AllowedOrigins),
	)

	r.GET("/socket.io/*any", gin.WrapH(s.sio))
	r.POST("/socket.io/*any", gin.WrapH(s.sio))
	r.GET("/ws", realtime.WebSocketHandler(s.hub, s.jwt, realtime.OriginChecker(s.cfg.CORS.AllowedOrigins)))

	if local, ok := s.files.(*storage.LocalStore); ok && strings.HasPrefix(s.cfg.Uploads.PublicURL, "/") {
		r.Static(s.cfg.Uploads.PublicURL, local.Dir())
	}

	writeLimit := middleware.RateLimit(s.limiter, middleware.ByIdentity, s.log)

	api := r.Group("", middleware.Authenticate(s.jwt))
	api.GET("/messages/:userA/:userB", middleware.RequireParticipant("userA", "userB"), s.getConversation)
	api.POST("/messages/send", writeLimit, s.sendMessage)
	api.POST("/upload", writeLimit, s.uploadFile)
	api.GET("/conversations/:email", middleware.RequireParticipant("email"), s.listConversations)
	api.GET("/presence", s.listOnline)
	api.GET("/presence/:email", s.getPresence)

	return r
}
