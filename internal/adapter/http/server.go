package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/AutoCookies/pomai-memberttl/internal/engine/tenants"
)

type Config struct {
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
	EnableCORS    bool
	EnableMetrics bool
	// Gatherer backs /metrics. nil means the default registry.
	Gatherer prometheus.Gatherer
}

type Server struct {
	tenants *tenants.Manager
	router  *mux.Router
	logger  *log.Logger
	cfg     Config

	mu  sync.Mutex
	srv *http.Server
}

func NewServer(tm *tenants.Manager, cfg Config, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		tenants: tm,
		router:  mux.NewRouter(),
		logger:  logger.WithPrefix("http"),
		cfg:     cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) Router() http.Handler {
	if s.cfg.EnableCORS {
		return CorsMiddleware(s.router)
	}
	return s.router
}

// ListenAndServe blocks until Shutdown. A clean shutdown returns nil.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	s.logger.Info("listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.logger.Info("shutting down")
	return srv.Shutdown(ctx)
}
