// Package api provides the HTTP API server for wavault.
package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/mpontes/wavault/internal/analyze"
	"github.com/mpontes/wavault/internal/config"
	"github.com/mpontes/wavault/internal/digest"
	"github.com/mpontes/wavault/internal/query"
	"github.com/mpontes/wavault/internal/store"
	"github.com/mpontes/wavault/internal/watch"
)

// Server represents the HTTP API server.
type Server struct {
	cfg         *config.Config
	store       *store.Store
	executor    *query.Executor
	analyzer    *analyze.Analyzer
	digests     *digest.Scheduler
	broadcaster *watch.Broadcaster
	logger      *slog.Logger
	router      chi.Router
	server      *http.Server
	rateLimiter *RateLimiter
}

// NewServer creates a new API server. analyzer, digests and broadcaster may
// be nil; the corresponding endpoints then answer 503.
func NewServer(cfg *config.Config, st *store.Store, analyzer *analyze.Analyzer,
	digests *digest.Scheduler, broadcaster *watch.Broadcaster, logger *slog.Logger) *Server {
	s := &Server{
		cfg:         cfg,
		store:       st,
		executor:    query.NewExecutor(st),
		analyzer:    analyzer,
		digests:     digests,
		broadcaster: broadcaster,
		logger:      logger,
	}
	s.router = s.setupRouter()
	return s
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(s.loggerMiddleware)
	r.Use(chimw.Recoverer)

	rps := s.cfg.Server.RateLimitRPS
	if rps <= 0 {
		rps = 10
	}
	s.rateLimiter = NewRateLimiter(rps, int(rps)*2)
	r.Use(RateLimitMiddleware(s.rateLimiter))

	// Health check (no auth required)
	r.Get("/health", s.handleHealth)

	// Live updates hold the connection open, so no request timeout here.
	r.With(s.authMiddleware).Get("/ws/messages", s.handleMessagesWS)

	// API routes (auth required)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Use(chimw.Timeout(60 * time.Second))

		r.Get("/stats", s.handleStats)

		r.Post("/messages/query", s.handleQueryMessages)
		r.Get("/messages/{chatJID}/{id}/context", s.handleMessageContext)

		r.Get("/chats", s.handleListChats)
		r.Get("/chats/search", s.handleSearchChats)
		r.Get("/chats/{jid}", s.handleGetChat)

		r.Post("/analyze", s.handleAnalyze)
		r.Post("/analyze/daily", s.handleAnalyzeDaily)
		r.Post("/analyze/contact", s.handleAnalyzeContact)

		r.Get("/digests", s.handleListDigests)
		r.Get("/digests/{name}", s.handleGetDigest)
		r.Post("/digests/{name}/run", s.handleRunDigest)
	})

	return r
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(s.cfg.Server.APIPort))

	if s.cfg.Server.APIKey == "" {
		s.logger.Warn("API server running without authentication, set [server] api_key in config.toml")
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// loggerMiddleware logs HTTP requests.
func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// authMiddleware validates the API key.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no API key configured
		if s.cfg.Server.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			authHeader = r.Header.Get("X-API-Key")
		}
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			authHeader = authHeader[7:]
		}

		if subtle.ConstantTimeCompare([]byte(authHeader), []byte(s.cfg.Server.APIKey)) != 1 {
			s.logger.Warn("unauthorized API request",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
