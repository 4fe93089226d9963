// Package api serves the menu to the website: JSON reads, admin saves,
// sign-in, a live WebSocket feed, health and metrics.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"nollettan-menu/services"
)

type Config struct {
	Addr     string
	Location *time.Location // zone for "today"; nil means local time
	// SignInRate limits session requests per client address.
	SignInRate  rate.Limit
	SignInBurst int
}

func DefaultConfig() Config {
	return Config{
		Addr:        "127.0.0.1:8080",
		SignInRate:  rate.Every(2 * time.Second),
		SignInBurst: 5,
	}
}

type Deps struct {
	Engine   *services.Engine
	Accounts services.AccountService
	Metrics  *services.Metrics
	Pinger   services.Pinger
	Logger   zerolog.Logger
	Now      func() time.Time
}

type Server struct {
	cfg     Config
	deps    Deps
	log     zerolog.Logger
	router  *mux.Router
	server  *http.Server
	limiter *clientLimiter
	hub     *hub
	stopHub func()
}

func NewServer(cfg Config, deps Deps) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.SignInRate == 0 {
		def := DefaultConfig()
		cfg.SignInRate, cfg.SignInBurst = def.SignInRate, def.SignInBurst
	}
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		log:     deps.Logger.With().Str("component", "api").Logger(),
		router:  mux.NewRouter(),
		limiter: newClientLimiter(cfg.SignInRate, cfg.SignInBurst),
		hub:     newHub(),
	}
	s.stopHub = deps.Engine.OnChange(s.hub.broadcast)
	s.setupRoutes()
	s.server = &http.Server{
		Addr:        cfg.Addr,
		Handler:     s.router,
		ReadTimeout: 10 * time.Second,
		// saves retry up to three times with a 20s timeout each
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/menu", s.handleGetMenu).Methods(http.MethodGet)
	api.HandleFunc("/menu", s.handlePutMenu).Methods(http.MethodPut)
	api.HandleFunc("/menu/today", s.handleToday).Methods(http.MethodGet)
	api.HandleFunc("/menu/live", s.handleLive).Methods(http.MethodGet)

	api.Handle("/session", s.rateLimitMiddleware(http.HandlerFunc(s.handleSignIn))).Methods(http.MethodPost)
	api.Handle("/session", s.rateLimitMiddleware(http.HandlerFunc(s.handleSignOut))).Methods(http.MethodDelete)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.deps.Metrics.Registry, promhttp.HandlerOpts{}))
	}
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no such endpoint")
	})
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		id, _ := r.Context().Value(requestIDKey).(string)
		s.log.Info().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWrapper) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWrapper) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Hijack lets the WebSocket upgrader take over the connection.
func (w *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return h.Hijack()
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.cfg.Addr).Msg("starting HTTP server")
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	s.stopHub()
	s.hub.closeAll()
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}
