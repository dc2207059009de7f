package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sightserver/querycache/auth"
	"github.com/sightserver/querycache/cache"
	"github.com/sightserver/querycache/health"
	"github.com/sightserver/querycache/observe"
	"github.com/sightserver/querycache/semantic"
	"github.com/sightserver/querycache/store"
)

// Cache is the part of *cache.Manager the server drives.
type Cache interface {
	Get(ctx context.Context, query string, qc cache.QueryContext) (cache.Result, bool, error)
	Peek(ctx context.Context, query string, qc cache.QueryContext) (store.IndexRow, bool, error)
	Similar(ctx context.Context, query string, qc cache.QueryContext, limit int) ([]semantic.Match, error)
	Invalidate(ctx context.Context, query string, qc cache.QueryContext) (bool, error)
	Sweep(ctx context.Context) (int, error)
	Scrub(ctx context.Context) (int, error)
	Clear(ctx context.Context) (int, error)
	Stats(ctx context.Context) (cache.Stats, error)
	Ping(ctx context.Context) error
	SemanticStatus() error
}

var _ Cache = (*cache.Manager)(nil)

// Options configures a Server.
type Options struct {
	// Addr is the listen address. Default: 127.0.0.1:8090
	Addr string

	// Cache is served. Required.
	Cache Cache

	// Policy is compared with store usage by the capacity check.
	Policy store.Policy

	// Authenticator guards /v1 routes. Nil leaves them open.
	Authenticator auth.Authenticator

	// Metrics serves /metrics. Default: promhttp.Handler()
	Metrics http.Handler

	Logger          observe.Logger
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// HealthTimeout bounds a round of health checks. Default:
	// health.DefaultTimeout
	HealthTimeout time.Duration
}

// Server is the admin HTTP server.
type Server struct {
	opts   Options
	log    observe.Logger
	health *health.Aggregator
	router *mux.Router
}

// New builds the router. It does not listen.
func New(opts Options) (*Server, error) {
	if opts.Cache == nil {
		return nil, errors.New("admin: cache is required")
	}
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:8090"
	}
	if opts.Metrics == nil {
		opts.Metrics = promhttp.Handler()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 15 * time.Second
	}
	s := &Server{opts: opts, log: opts.Logger}
	if s.log == nil {
		s.log = observe.NopLogger()
	}

	c := opts.Cache
	s.health = health.NewAggregator(opts.HealthTimeout)
	s.health.Register(health.NewStoreChecker("store", c))
	s.health.Register(health.NewSemanticChecker("semantic", c))
	s.health.Register(health.NewCapacityChecker(health.CapacityConfig{
		Stats: func(ctx context.Context) (store.Stats, error) {
			st, err := c.Stats(ctx)
			return st.Stats, err
		},
		Policy: opts.Policy,
	}))

	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.recoverPanics, s.logRequests)

	health.RegisterRoutes(r, s.health)
	r.Handle("/metrics", s.opts.Metrics).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Handle("/stats", s.guard(auth.RoleReader, s.handleStats)).Methods(http.MethodGet)
	v1.Handle("/cache/lookup", s.guard(auth.RoleReader, s.handleLookup)).Methods(http.MethodPost)
	v1.Handle("/cache/peek", s.guard(auth.RoleReader, s.handlePeek)).Methods(http.MethodPost)
	v1.Handle("/cache/similar", s.guard(auth.RoleReader, s.handleSimilar)).Methods(http.MethodPost)
	v1.Handle("/cache/invalidate", s.guard(auth.RoleAdmin, s.handleInvalidate)).Methods(http.MethodPost)
	v1.Handle("/cache/sweep", s.guard(auth.RoleAdmin, s.maintenance("sweep", s.opts.Cache.Sweep))).Methods(http.MethodPost)
	v1.Handle("/cache/scrub", s.guard(auth.RoleAdmin, s.maintenance("scrub", s.opts.Cache.Scrub))).Methods(http.MethodPost)
	v1.Handle("/cache/clear", s.guard(auth.RoleAdmin, s.maintenance("clear", s.opts.Cache.Clear))).Methods(http.MethodPost)
	return r
}

func (s *Server) guard(role auth.Role, h http.HandlerFunc) http.Handler {
	if s.opts.Authenticator == nil {
		return h
	}
	return auth.Middleware(s.opts.Authenticator, role, s.log)(h)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Health returns the aggregator behind /health.
func (s *Server) Health() *health.Aggregator { return s.health }

// Serve accepts connections on l until ctx is done, then shuts down
// gracefully within ShutdownTimeout.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(l) }()
	s.log.Info(ctx, "admin: listening", observe.Field{Key: "addr", Value: l.Addr().String()})

	select {
	case err := <-errc:
		return fmt.Errorf("admin: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin: shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin: serve: %w", err)
	}
	s.log.Info(ctx, "admin: stopped")
	return nil
}

// ListenAndServe listens on Addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("admin: listen: %w", err)
	}
	return s.Serve(ctx, l)
}
