// Package admin serves the local management API: health, metrics, live
// classification, rule editing and reloads.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/haukened/nullroute/internal/dns/common/log"
)

const requestTimeout = 30 * time.Second

type Server struct {
	addr     string
	repo     Repository
	store    RuleStore
	reloader Reloader
	metrics  http.Handler
	gauge    DomainGauge
	logger   log.Logger
	validate *validator.Validate

	srv *http.Server
}

// Options wires a Server. Repo is required; Store, Reloader, Metrics and
// Gauge are optional and their routes answer 503 when absent.
type Options struct {
	Address  string
	Repo     Repository
	Store    RuleStore
	Reloader Reloader
	Metrics  http.Handler
	Gauge    DomainGauge
	Logger   log.Logger
}

func New(opts Options) (*Server, error) {
	if opts.Repo == nil {
		return nil, errors.New("admin server requires a repository")
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	return &Server{
		addr:     opts.Address,
		repo:     opts.Repo,
		store:    opts.Store,
		reloader: opts.Reloader,
		metrics:  opts.Metrics,
		gauge:    opts.Gauge,
		logger:   opts.Logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, middleware.Timeout(requestTimeout))
	r.Use(s.requestLogger)

	r.Get("/healthz", s.health)
	r.Get("/metrics", s.serveMetrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/classify/{name}", s.classify)

		r.Put("/blocked/{name}", s.block)
		r.Delete("/blocked/{name}", s.unblock)

		r.Get("/rules", s.listRules)
		r.Post("/rules", s.createRule)
		r.Delete("/rules/{kind}/{pattern}", s.deleteRule)

		r.Post("/reload", s.reload)
		r.Get("/stats", s.stats)
	})
	return r
}

// Start binds the listener and serves until ctx is cancelled or Shutdown
// is called.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("admin listen on %s: %w", s.addr, err)
	}
	s.addr = ln.Addr().String()
	s.srv = &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info(log.Fields{"address": s.addr}, "admin_started")
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(log.Fields{"error": err.Error()}, "admin_serve_failed")
		}
	}()
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	err := s.srv.Shutdown(ctx)
	s.logger.Info(log.Fields{"address": s.addr}, "admin_stopped")
	return err
}

// Address returns the bound address once started.
func (s *Server) Address() string { return s.addr }

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug(log.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}, "admin_request")
	})
}
