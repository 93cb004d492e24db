// Package mockapi is an in-memory fake of the Ten Minute Delivery API. It
// backs the scenario tests and the "mock" command used for local smoke runs.
package mockapi

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Options configures the fake API.
type Options struct {
	// Latency is added to every response. Jitter adds up to that much more,
	// uniformly distributed.
	Latency time.Duration
	Jitter  time.Duration

	// ErrorRate is the probability in [0,1] that a request fails with 500.
	ErrorRate float64

	// Seed for latency jitter and failure injection. Zero uses the clock.
	Seed int64

	Logger *zap.Logger
}

// Server serves the fake API.
type Server struct {
	opts   Options
	logger *zap.Logger
	router chi.Router
	store  *store

	rngMu sync.Mutex
	rng   *rand.Rand

	hitsMu sync.Mutex
	hits   map[string]int64
}

// New creates a fake API server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	s := &Server{
		opts:   opts,
		logger: logger,
		router: chi.NewRouter(),
		store:  newStore(),
		rng:    rand.New(rand.NewSource(seed)),
		hits:   make(map[string]int64),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.faultMiddleware)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/categories", s.handleCategories)
		r.Get("/products", s.handleProducts)
		r.Get("/products/{id}", s.handleProduct)
		r.Get("/search", s.handleSearch)
		r.Get("/delivery/tracking/{orderID}", s.handleTracking)

		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/signup", s.handleSignup)

		r.Group(func(r chi.Router) {
			r.Use(s.requireBearer)
			r.Get("/cart", s.handleCart)
			r.Get("/orders", s.handleOrders)
			r.Get("/addresses", s.handleAddresses)
		})
	})
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting mock delivery API", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	for _, route := range s.Routes() {
		s.logger.Debug("route hits", zap.String("route", route), zap.Int64("hits", s.Hits(route)))
	}
	s.logger.Info("Mock delivery API stopped", zap.Int64("requests", s.TotalHits()))
	return nil
}

// Hits returns how many requests matched route, given as "METHOD pattern"
// (e.g. "GET /api/products/{id}").
func (s *Server) Hits(route string) int64 {
	s.hitsMu.Lock()
	defer s.hitsMu.Unlock()
	return s.hits[route]
}

// TotalHits returns the number of requests served.
func (s *Server) TotalHits() int64 {
	s.hitsMu.Lock()
	defer s.hitsMu.Unlock()
	var total int64
	for _, n := range s.hits {
		total += n
	}
	return total
}

// Routes lists the routes hit so far, sorted.
func (s *Server) Routes() []string {
	s.hitsMu.Lock()
	defer s.hitsMu.Unlock()
	routes := make([]string, 0, len(s.hits))
	for r := range s.hits {
		routes = append(routes, r)
	}
	sort.Strings(routes)
	return routes
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		s.hitsMu.Lock()
		s.hits[r.Method+" "+route]++
		s.hitsMu.Unlock()

		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("latency", time.Since(start)),
		)
	})
}

// faultMiddleware injects latency and random failures.
func (s *Server) faultMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delay, fail := s.roll()
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if fail {
			s.respondError(w, http.StatusInternalServerError, errors.New("injected failure"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) roll() (time.Duration, bool) {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()

	delay := s.opts.Latency
	if s.opts.Jitter > 0 {
		delay += time.Duration(s.rng.Int63n(int64(s.opts.Jitter)))
	}
	fail := s.opts.ErrorRate > 0 && s.rng.Float64() < s.opts.ErrorRate
	return delay, fail
}

type ctxKey struct{}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			s.respondError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		email, ok := s.store.userForToken(token)
		if !ok {
			s.respondError(w, http.StatusUnauthorized, errors.New("invalid token"))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, email)))
	})
}

func userEmail(r *http.Request) string {
	email, _ := r.Context().Value(ctxKey{}).(string)
	return email
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", zap.Error(err))
	}
}

func (s *Server) respondData(w http.ResponseWriter, status int, data interface{}) {
	s.respondJSON(w, status, map[string]interface{}{"data": data})
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Warn("API error", zap.Error(err), zap.Int("status", status))
	}
	s.respondJSON(w, status, map[string]string{"error": err.Error()})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
