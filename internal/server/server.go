package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/azuse/jellyfin-exporter/internal/logging"
)

const shutdownTimeout = 10 * time.Second

type Config struct {
	Addr     string
	Registry *prometheus.Registry
	Logger   *logging.Logger
	// ScrapeTimeout is how long a scrape may take upstream; the write
	// timeout of /metrics is derived from it.
	ScrapeTimeout time.Duration
}

// Server exposes the registry on /metrics, plus health and readiness
// endpoints. It implements suture.Service.
type Server struct {
	addr         string
	handler      http.Handler
	writeTimeout time.Duration
	startTime    time.Time
	logger       *logging.Logger

	mu      sync.RWMutex
	ln      net.Listener
	bound   net.Addr
	healthy bool
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Uptime    string    `json:"uptime"`
	Timestamp time.Time `json:"timestamp"`
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	scrapeTimeout := cfg.ScrapeTimeout
	if scrapeTimeout <= 0 {
		scrapeTimeout = 10 * time.Second
	}

	s := &Server{
		addr:         cfg.Addr,
		writeTimeout: scrapeTimeout + 5*time.Second,
		startTime:    time.Now(),
		logger:       logger,
		healthy:      true,
	}
	s.handler = s.routes(registry)
	return s
}

func (s *Server) routes(registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Get("/healthz", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		ErrorLog:      promErrorLog{logger: s.logger},
		ErrorHandling: promhttp.HTTPErrorOnError,
	}))

	return r
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Listen binds the listen address ahead of Serve, so a busy port is
// reported at startup instead of inside the supervisor's restart loop.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.bound = ln.Addr()
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address once listening, else the configured one.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.bound != nil {
		return s.bound.String()
	}
	return s.addr
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.ln = nil
	s.mu.Unlock()

	if ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
		s.mu.Lock()
		ln = s.ln
		s.ln = nil
		s.mu.Unlock()
	}

	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()

	s.SetHealthy(true)
	s.logger.Info("server", "Metrics server listening", logging.F("addr", ln.Addr().String()))

	select {
	case <-ctx.Done():
		s.SetHealthy(false)
		s.logger.Info("server", "Metrics server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down metrics server: %w", err)
		}
		return ctx.Err()

	case err := <-errCh:
		s.SetHealthy(false)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server error: %w", err)
	}
}

func (s *Server) String() string {
	return "metrics-server"
}

func (s *Server) SetHealthy(healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = healthy
}

func (s *Server) isHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthy
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Timestamp: time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	if s.isHealthy() {
		w.WriteHeader(http.StatusOK)
	} else {
		response.Status = "unhealthy"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	json.NewEncoder(w).Encode(response)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.isHealthy() {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
	}
}

const indexPage = `<html>
<head><title>Jellyfin Exporter</title></head>
<body>
<h1>Jellyfin Exporter</h1>
<p><a href="/metrics">Metrics</a></p>
</body>
</html>
`

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(indexPage))
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debug("server", "Request served",
			logging.F("method", r.Method),
			logging.F("path", r.URL.Path),
			logging.F("status", ww.Status()),
			logging.F("bytes", ww.BytesWritten()),
			logging.F("request_id", middleware.GetReqID(r.Context())),
			logging.F("elapsed", time.Since(start)))
	})
}

// promErrorLog routes promhttp's error reports to the logger.
type promErrorLog struct {
	logger *logging.Logger
}

func (l promErrorLog) Println(v ...interface{}) {
	l.logger.Warn("server", "Metrics request failed", logging.F("detail", fmt.Sprint(v...)))
}
