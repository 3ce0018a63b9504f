package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	logx "steamwatch/pkg/logx"
)

// Config controls the operator HTTP server.
//
// Binding to a non-loopback address requires Token unless AllowInsecure is
// set.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
	Pprof         bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Health reports readiness. Ping failing turns /healthz into a 503; Status
// is embedded in the response body.
type Health struct {
	Ping   func(ctx context.Context) error
	Status func() any
}

type Server struct {
	cfg      Config
	gatherer prometheus.Gatherer
	health   Health
	log      logx.Logger
}

func NewServer(cfg Config, gatherer prometheus.Gatherer, health Health, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:9464"
	}
	return &Server{cfg: cfg, gatherer: gatherer, health: health, log: log}
}

// Handler builds the router: /healthz and /metrics always, /debug/pprof/*
// when enabled. Every route requires the token when one is configured.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.auth)

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	if s.cfg.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.Addr)
	if !s.cfg.AllowInsecure && s.cfg.Token == "" && !isLoopbackAddr(addr) {
		return errors.New("observability: non-loopback addr requires token or allow_insecure")
	}
	if s.cfg.AllowInsecure && s.cfg.Token == "" && !isLoopbackAddr(addr) {
		s.log.Warn("operator endpoints exposed without token", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(sctx)
		cancel()
	}()

	s.log.Info("operator http started", logx.String("addr", ln.Addr().String()),
		logx.Bool("pprof", s.cfg.Pprof), logx.Bool("token_set", s.cfg.Token != ""))
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("observability: server exited unexpectedly")
	}
	return err
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	body := struct {
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
		Detail any    `json:"detail,omitempty"`
	}{Status: "ok"}
	code := http.StatusOK
	if s.health.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		err := s.health.Ping(ctx)
		cancel()
		if err != nil {
			body.Status, body.Error, code = "unavailable", err.Error(), http.StatusServiceUnavailable
		}
	}
	if s.health.Status != nil {
		body.Detail = s.health.Status()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// auth accepts "Authorization: Bearer <token>" or ?token=<token>.
func (s *Server) auth(next http.Handler) http.Handler {
	tok := strings.TrimSpace(s.cfg.Token)
	if tok == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, "Bearer ") {
				got = strings.TrimSpace(strings.TrimPrefix(ah, "Bearer "))
			}
		}
		if got != tok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
