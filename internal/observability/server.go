package observability

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	rtsup "tgcast/internal/runtime/supervisor"
	logx "tgcast/pkg/logx"
)

// Config controls the debug HTTP server. Non-loopback binds require Token
// unless AllowInsecure is set.
type Config struct {
	Enabled       bool
	Addr          string
	Pprof         bool
	Token         string
	AllowInsecure bool
}

// HealthFunc reports readiness; a non-nil error makes /healthz return 503.
type HealthFunc func(ctx context.Context) error

type Server struct {
	mu      sync.Mutex
	cfg     Config
	log     logx.Logger
	metrics *Metrics
	health  HealthFunc

	srv *http.Server
	sup *rtsup.Supervisor
}

func NewServer(cfg Config, metrics *Metrics, health HealthFunc, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, metrics: metrics, health: health, log: log}
}

func (s *Server) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Handler builds the router: /healthz, /metrics and optionally /debug/pprof.
func (s *Server) Handler() http.Handler {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if s.health != nil {
			if err := s.health(req.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(tokenAuth(cfg.Token))
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Gatherer(), promhttp.HandlerOpts{}))
		if cfg.Pprof {
			r.HandleFunc("/debug/pprof/", hpprof.Index)
			r.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
			r.HandleFunc("/debug/pprof/profile", hpprof.Profile)
			r.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
			r.HandleFunc("/debug/pprof/trace", hpprof.Trace)
			r.Handle("/debug/pprof/{name}", http.HandlerFunc(hpprof.Index))
		}
	})
	return r
}

// Start serves in the background under a restart loop. Idempotent.
func (s *Server) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return
	}
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	s.sup.GoRestart("observability.http", s.serveOnce, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv, sup := s.srv, s.sup
	s.srv, s.sup = nil, nil
	s.mu.Unlock()

	if srv != nil {
		_ = srv.Shutdown(ctx)
	}
	if sup != nil {
		_ = sup.Stop(ctx)
		s.log.Info("observability server stopped")
	}
}

// Reconfigure restarts the server when its listener settings change.
func (s *Server) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		s.Stop(ctx)
	case !running:
		s.Start(ctx)
	case prev != cfg:
		s.Stop(ctx)
		s.Start(ctx)
	}
}

func (s *Server) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:9090"
	}
	if !cfg.AllowInsecure && cfg.Token == "" && !isLoopbackAddr(addr) {
		s.log.Error("observability server refused to start: non-loopback addr requires token", logx.String("addr", addr))
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("observability server started", logx.String("addr", ln.Addr().String()), logx.Bool("pprof", cfg.Pprof))
	err = srv.Serve(ln)
	if ctx.Err() != nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func tokenAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("token")
			if got == "" {
				got = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(tok)) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
