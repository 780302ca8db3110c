// Package diag serves an optional operator HTTP endpoint: liveness, monitor
// status, a manual cycle trigger, the audit trail and pprof.
package diag

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"topicwatch/internal/monitor"
	"topicwatch/internal/notifier"
	"topicwatch/internal/storage"
	logx "topicwatch/pkg/logx"
)

// Config controls the diagnostics server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - A non-loopback address requires Token unless AllowInsecure is set.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
	Pprof         bool
}

const defaultAddr = "127.0.0.1:6060"

var ErrInsecureBind = errors.New("diagnostics: non-loopback addr requires token or allow_insecure")

type Monitor interface {
	Status() monitor.Status
	RunNow(ctx context.Context) (monitor.CycleReport, error)
}

type History interface {
	Snapshot() []notifier.HistoryItem
}

type Service struct {
	cfg     Config
	mon     Monitor
	history History
	store   storage.Store
	log     logx.Logger
	started time.Time
}

// New builds the service. store and history may be nil.
func New(cfg Config, mon Monitor, history History, store storage.Store, log logx.Logger) *Service {
	return &Service{
		cfg:     cfg,
		mon:     mon,
		history: history,
		store:   store,
		log:     log.With(logx.String("comp", "diag")),
		started: time.Now(),
	}
}

// Addr returns the effective listen address.
func (s *Service) Addr() string {
	if a := strings.TrimSpace(s.cfg.Addr); a != "" {
		return a
	}
	return defaultAddr
}

// CheckBind refuses a public bind without auth.
func CheckBind(cfg Config) error {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = defaultAddr
	}
	if !cfg.AllowInsecure && strings.TrimSpace(cfg.Token) == "" && !isLoopbackAddr(addr) {
		return ErrInsecureBind
	}
	return nil
}

func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":         "ok",
			"uptime_seconds": int(time.Since(s.started).Seconds()),
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.auth)
		r.Get("/status", s.handleStatus)
		r.Post("/run", s.handleRun)
		r.Get("/notifications", s.handleHistory)
		r.Get("/audit/deliveries", s.handleDeliveries)
		r.Get("/audit/cycles", s.handleCycles)
		if s.cfg.Pprof {
			r.Mount("/debug", middleware.Profiler())
		}
	})
	return r
}

// Run listens until ctx is done. A listen failure is logged and returned.
func (s *Service) Run(ctx context.Context) error {
	if err := CheckBind(s.cfg); err != nil {
		s.log.Error("diagnostics refused to start", logx.String("addr", s.Addr()), logx.Err(err))
		return err
	}
	if s.cfg.AllowInsecure && s.cfg.Token == "" && !isLoopbackAddr(s.Addr()) {
		s.log.Warn("diagnostics running without token on non-loopback addr (insecure)", logx.String("addr", s.Addr()))
	}
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		s.log.Error("diagnostics listen failed", logx.String("addr", s.Addr()), logx.Err(err))
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("diagnostics started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", s.cfg.Token != ""),
		logx.Bool("pprof", s.cfg.Pprof),
	)
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.mon.Status())
}

func (s *Service) handleRun(w http.ResponseWriter, r *http.Request) {
	rep, err := s.mon.RunNow(r.Context())
	sum := rep.Summary()
	if err != nil {
		if sum.Error == "" {
			sum.Error = err.Error()
		}
		code := http.StatusBadGateway
		if errors.Is(err, monitor.ErrInvalidConfig) {
			code = http.StatusConflict
		}
		writeJSON(w, code, sum)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Service) handleHistory(w http.ResponseWriter, _ *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusOK, []notifier.HistoryItem{})
		return
	}
	writeJSON(w, http.StatusOK, s.history.Snapshot())
}

func (s *Service) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, storage.ErrDisabled.Error(), http.StatusNotFound)
		return
	}
	out, err := s.store.RecentDeliveries(r.Context(), limitParam(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleCycles(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, storage.ErrDisabled.Error(), http.StatusNotFound)
		return
	}
	out, err := s.store.RecentCycles(r.Context(), limitParam(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// auth accepts "Authorization: Bearer <token>" or ?token=<token>.
func (s *Service) auth(next http.Handler) http.Handler {
	tok := strings.TrimSpace(s.cfg.Token)
	if tok == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				next.ServeHTTP(w, r)
				return
			}
			unauthorized(w)
			return
		}
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			next.ServeHTTP(w, r)
			return
		}
		unauthorized(w)
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return 50
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// empty host means all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
