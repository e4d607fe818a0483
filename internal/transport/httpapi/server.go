// Package httpapi exposes the tower control surface as a small JSON
// API. Intended for the sacristy console and for scripting; keep it
// bound to localhost unless a token is set.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"belltower/internal/bell"
	"belltower/internal/core"
	logx "belltower/pkg/logx"
)

type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool

	// RingRatePerMin throttles direct ring requests so a runaway script
	// cannot hammer the relays. Defaults: 30/min, burst 5.
	RingRatePerMin int
	RingBurst      int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type Server struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config
	svc *core.Service

	ringLimit *rate.Limiter
	ln        net.Listener
	srv       *http.Server
}

func New(cfg Config, svc *core.Service, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	perMin := cfg.RingRatePerMin
	if perMin <= 0 {
		perMin = 30
	}
	burst := cfg.RingBurst
	if burst <= 0 {
		burst = 5
	}
	return &Server{
		cfg:       cfg,
		log:       log,
		svc:       svc,
		ringLimit: rate.NewLimiter(rate.Limit(float64(perMin)/60.0), burst),
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil || !s.cfg.Enabled {
		return nil
	}

	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:8080"
	}

	// Refuse accidental public exposure without auth.
	if !s.cfg.AllowInsecure && strings.TrimSpace(s.cfg.Token) == "" && !isLoopbackAddr(addr) {
		return errors.New("httpapi: non-loopback addr requires token or allow_insecure")
	}
	if s.cfg.AllowInsecure && strings.TrimSpace(s.cfg.Token) == "" && !isLoopbackAddr(addr) {
		s.log.Warn("http api running without token on non-loopback addr (insecure)", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:      s.handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	s.ln = ln
	s.srv = srv

	go func() {
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http api stopped with error", logx.Err(err))
		}
	}()

	s.log.Info("http api started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", strings.TrimSpace(s.cfg.Token) != ""),
	)
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	ln := s.ln
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()

	if srv == nil {
		return
	}
	if ln != nil {
		_ = ln.Close()
	}
	_ = srv.Shutdown(ctx)
	_ = srv.Close()
	s.log.Info("http api stopped")
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return s.withAuth(h) }

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /api/status", wrap(s.handleStatus))

	mux.HandleFunc("POST /api/enable", wrap(s.handleEnable))
	mux.HandleFunc("POST /api/disable", wrap(s.handleDisable))
	mux.HandleFunc("POST /api/estop", wrap(s.handleEstop))
	mux.HandleFunc("POST /api/testmode", wrap(s.handleTestMode))
	mux.HandleFunc("POST /api/ring", wrap(s.handleRing))
	mux.HandleFunc("POST /api/stop", wrap(s.handleStopMelody))

	mux.HandleFunc("GET /api/melodies", wrap(s.handleMelodyList))
	mux.HandleFunc("POST /api/melodies", wrap(s.handleMelodyAdd))
	mux.HandleFunc("GET /api/melodies/{slot}", wrap(s.handleMelodyGet))
	mux.HandleFunc("PUT /api/melodies/{slot}", wrap(s.handleMelodyUpdate))
	mux.HandleFunc("DELETE /api/melodies/{slot}", wrap(s.handleMelodyDelete))
	mux.HandleFunc("POST /api/melodies/{slot}/play", wrap(s.handleMelodyPlay))

	// Quick triggers for the two canonical slots, the remote stand-ins
	// for the tower's physical buttons.
	mux.HandleFunc("POST /api/quick/funeral", wrap(s.quickPlay(bell.SlotFuneral)))
	mux.HandleFunc("POST /api/quick/masscall", wrap(s.quickPlay(bell.SlotMassCall)))

	mux.HandleFunc("GET /api/schedule/weekly", wrap(s.handleWeeklyList))
	mux.HandleFunc("POST /api/schedule/weekly", wrap(s.handleWeeklyAdd))
	mux.HandleFunc("PUT /api/schedule/weekly/{id}", wrap(s.handleWeeklyUpdate))
	mux.HandleFunc("DELETE /api/schedule/weekly/{id}", wrap(s.handleWeeklyDelete))

	mux.HandleFunc("GET /api/schedule/special", wrap(s.handleSpecialList))
	mux.HandleFunc("POST /api/schedule/special", wrap(s.handleSpecialAdd))
	mux.HandleFunc("PUT /api/schedule/special/{id}", wrap(s.handleSpecialUpdate))
	mux.HandleFunc("DELETE /api/schedule/special/{id}", wrap(s.handleSpecialDelete))

	return mux
}

func (s *Server) withAuth(h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(s.cfg.Token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if ah := r.Header.Get("Authorization"); ah != "" {
			const p = "Bearer "
			if strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
				h(w, r)
				return
			}
		}
		if got := r.URL.Query().Get("token"); got == tok {
			h(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
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
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
