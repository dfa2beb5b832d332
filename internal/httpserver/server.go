package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/EchoPBX/echofsm/internal/config"
	"github.com/EchoPBX/echofsm/internal/dispenser"
	"github.com/EchoPBX/echofsm/internal/events"
	"github.com/EchoPBX/echofsm/internal/fsm"
	"github.com/EchoPBX/echofsm/internal/jwt"
	"github.com/EchoPBX/echofsm/pkg/sdk"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	log  *zap.Logger
	bus  *events.Bus
	disp *dispenser.Dispenser
	r    *chi.Mux

	mu  sync.RWMutex
	cfg *config.Config
	jwt *jwt.Validator
}

type Option func(*Server)

// WithGatherer exposes g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	}
}

func New(cfg *config.Config, log *zap.Logger, bus *events.Bus, disp *dispenser.Dispenser, opts ...Option) (*Server, error) {
	v, err := jwt.NewValidator(cfg.Auth.JWTPublicKeys, cfg.Auth.Issuer, cfg.Auth.Audience)
	if err != nil {
		return nil, err
	}
	if !v.Enabled() {
		log.Warn("no jwt keys configured, mutating routes are open")
	}
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))
	s := &Server{cfg: cfg, log: log, bus: bus, disp: disp, r: r, jwt: v}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s, nil
}

func (s *Server) Router() http.Handler { return s.r }

// Reload swaps the config and rebuilds the token validator. On a bad key file
// the previous validator stays in place.
func (s *Server) Reload(cfg *config.Config) error {
	v, err := jwt.NewValidator(cfg.Auth.JWTPublicKeys, cfg.Auth.Issuer, cfg.Auth.Audience)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg, s.jwt = cfg, v
	s.mu.Unlock()
	return nil
}

func (s *Server) routes() {
	s.r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.r.Get("/v1/info", s.auth(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"name":        "echofsm",
			"time":        time.Now().UTC(),
			"subscribers": s.bus.Len(),
			"dispenser":   s.disp.State(),
		})
	}))

	s.r.Route("/v1/subscribers", func(r chi.Router) {
		r.Get("/", s.listSubscribers)
		r.Post("/{id}/connect", s.auth(s.setConnected(true)))
		r.Post("/{id}/disconnect", s.auth(s.setConnected(false)))
		r.Delete("/{id}", s.auth(s.unregister))
	})

	s.r.Post("/v1/events", s.auth(s.publish))
	s.r.Get("/v1/events", s.stream)

	s.r.Get("/v1/dispenser", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"state":   s.disp.State(),
			"stock":   s.disp.Count(),
			"symbols": s.disp.Symbols(),
		})
	})
	s.r.Post("/v1/dispenser/{symbol}", s.auth(s.applySymbol))
}

type subscriberView struct {
	ID        string `json:"id"`
	Connected bool   `json:"connected"`
	Pending   int    `json:"pending"`
}

func (s *Server) listSubscribers(w http.ResponseWriter, r *http.Request) {
	subs := s.bus.Subscribers()
	out := make([]subscriberView, 0, len(subs))
	for _, sub := range subs {
		out = append(out, subscriberView{ID: sub.ID(), Connected: sub.Connected(), Pending: sub.Pending()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) setConnected(v bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, ok := s.bus.Get(chi.URLParam(r, "id"))
		if !ok {
			http.Error(w, "unknown subscriber", http.StatusNotFound)
			return
		}
		pending := sub.Pending()
		resp := map[string]any{"id": sub.ID(), "connected": v}
		if err := sub.SetConnected(v); err != nil {
			s.log.Warn("flush failed", zap.String("subscriber", sub.ID()), zap.Error(err))
			resp["error"] = err.Error()
		}
		if v {
			resp["flushed"] = pending
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) unregister(w http.ResponseWriter, r *http.Request) {
	sub, err := s.bus.Unregister(chi.URLParam(r, "id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, events.ErrUnknownID) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": sub.ID()})
}

type publishRequest struct {
	Source  string         `json:"source"`
	Payload map[string]any `json:"payload"`
}

func (s *Server) publish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.Source == "" {
		http.Error(w, "source required", http.StatusBadRequest)
		return
	}
	report := s.bus.Publish(sdk.NewEvent(req.Source, req.Payload))
	writeJSON(w, http.StatusAccepted, report)
}

func (s *Server) applySymbol(w http.ResponseWriter, r *http.Request) {
	out := s.disp.Apply(fsm.Symbol(chi.URLParam(r, "symbol")))
	status := http.StatusOK
	if !out.IsApplied() {
		status = http.StatusConflict
	}
	writeJSON(w, status, out)
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		v := s.jwt
		s.mu.RUnlock()
		if !v.Enabled() {
			next(w, r)
			return
		}

		tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || tok == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		if _, err := v.Verify(tok); err != nil {
			s.log.Debug("token rejected", zap.Error(err))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
