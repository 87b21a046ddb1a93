package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"masto-digest/internal/domain"
	"masto-digest/internal/usecase/status"
)

// StatusProvider отдаёт отчёты о состоянии кэша сводок.
type StatusProvider interface {
	Build(ctx context.Context, runs int) (status.Report, error)
	Account(ctx context.Context, handle string) (status.AccountStatus, error)
}

// Server оборачивает chi.Router с базовыми middlewares.
type Server struct {
	Router chi.Router
	log    zerolog.Logger

	mu  sync.Mutex
	srv *http.Server
}

// NewServer создаёт HTTP сервер с read-only API состояния.
func NewServer(logger zerolog.Logger, provider StatusProvider) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s := &Server{Router: r, log: logger}

	r.Get("/api/v1/status", func(w http.ResponseWriter, r *http.Request) {
		runs := 10
		if raw := r.URL.Query().Get("runs"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "runs must be a non-negative integer")
				return
			}
			runs = n
		}
		report, err := provider.Build(r.Context(), runs)
		if err != nil {
			s.log.Error().Err(err).Msg("http: отчёт о состоянии")
			writeError(w, http.StatusInternalServerError, "failed to build status")
			return
		}
		writeJSON(w, http.StatusOK, report)
	})
	r.Get("/api/v1/accounts/{handle}", func(w http.ResponseWriter, r *http.Request) {
		row, err := provider.Account(r.Context(), chi.URLParam(r, "handle"))
		if errors.Is(err, domain.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		if err != nil {
			s.log.Error().Err(err).Msg("http: состояние аккаунта")
			writeError(w, http.StatusInternalServerError, "failed to load account")
			return
		}
		writeJSON(w, http.StatusOK, row)
	})
	return s
}

// Start запускает http.Server.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()
	s.log.Info().Str("addr", addr).Msg("HTTP сервер запущен")
	return srv.ListenAndServe()
}

// Shutdown позволяет корректно завершить работу.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}
