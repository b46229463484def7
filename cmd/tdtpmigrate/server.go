package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/ruslano69/tdtp-migrator/pkg/etl"
)

// server - HTTP API контроллера: запуск, опрос статуса, пауза/отмена
type server struct {
	ctrl *etl.Controller
}

// newRouter собирает chi роутер API
func newRouter(ctrl *etl.Controller) http.Handler {
	s := &server{ctrl: ctrl}
	r := chi.NewRouter()

	r.Use(zerologMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/executions", func(r chi.Router) {
		r.Get("/", s.list)
		r.Post("/", s.start)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.status)
			r.Get("/report", s.report)
			r.Post("/pause", s.signal((*etl.Controller).Pause))
			r.Post("/resume", s.signal((*etl.Controller).Resume))
			r.Post("/cancel", s.signal((*etl.Controller).Cancel))
		})
	})
	return r
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) list(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.List())
}

// start запускает выполнение в фоне; тело - ExecutionConfig в JSON
func (s *server) start(w http.ResponseWriter, r *http.Request) {
	cfg := etl.DefaultExecutionConfig()
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	id, err := s.ctrl.Start(r.Context(), cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	log.Info().Str("execution", id).Str("project", cfg.ProjectID).Msg("execution started")

	exec, err := s.ctrl.GetStatus(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Location", "/executions/"+id)
	writeJSON(w, http.StatusAccepted, exec)
}

func (s *server) status(w http.ResponseWriter, r *http.Request) {
	exec, err := s.ctrl.GetStatus(chi.URLParam(r, "id"))
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *server) report(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rep, err := s.ctrl.GetReport(id)
	if err != nil {
		if errors.Is(err, etl.ErrExecutionNotFound) {
			writeControllerError(w, err)
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// signal оборачивает Pause/Resume/Cancel; ответ - состояние после сигнала
func (s *server) signal(fn func(*etl.Controller, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := fn(s.ctrl, id); err != nil {
			writeControllerError(w, err)
			return
		}
		exec, err := s.ctrl.GetStatus(id)
		if err != nil {
			writeControllerError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, exec)
	}
}

func writeControllerError(w http.ResponseWriter, err error) {
	if errors.Is(err, etl.ErrExecutionNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// zerologMiddleware пишет в лог каждый запрос: метод, путь, статус, время
func zerologMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rw.status).
			Dur("latency_ms", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}
