// Package api exposes the read-only HTTP interface over the venue store.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/gatherstone/venuescout/internal/model"
	"github.com/gatherstone/venuescout/internal/store"
)

const maxPageSize = 200

// Server wires HTTP handlers to the venue store.
type Server struct {
	router chi.Router
	st     store.Store
}

// NewServer constructs a Server with middleware and routes.
func NewServer(st store.Store) *Server {
	s := &Server{st: st}

	r := chi.NewRouter()
	r.Use(loggingMiddleware)
	r.Use(recoverMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{http.MethodGet},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.healthz)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Route("/venues", func(r chi.Router) {
			r.Get("/", s.listVenues)
			r.Get("/{venue_id}", s.getVenue)
		})
		r.Get("/runs/{run_id}/errors", s.listErrors)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	counts, err := s.st.Count(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "count failed")
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) listVenues(w http.ResponseWriter, r *http.Request) {
	filter := store.VenueFilter{ActiveOnly: true, Limit: 50}

	if status := r.URL.Query().Get("status"); status != "" {
		switch model.PrevetStatus(status) {
		case model.PrevetPending, model.PrevetYes, model.PrevetNo, model.PrevetNeedsConfirmation:
			filter.PrevetStatus = model.PrevetStatus(status)
		default:
			writeError(w, http.StatusBadRequest, "invalid status filter")
			return
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxPageSize {
			writeError(w, http.StatusBadRequest, "limit must be 1-200")
			return
		}
		filter.Limit = n
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "offset must be non-negative")
			return
		}
		filter.Offset = n
	}

	venues, err := s.st.ListVenues(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	if venues == nil {
		venues = []model.Venue{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"venues": venues, "count": len(venues)})
}

func (s *Server) getVenue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "venue_id")
	venue, err := s.st.GetVenue(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "venue not found")
		return
	}
	writeJSON(w, http.StatusOK, venue)
}

func (s *Server) listErrors(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	errs, err := s.st.ListErrors(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list errors failed")
		return
	}
	if errs == nil {
		errs = []model.ProcessingError{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"errors": errs, "count": len(errs)})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		zap.L().Info("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				zap.L().Error("api: panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
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

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Warn("api: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
