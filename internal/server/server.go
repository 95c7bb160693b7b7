// Package server exposes the operator surface: health, manual sync triggers,
// recent outcomes, and circuit state. It never writes sync data itself; the
// trigger just marks the event due and the next cycle picks it up.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/racehub/raceday-worker/internal/models"
	"github.com/racehub/raceday-worker/internal/repository"
	"github.com/racehub/raceday-worker/internal/scheduler"
)

const defaultOutcomeLimit = 50

type EventTrigger interface {
	ForceSyncNow(ctx context.Context, partnerID, eventID string) error
}

type OutcomeLister interface {
	ListRecentByPartner(ctx context.Context, partnerID string, limit int) ([]models.SyncOutcome, error)
	ListRecentByEvent(ctx context.Context, eventID string, limit int) ([]models.SyncOutcome, error)
}

type CircuitReporter interface {
	Snapshot() []scheduler.CircuitStatus
}

type Server struct {
	trigger  EventTrigger
	outcomes OutcomeLister
	circuits CircuitReporter
	logger   *zap.Logger
	http     *http.Server
}

func New(addr string, trigger EventTrigger, outcomes OutcomeLister, circuits CircuitReporter, logger *zap.Logger) *Server {
	s := &Server{
		trigger:  trigger,
		outcomes: outcomes,
		circuits: circuits,
		logger:   logger,
	}
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Routes builds the router. Exposed separately so tests can drive the
// handlers without binding a port.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/partners/{partnerID}/events/{eventID}/sync", s.handleForceSync)
		r.Get("/partners/{partnerID}/outcomes", s.handlePartnerOutcomes)
		r.Get("/events/{eventID}/outcomes", s.handleEventOutcomes)
		r.Get("/circuits", s.handleCircuits)
	})
	return r
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleForceSync(w http.ResponseWriter, r *http.Request) {
	partnerID := chi.URLParam(r, "partnerID")
	eventID := chi.URLParam(r, "eventID")

	err := s.trigger.ForceSyncNow(r.Context(), partnerID, eventID)
	if err != nil {
		if errors.Is(err, repository.ErrEventNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "event not found"})
			return
		}
		s.logger.Error("force sync failed",
			zap.String("partner_id", partnerID),
			zap.String("event_id", eventID),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	s.logger.Info("manual sync triggered",
		zap.String("partner_id", partnerID),
		zap.String("event_id", eventID))
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":   "queued",
		"event_id": eventID,
	})
}

func (s *Server) handlePartnerOutcomes(w http.ResponseWriter, r *http.Request) {
	partnerID := chi.URLParam(r, "partnerID")

	outcomes, err := s.outcomes.ListRecentByPartner(r.Context(), partnerID, limitParam(r))
	if err != nil {
		s.logger.Error("failed to list outcomes", zap.String("partner_id", partnerID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"outcomes": outcomes})
}

func (s *Server) handleEventOutcomes(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	outcomes, err := s.outcomes.ListRecentByEvent(r.Context(), eventID, limitParam(r))
	if err != nil {
		s.logger.Error("failed to list outcomes", zap.String("event_id", eventID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"outcomes": outcomes})
}

func (s *Server) handleCircuits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"circuits": s.circuits.Snapshot()})
}

func limitParam(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultOutcomeLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 500 {
		return defaultOutcomeLimit
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
