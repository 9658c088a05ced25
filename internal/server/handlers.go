// Package server exposes the reading pipeline over HTTP: job submission,
// polling, cancellation and a live event stream (SSE by default, websocket
// on upgrade).
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/arcana-app/arcana-go/internal/job"
	"github.com/arcana-app/arcana-go/internal/metrics"
	"github.com/arcana-app/arcana-go/internal/models"
	"github.com/arcana-app/arcana-go/internal/orchestrator"
	"github.com/arcana-app/arcana-go/internal/tarot"
)

// Idempotency claims client-supplied ids across server instances. A nil
// Idempotency falls back to the in-memory dedupe the job manager already
// does.
type Idempotency interface {
	Reserve(ctx context.Context, clientID string, ttl time.Duration) bool
}

// AlertLister reads recent quality alerts from the durable store.
type AlertLister interface {
	Alerts(ctx context.Context, limit int) ([]models.Alert, error)
}

// maxQuestionLen caps the free-text question. Anything longer is almost
// certainly a paste accident, and it bloats every prompt downstream.
const maxQuestionLen = 2000

// Handler carries the pipeline dependencies for all HTTP endpoints.
type Handler struct {
	jobs       *job.Manager
	orch       *orchestrator.Orchestrator
	idem       Idempotency
	alerts     AlertLister
	reserveTTL time.Duration
	logger     *slog.Logger
}

// NewHandler creates the HTTP handler set. idem and alerts may be nil.
func NewHandler(jobs *job.Manager, orch *orchestrator.Orchestrator, idem Idempotency, alerts AlertLister, reserveTTL time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if reserveTTL <= 0 {
		reserveTTL = 10 * time.Minute
	}
	return &Handler{
		jobs:       jobs,
		orch:       orch,
		idem:       idem,
		alerts:     alerts,
		reserveTTL: reserveTTL,
		logger:     logger,
	}
}

// Router builds the route table and wraps it with request instrumentation.
func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/readings", h.startReading).Methods(http.MethodPost)
	api.HandleFunc("/readings", h.listReadings).Methods(http.MethodGet)
	api.HandleFunc("/readings/{id}", h.getReading).Methods(http.MethodGet)
	api.HandleFunc("/readings/{id}/stream", h.streamReading).Methods(http.MethodGet)
	api.HandleFunc("/readings/{id}/cancel", h.cancelReading).Methods(http.MethodPost)
	api.HandleFunc("/spreads", h.listSpreads).Methods(http.MethodGet)
	api.HandleFunc("/alerts", h.listAlerts).Methods(http.MethodGet)

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	return metrics.InstrumentHandler(r)
}

// startResponse is the body of a successful job submission.
type startResponse struct {
	JobID   string `json:"job_id"`
	Created bool   `json:"created"`
}

// errorResponse is the uniform error body. Code is machine-readable,
// Message is for humans.
type errorResponse struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (h *Handler) startReading(w http.ResponseWriter, r *http.Request) {
	var req models.ReadingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON")
		return
	}
	if code, msg := validateRequest(req); code != "" {
		writeError(w, http.StatusBadRequest, code, msg)
		return
	}

	// A replayed client id resolves to the existing job instead of
	// creating a duplicate. The redis claim covers restarts and peers;
	// Create's in-memory check covers the rest.
	if req.ClientID != "" && h.idem != nil {
		if fresh := h.idem.Reserve(r.Context(), req.ClientID, h.reserveTTL); !fresh {
			if view, err := h.jobs.Get(r.Context(), req.ClientID); err == nil {
				writeJSON(w, http.StatusAccepted, startResponse{JobID: view.ID, Created: false})
				return
			}
		}
	}

	view, created, err := h.jobs.Create(r.Context(), req)
	if err != nil {
		h.logger.Error("job creation failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "could not persist the job, retry shortly")
		return
	}
	if created {
		h.orch.Start(view.ID, req)
	}
	writeJSON(w, http.StatusAccepted, startResponse{JobID: view.ID, Created: created})
}

func (h *Handler) getReading(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	view, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no such reading")
			return
		}
		h.logger.Error("job lookup failed", "job_id", id, "error", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "could not load the job, retry shortly")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// listReadings returns the views of all jobs still resident in memory.
// Archived or retired jobs are not listed; fetch those by id.
func (h *Handler) listReadings(w http.ResponseWriter, r *http.Request) {
	views := h.jobs.Views(r.Context())
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) cancelReading(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.jobs.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, job.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no such reading")
			return
		}
		h.logger.Error("cancel failed", "job_id", id, "error", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "could not cancel the job, retry shortly")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) listSpreads(w http.ResponseWriter, _ *http.Request) {
	type spread struct {
		ID        string   `json:"id"`
		Name      string   `json:"name"`
		Positions []string `json:"positions"`
	}
	all := tarot.Spreads()
	out := make([]spread, 0, len(all))
	for _, s := range all {
		out = append(out, spread{ID: s.ID, Name: s.Name, Positions: s.Positions})
	}
	writeJSON(w, http.StatusOK, out)
}

// defaultAlertLimit bounds the alert listing when no limit is given.
const defaultAlertLimit = 50

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if h.alerts == nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "alert store is not configured")
		return
	}
	limit := defaultAlertLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	alerts, err := h.alerts.Alerts(r.Context(), limit)
	if err != nil {
		h.logger.Error("alert listing failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "could not load alerts, retry shortly")
		return
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// validateRequest rejects payloads that could never produce a reading.
// Returns an empty code when the request is acceptable.
func validateRequest(req models.ReadingRequest) (code, msg string) {
	spread, ok := tarot.SpreadByID(req.Spread)
	if !ok {
		return "unknown_spread", "spread " + req.Spread + " is not in the catalogue"
	}
	if len(req.Cards) == 0 {
		return "no_cards", "a reading needs at least one drawn card"
	}
	if len(req.Cards) != len(spread.Positions) {
		return "card_count_mismatch", fmt.Sprintf("spread %s takes exactly %d cards", spread.ID, len(spread.Positions))
	}
	for _, c := range req.Cards {
		if c.Name == "" {
			return "empty_card_name", "every drawn card needs a name"
		}
	}
	if len(req.Question) > maxQuestionLen {
		return "question_too_long", "question exceeds the length limit"
	}
	return "", ""
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
