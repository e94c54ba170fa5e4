package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/subsnooze/renewal-service/internal/app"
	"github.com/subsnooze/renewal-service/internal/domain"
	"github.com/subsnooze/renewal-service/internal/renewal"
	"github.com/subsnooze/renewal-service/internal/store"
)

// JobRunner runs a named batch job.
type JobRunner interface {
	Run(ctx context.Context, job string) (app.BatchResult, error)
}

// CancellationService records cancel attempts and their verification.
type CancellationService interface {
	RecordAttempt(ctx context.Context, id string) (domain.Subscription, error)
	Verify(ctx context.Context, id string, confirmed bool) (app.Verification, error)
}

// Handler serves the renewal service HTTP API.
type Handler struct {
	jobs    JobRunner
	cancels CancellationService
	loc     *time.Location
	logger  *slog.Logger
	now     func() time.Time
}

// NewHandler creates a new handler. loc is the calendar renewal dates are read in.
func NewHandler(jobs JobRunner, cancels CancellationService, loc *time.Location, logger *slog.Logger) *Handler {
	return &Handler{jobs: jobs, cancels: cancels, loc: loc, logger: logger, now: time.Now}
}

func (h *Handler) handleRunJob(w http.ResponseWriter, r *http.Request) {
	job := chi.URLParam(r, "job")

	result, err := h.jobs.Run(r.Context(), job)
	switch {
	case errors.Is(err, app.ErrUnknownJob):
		respondWithError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, app.ErrJobRunning):
		respondWithError(w, http.StatusConflict, "job is already running")
		return
	case err != nil:
		h.logger.Error("manual job run failed", "job", job, "error", err)
		respondWithError(w, http.StatusInternalServerError, "job failed")
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleCancelAttempt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sub, err := h.cancels.RecordAttempt(r.Context(), id)
	if err != nil {
		h.respondWithCancellationError(w, id, err)
		return
	}

	respondWithJSON(w, http.StatusOK, sub)
}

type verificationRequest struct {
	Confirmed *bool `json:"confirmed"`
}

func (h *Handler) handleCancelVerification(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req verificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Confirmed == nil {
		respondWithError(w, http.StatusBadRequest, "body must be {\"confirmed\": true|false}")
		return
	}

	result, err := h.cancels.Verify(r.Context(), id, *req.Confirmed)
	if err != nil {
		h.respondWithCancellationError(w, id, err)
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) respondWithCancellationError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, store.ErrSubscriptionNotFound):
		respondWithError(w, http.StatusNotFound, "subscription not found")
	case errors.Is(err, app.ErrAlreadyCancelled), errors.Is(err, app.ErrNoCancelAttempt):
		respondWithError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("cancellation request failed", "subscription_id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "internal error")
	}
}

type previewRequest struct {
	RenewalDate  string `json:"renewal_date"`
	BillingCycle string `json:"billing_cycle"`
	Status       string `json:"status"`
	Today        string `json:"today,omitempty"`
	Timezone     string `json:"timezone,omitempty"`
}

type previewResponse struct {
	RenewalDate string         `json:"renewal_date"`
	DaysUntil   int            `json:"days_until"`
	Urgency     domain.Urgency `json:"urgency"`
	RolledOver  bool           `json:"rolled_over"`
}

// handlePreview derives the renewal outlook for a date the client has not
// saved yet. It touches no storage.
func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	status := domain.SubscriptionStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if status == "" {
		status = domain.StatusActive
	}
	if status != domain.StatusActive && status != domain.StatusCancelled {
		respondWithError(w, http.StatusBadRequest, "status must be active or cancelled")
		return
	}

	loc := h.loc
	if tz := strings.TrimSpace(req.Timezone); tz != "" {
		named, err := time.LoadLocation(tz)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "unknown timezone")
			return
		}
		loc = named
	}

	today := renewal.Today(h.now(), loc)
	if req.Today != "" {
		parsed, err := renewal.ParseLocalDate(req.Today, loc)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		today = parsed
	}

	cycle := domain.BillingCycle(strings.ToLower(strings.TrimSpace(req.BillingCycle)))
	outlook, err := renewal.Snapshot(req.RenewalDate, cycle, status, today, loc)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, previewResponse{
		RenewalDate: renewal.FormatLocalDate(outlook.RenewalDate),
		DaysUntil:   outlook.DaysUntil,
		Urgency:     outlook.Urgency,
		RolledOver:  outlook.RolledOver,
	})
}

// respondWithJSON writes JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
