package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fluentlens/fluentlens/internal/core"
	"github.com/fluentlens/fluentlens/internal/core/aggregate"
	apperrors "github.com/fluentlens/fluentlens/internal/errors"
)

// AggregationService is the pipeline surface exposed over HTTP.
type AggregationService interface {
	RecordErrors(ctx context.Context, report core.Report) (*core.RecordResult, error)
	FlushAll(ctx context.Context) (core.FlushReport, error)
	TopErrors(ctx context.Context, userID uuid.UUID, n int) ([]core.RankedError, error)
	Pending(ctx context.Context, userID uuid.UUID) ([]core.PendingDelta, error)
}

// ReportsHandler serves the error-report API.
type ReportsHandler struct {
	Service AggregationService

	// Flush overrides how on-demand flushes run, e.g. through the scheduler
	// so they show up in its last-run status. Defaults to Service.FlushAll.
	Flush func(ctx context.Context) (core.FlushReport, error)
}

// NewReportsHandler returns a handler backed by service.
func NewReportsHandler(service AggregationService) *ReportsHandler {
	return &ReportsHandler{Service: service}
}

type errorPairRequest struct {
	Category    string `json:"errorCategory" validate:"required,excludes=:"`
	Subcategory string `json:"errorSubCategory" validate:"required,excludes=:"`
}

// ReportRequest is the wire form of one utterance's detected errors.
type ReportRequest struct {
	UserID         string             `json:"user_id" validate:"required,uuid"`
	ConversationID string             `json:"conversation_id" validate:"required,uuid"`
	UtteranceID    string             `json:"utterance_id" validate:"required,uuid"`
	Errors         []errorPairRequest `json:"errors" validate:"dive"`
}

// legacyReportRequest is the /simulate-and-generate body. Extra fields are
// ignored and the errors list must be present, though it may be empty.
type legacyReportRequest struct {
	UserID         string             `json:"user_id" validate:"required,uuid"`
	ConversationID string             `json:"conversation_id" validate:"required,uuid"`
	UtteranceID    string             `json:"utterance_id" validate:"required,uuid"`
	Errors         []errorPairRequest `json:"errors" validate:"required,dive"`
}

func (req ReportRequest) toReport() core.Report {
	report := core.Report{
		UserID:         uuid.MustParse(req.UserID),
		ConversationID: uuid.MustParse(req.ConversationID),
		UtteranceID:    uuid.MustParse(req.UtteranceID),
		Errors:         make([]core.ErrorPair, 0, len(req.Errors)),
	}
	for _, e := range req.Errors {
		report.Errors = append(report.Errors, core.ErrorPair{Category: e.Category, Subcategory: e.Subcategory})
	}
	return report
}

// PairCount is one category pair with a count.
type PairCount struct {
	Category    string `json:"errorCategory"`
	Subcategory string `json:"errorSubCategory"`
	Count       int64  `json:"count"`
}

// RecordResponse reports the counters a report touched.
type RecordResponse struct {
	UserID      string      `json:"user_id"`
	UtteranceID string      `json:"utterance_id"`
	LiveCounts  []PairCount `json:"live_counts"`
	Pending     []PairCount `json:"pending"`
}

// FlushResponse is the JSON form of a flush report.
type FlushResponse struct {
	Scanned    int    `json:"scanned"`
	Applied    int    `json:"applied"`
	Vanished   int    `json:"vanished"`
	Malformed  int    `json:"malformed"`
	Failed     int    `json:"failed"`
	Delta      int64  `json:"delta"`
	StartedAt  string `json:"started_at"`
	DurationMS int64  `json:"duration_ms"`
}

// TopErrorsResponse lists a user's most frequent errors.
type TopErrorsResponse struct {
	UserID    string             `json:"user_id"`
	TopErrors []core.RankedError `json:"top_errors"`
}

// PendingResponse lists a user's unflushed deltas.
type PendingResponse struct {
	UserID  string         `json:"user_id"`
	Pending []PendingEntry `json:"pending"`
}

// PendingEntry is one unflushed delta.
type PendingEntry struct {
	Category         string `json:"errorCategory"`
	Subcategory      string `json:"errorSubCategory"`
	Delta            int64  `json:"delta"`
	ExpiresInSeconds *int64 `json:"expires_in_seconds,omitempty"`
}

// ExerciseError is one entry of the exercise-generation response.
type ExerciseError struct {
	Category    string `json:"errorCategory"`
	Subcategory string `json:"errorSubCategory"`
	Frequency   int64  `json:"errorFrequency"`
}

// ExerciseResponse is returned by GET /generate-exercise.
type ExerciseResponse struct {
	TopErrors []ExerciseError `json:"top_errors"`
}

// MessageResponse carries a human-readable acknowledgement.
type MessageResponse struct {
	Message string         `json:"message"`
	Flush   *FlushResponse `json:"flush,omitempty"`
}

// RecordErrors handles POST /v1/reports.
func (h *ReportsHandler) RecordErrors(w http.ResponseWriter, r *http.Request) {
	var req ReportRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	report := req.toReport()
	result, err := h.Service.RecordErrors(r.Context(), report)
	if err != nil {
		respondWithError(w, r, apperrors.FromAggregateError(r.Context(), err))
		return
	}

	writeJSON(w, http.StatusOK, RecordResponse{
		UserID:      req.UserID,
		UtteranceID: req.UtteranceID,
		LiveCounts:  pairCounts(report.Errors, result.LiveCounts),
		Pending:     pairCounts(report.Errors, result.Accumulated),
	})
}

// FlushAll handles POST /v1/flush.
func (h *ReportsHandler) FlushAll(w http.ResponseWriter, r *http.Request) {
	report, err := h.flush(r.Context())
	if err != nil {
		respondWithError(w, r, apperrors.FromAggregateError(r.Context(), err))
		return
	}
	writeJSON(w, http.StatusOK, flushResponse(report))
}

// TopErrors handles GET /v1/users/{userID}/top-errors?n=5.
func (h *ReportsHandler) TopErrors(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r, chi.URLParam(r, "userID"))
	if !ok {
		return
	}
	n, ok := limitParam(w, r, "n")
	if !ok {
		return
	}

	ranked, err := h.Service.TopErrors(r.Context(), userID, n)
	if err != nil {
		respondWithError(w, r, apperrors.FromAggregateError(r.Context(), err))
		return
	}
	writeJSON(w, http.StatusOK, TopErrorsResponse{UserID: userID.String(), TopErrors: ranked})
}

// Pending handles GET /v1/users/{userID}/pending.
func (h *ReportsHandler) Pending(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r, chi.URLParam(r, "userID"))
	if !ok {
		return
	}

	pending, err := h.Service.Pending(r.Context(), userID)
	if err != nil {
		respondWithError(w, r, apperrors.FromAggregateError(r.Context(), err))
		return
	}

	entries := make([]PendingEntry, 0, len(pending))
	for _, p := range pending {
		entry := PendingEntry{Category: p.Category, Subcategory: p.Subcategory, Delta: p.Delta}
		if p.ExpiresIn != nil {
			secs := int64(p.ExpiresIn.Round(time.Second) / time.Second)
			entry.ExpiresInSeconds = &secs
		}
		entries = append(entries, entry)
	}
	writeJSON(w, http.StatusOK, PendingResponse{UserID: userID.String(), Pending: entries})
}

// SimulateAndGenerate handles POST /simulate-and-generate: it records the
// report and flushes immediately.
func (h *ReportsHandler) SimulateAndGenerate(w http.ResponseWriter, r *http.Request) {
	var req legacyReportRequest
	if !decodeLenient(w, r, &req) {
		return
	}

	if _, err := h.Service.RecordErrors(r.Context(), ReportRequest(req).toReport()); err != nil {
		respondWithError(w, r, apperrors.FromAggregateError(r.Context(), err))
		return
	}

	report, err := h.flush(r.Context())
	if err != nil {
		respondWithError(w, r, apperrors.FromAggregateError(r.Context(), err))
		return
	}

	flushed := flushResponse(report)
	writeJSON(w, http.StatusOK, MessageResponse{
		Message: "Error frequencies simulated and batch processing triggered successfully.",
		Flush:   &flushed,
	})
}

// GenerateExercise handles GET /generate-exercise?user_id=&top_n=5.
func (h *ReportsHandler) GenerateExercise(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r, r.URL.Query().Get("user_id"))
	if !ok {
		return
	}
	n, ok := limitParam(w, r, "top_n")
	if !ok {
		return
	}

	ranked, err := h.Service.TopErrors(r.Context(), userID, n)
	if err != nil {
		respondWithError(w, r, apperrors.FromAggregateError(r.Context(), err))
		return
	}

	out := ExerciseResponse{TopErrors: make([]ExerciseError, 0, len(ranked))}
	for _, e := range ranked {
		out.TopErrors = append(out.TopErrors, ExerciseError(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *ReportsHandler) flush(ctx context.Context) (core.FlushReport, error) {
	if h.Flush != nil {
		return h.Flush(ctx)
	}
	return h.Service.FlushAll(aggregate.WithTrigger(ctx, aggregate.TriggerManual))
}

func userIDParam(w http.ResponseWriter, r *http.Request, raw string) (uuid.UUID, bool) {
	userID, err := uuid.Parse(raw)
	if err != nil || userID == uuid.Nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "user_id must be a non-nil UUID"))
		return uuid.Nil, false
	}
	return userID, true
}

func limitParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return aggregate.DefaultTopN, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, name+" must be a positive integer"))
		return 0, false
	}
	return n, true
}

// pairCounts lists counts in first-reported order.
func pairCounts(order []core.ErrorPair, counts map[core.ErrorPair]int64) []PairCount {
	out := make([]PairCount, 0, len(counts))
	seen := make(map[core.ErrorPair]bool, len(counts))
	for _, pair := range order {
		if seen[pair] {
			continue
		}
		seen[pair] = true
		if count, ok := counts[pair]; ok {
			out = append(out, PairCount{Category: pair.Category, Subcategory: pair.Subcategory, Count: count})
		}
	}
	return out
}

func flushResponse(report core.FlushReport) FlushResponse {
	return FlushResponse{
		Scanned:    report.Scanned,
		Applied:    report.Applied,
		Vanished:   report.Vanished,
		Malformed:  report.Malformed,
		Failed:     report.Failed,
		Delta:      report.Delta,
		StartedAt:  report.StartedAt.UTC().Format(time.RFC3339),
		DurationMS: report.Duration.Milliseconds(),
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}
