package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/ambrosia-alliance/processor/internal/accuracy"
	"github.com/ambrosia-alliance/processor/internal/ensemble"
	"github.com/ambrosia-alliance/processor/internal/model"
	"github.com/ambrosia-alliance/processor/internal/pipeline"
	"github.com/ambrosia-alliance/processor/internal/review"
	"github.com/ambrosia-alliance/processor/internal/store"
)

const maxBodyBytes = 1 << 20

type handlers struct {
	c      *Container
	logger *slog.Logger
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, review.ErrAlreadyReviewed), errors.Is(err, store.ErrAlreadyReviewed):
		return http.StatusConflict
	case errors.Is(err, model.ErrUnknownCategory),
		errors.Is(err, review.ErrNoReviewer),
		errors.Is(err, ensemble.ErrEmptyText):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		h.logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// identity returns the authenticated subject, or fallback when authentication is off
func identity(r *http.Request, fallback string) string {
	if claims := ClaimsFrom(r.Context()); claims != nil {
		return claims.Subject
	}
	return strings.TrimSpace(fallback)
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type categoryView struct {
	Name          model.Category      `json:"name"`
	Description   string              `json:"description"`
	ReviewEnabled bool                `json:"review_enabled"`
	Status        model.HandoffStatus `json:"status"`
}

func (h *handlers) categoryViews(ctx context.Context) ([]categoryView, error) {
	snapshot, err := h.c.Policy.State().Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	set := h.c.Tracker.Categories()
	out := make([]categoryView, 0, set.Len())
	for _, c := range set.All() {
		enabled := snapshot[c]
		out = append(out, categoryView{
			Name:          c,
			Description:   c.Describe(),
			ReviewEnabled: enabled,
			Status:        model.StatusFor(enabled),
		})
	}
	return out, nil
}

// GET /v1/categories
func (h *handlers) categories(w http.ResponseWriter, r *http.Request) {
	views, err := h.categoryViews(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

type textRequest struct {
	Text        string `json:"text"`
	Source      string `json:"source,omitempty"`
	Index       int    `json:"index,omitempty"`
	ForceReview bool   `json:"force_review,omitempty"`
}

func (t textRequest) unit() model.TextUnit {
	return model.TextUnit{Text: t.Text, Origin: model.Origin{Source: t.Source, Index: t.Index}}
}

// POST /v1/classify
func (h *handlers) classify(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decode(w, r, &req) {
		return
	}
	result, err := h.c.Classifier.Evaluate(r.Context(), req.unit())
	if err != nil && result == nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// POST /v1/samples
func (h *handlers) ingest(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decode(w, r, &req) {
		return
	}
	sample, err := h.c.Ingester.ProcessWith(r.Context(), req.unit(), pipeline.Options{ForceReview: req.ForceReview})
	if sample == nil {
		h.fail(w, r, err)
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "sample stored with invariant violation", "sample", sample.ID, "error", err)
	}
	writeJSON(w, http.StatusCreated, sample)
}

// GET /v1/reviews?limit=N
func (h *handlers) pending(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	samples, err := h.c.Review.Pending(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, samples)
}

// GET /v1/reviews/{id}
func (h *handlers) getSample(w http.ResponseWriter, r *http.Request) {
	sample, err := h.c.Review.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sample)
}

type confirmRequest struct {
	Labels          []string `json:"labels"`
	AcceptPredicted bool     `json:"accept_predicted"`
	Reviewer        string   `json:"reviewer,omitempty"` // Ignored when authentication is on
}

// POST /v1/reviews/{id}/confirm
func (h *handlers) confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !decode(w, r, &req) {
		return
	}
	result, err := h.c.Review.Confirm(r.Context(), review.ConfirmCommand{
		SampleID:        mux.Vars(r)["id"],
		Labels:          req.Labels,
		AcceptPredicted: req.AcceptPredicted,
		Reviewer:        identity(r, req.Reviewer),
	})
	if err != nil && result == nil {
		h.fail(w, r, err)
		return
	}
	if err != nil {
		// Labels and metrics are stored; only the policy pass failed.
		h.logger.WarnContext(r.Context(), "confirmed without policy evaluation", "sample", result.Sample.ID, "error", err)
	}
	writeJSON(w, http.StatusOK, result)
}

// POST /v1/reviews/{id}/skip
func (h *handlers) skip(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	count, err := h.c.Review.Skip(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "skip_count": count})
}

// GET /v1/metrics
func (h *handlers) metrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	all, err := h.c.Tracker.All(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	snapshot, err := h.c.Policy.State().Snapshot(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accuracy.Summarise(all, snapshot, h.c.Tracker.Criteria()))
}

// GET /v1/metrics/{category}
func (h *handlers) categoryMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	category, err := h.c.Tracker.Categories().Parse(mux.Vars(r)["category"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	m, err := h.c.Tracker.Metrics(ctx, category)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	enabled, err := h.c.Policy.State().ReviewEnabled(ctx, category)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accuracy.BuildReport(m, enabled, h.c.Tracker.Criteria()))
}

// GET /v1/handoff
func (h *handlers) handoffStatus(w http.ResponseWriter, r *http.Request) {
	views, err := h.categoryViews(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	events, err := h.c.Policy.State().Events(r.Context(), "", 20)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": views, "events": events})
}

// POST /v1/handoff/evaluate
func (h *handlers) evaluate(w http.ResponseWriter, r *http.Request) {
	evals, err := h.c.Policy.EvaluateAll(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, evals)
}

type revertRequest struct {
	Reason   string `json:"reason"`
	Operator string `json:"operator,omitempty"` // Ignored when authentication is on
}

// POST /v1/handoff/{category}/revert
func (h *handlers) revert(w http.ResponseWriter, r *http.Request) {
	var req revertRequest
	if !decode(w, r, &req) {
		return
	}
	if claims := ClaimsFrom(r.Context()); claims != nil && claims.Role != RoleOperator {
		writeError(w, http.StatusForbidden, "operator role required")
		return
	}
	operator := identity(r, req.Operator)
	if operator == "" {
		writeError(w, http.StatusBadRequest, "operator is required")
		return
	}

	category := model.Category(mux.Vars(r)["category"])
	changed, err := h.c.Policy.Revert(r.Context(), category, operator, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"category": category, "changed": changed, "review_enabled": true})
}
