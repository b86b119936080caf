package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"trapper/internal/audit"
	id "trapper/pkg/domain"
	dErrors "trapper/pkg/domain-errors"
	"trapper/pkg/platform/httputil"
	"trapper/pkg/platform/sentinel"
)

// Store defines the decision log queries the handler exposes.
type Store interface {
	GetByID(ctx context.Context, decisionID id.DecisionID) (*audit.Decision, error)
	FindByStagedRecord(ctx context.Context, sourceSystem, sourceRecordID string) (*audit.Decision, error)
	ListByPerson(ctx context.Context, personID id.PersonID, limit int) ([]*audit.Decision, error)
	ListByRange(ctx context.Context, from, to time.Time, limit int) ([]*audit.Decision, error)
}

// Handler serves read-only decision log queries.
type Handler struct {
	store  Store
	logger *slog.Logger
}

// New constructs a decision log handler.
func New(store Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// Register mounts decision log endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/decisions", h.HandleList)
	r.Get("/decisions/{decisionID}", h.HandleGet)
	r.Get("/decisions/{decisionID}/explanation", h.HandleExplanation)
}

// HandleGet handles GET /decisions/{decisionID}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	decision, ok := h.lookup(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, decision)
}

// HandleExplanation handles GET /decisions/{decisionID}/explanation: the
// full ranked candidate list behind one decision.
func (h *Handler) HandleExplanation(w http.ResponseWriter, r *http.Request) {
	decision, ok := h.lookup(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"decision_id": decision.ID,
		"decision":    decision.Decision,
		"candidates":  decision.Candidates,
	})
}

// HandleList handles GET /decisions filtered by person, staged record, or
// time range. Exactly one filter shape applies per request.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	limit := parseLimit(q.Get("limit"))

	switch {
	case q.Get("person_id") != "":
		personID, err := id.ParsePersonID(q.Get("person_id"))
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		decisions, err := h.store.ListByPerson(ctx, personID, limit)
		if err != nil {
			h.writeStoreError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"decisions": decisions})

	case q.Get("source_system") != "" && q.Get("source_record_id") != "":
		decision, err := h.store.FindByStagedRecord(ctx, q.Get("source_system"), q.Get("source_record_id"))
		if err != nil {
			h.writeStoreError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"decisions": []*audit.Decision{decision}})

	case q.Get("from") != "" && q.Get("to") != "":
		from, err := time.Parse(time.RFC3339, q.Get("from"))
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "from must be RFC 3339"))
			return
		}
		to, err := time.Parse(time.RFC3339, q.Get("to"))
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "to must be RFC 3339"))
			return
		}
		decisions, err := h.store.ListByRange(ctx, from, to, limit)
		if err != nil {
			h.writeStoreError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"decisions": decisions})

	default:
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation,
			"filter by person_id, by source_system+source_record_id, or by from+to"))
	}
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*audit.Decision, bool) {
	decisionID, err := id.ParseDecisionID(chi.URLParam(r, "decisionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return nil, false
	}
	decision, err := h.store.GetByID(r.Context(), decisionID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return nil, false
	}
	return decision, true
}

func (h *Handler) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, sentinel.ErrNotFound) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "decision not found"))
		return
	}
	h.logger.ErrorContext(r.Context(), "decision log query failed", "error", err)
	httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "decision log query failed"))
}

func parseLimit(raw string) int {
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
