package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"trapper/internal/blocklist"
	blockstore "trapper/internal/blocklist/store"
	"trapper/internal/match"
	"trapper/internal/namerules"
	dErrors "trapper/pkg/domain-errors"
	"trapper/pkg/platform/httputil"
	"trapper/pkg/platform/sentinel"
	"trapper/pkg/requestcontext"
)

// Invalidator drops a memoized snapshot so the next read hits the store.
type Invalidator interface {
	Invalidate()
}

// Handler serves the operator admin surface: blocklists, name rules, and
// scoring parameters. Callers mount it behind RequireOperator.
type Handler struct {
	blocklists     blockstore.Store
	blockLoader    Invalidator
	patterns       namerules.Store
	patternsLoader Invalidator
	params         *match.ParamsHolder
	logger         *slog.Logger
}

// New constructs the admin handler.
func New(
	blocklists blockstore.Store,
	blockLoader Invalidator,
	patterns namerules.Store,
	patternsLoader Invalidator,
	params *match.ParamsHolder,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		blocklists:     blocklists,
		blockLoader:    blockLoader,
		patterns:       patterns,
		patternsLoader: patternsLoader,
		params:         params,
		logger:         logger,
	}
}

// Register mounts admin endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/blocklist", h.HandleListBlocklist)
	r.Post("/blocklist/hard", h.HandleAddHard)
	r.Post("/blocklist/soft", h.HandleAddSoft)
	r.Get("/name-patterns", h.HandleListPatterns)
	r.Post("/name-patterns", h.HandleAddPattern)
	r.Get("/scoring/params", h.HandleGetParams)
	r.Put("/scoring/params", h.HandleUpdateParams)
}

// HandleListBlocklist handles GET /blocklist.
func (h *Handler) HandleListBlocklist(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hard, err := h.blocklists.ListHard(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "blocklist list failed", "error", err)
		httputil.WriteError(w, err)
		return
	}
	soft, err := h.blocklists.ListSoft(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "blocklist list failed", "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, BlocklistResponse{
		Hard: hardResponses(hard),
		Soft: softResponses(soft),
	})
}

// HandleAddHard handles POST /blocklist/hard.
func (h *Handler) HandleAddHard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[AddHardRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	entry, err := req.Entry()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.blocklists.AddHard(ctx, entry); err != nil {
		h.logger.ErrorContext(ctx, "hard blocklist add failed",
			"request_id", requestID, "type", entry.Type, "error", err)
		httputil.WriteError(w, mapStoreErr(err))
		return
	}
	h.blockLoader.Invalidate()
	h.logger.InfoContext(ctx, "hard blocklist entry added",
		"request_id", requestID, "type", entry.Type)
	httputil.WriteJSON(w, http.StatusCreated, hardResponse(entry))
}

// HandleAddSoft handles POST /blocklist/soft. Repeats upsert, so operators
// can re-tune an existing multiplier in place.
func (h *Handler) HandleAddSoft(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[AddSoftRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	entry, err := req.Entry()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.blocklists.AddSoft(ctx, entry); err != nil {
		h.logger.ErrorContext(ctx, "soft blocklist add failed",
			"request_id", requestID, "type", entry.Type, "error", err)
		httputil.WriteError(w, err)
		return
	}
	h.blockLoader.Invalidate()
	h.logger.InfoContext(ctx, "soft blocklist entry added",
		"request_id", requestID, "type", entry.Type, "multiplier", entry.Multiplier)
	httputil.WriteJSON(w, http.StatusCreated, softResponse(entry))
}

// HandleListPatterns handles GET /name-patterns.
func (h *Handler) HandleListPatterns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	patterns, err := h.patterns.List(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "name pattern list failed", "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, PatternsResponse{Patterns: patternResponses(patterns)})
}

// HandleAddPattern handles POST /name-patterns.
func (h *Handler) HandleAddPattern(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[AddPatternRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	pattern, err := req.Pattern()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.patterns.Add(ctx, pattern); err != nil {
		h.logger.ErrorContext(ctx, "name pattern add failed",
			"request_id", requestID, "class", pattern.Class, "error", err)
		httputil.WriteError(w, mapStoreErr(err))
		return
	}
	h.patternsLoader.Invalidate()
	h.logger.InfoContext(ctx, "name pattern added",
		"request_id", requestID, "kind", pattern.Kind, "class", pattern.Class)
	httputil.WriteJSON(w, http.StatusCreated, patternResponse(pattern))
}

// HandleGetParams handles GET /scoring/params.
func (h *Handler) HandleGetParams(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.params.Current())
}

// HandleUpdateParams handles PUT /scoring/params. The new parameter set
// applies to subsequent resolutions; in-flight requests keep the set they
// started with.
func (h *Handler) HandleUpdateParams(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[UpdateParamsRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	params := match.FSParams(*req)
	if err := h.params.Update(params); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "scoring parameters updated", "request_id", requestID)
	httputil.WriteJSON(w, http.StatusOK, params)
}

func mapStoreErr(err error) error {
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.Wrap(err, dErrors.CodeConflict, "entry already exists")
	}
	return err
}

var _ Invalidator = (*blocklist.Loader)(nil)
var _ Invalidator = (*namerules.Loader)(nil)
