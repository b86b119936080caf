package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"trapper/internal/resolve"
	"trapper/pkg/platform/httputil"
	"trapper/pkg/requestcontext"
)

// Service defines the interface for resolution operations.
type Service interface {
	ResolveIdentity(ctx context.Context, rec resolve.StagedRecord) (resolve.Resolution, error)
}

// Handler wires the resolution endpoint to the resolution service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a resolution handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts resolution endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/resolve", h.HandleResolve)
}

// HandleResolve handles POST /resolve requests.
func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[ResolveRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	rec := req.StagedRecord()
	ctx = requestcontext.WithSourceSystem(ctx, rec.SourceSystem)

	res, err := h.service.ResolveIdentity(ctx, rec)
	if err != nil {
		h.logger.ErrorContext(ctx, "resolution failed",
			"request_id", requestID,
			"source_system", rec.SourceSystem,
			"source_record_id", rec.SourceRecordID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, FromResolution(res))
}
