// Package httputil holds the JSON plumbing every handler shares: response
// writing, coded error rendering, and request decoding with validation.
package httputil

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	dErrors "trapper/pkg/domain-errors"
)

// WriteJSON renders v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders a coded error. Internal errors keep their detail out of
// the response body; everything else carries its message as the description.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := map[string]string{"error": string(code)}
	if code != dErrors.CodeInternal {
		if msg := dErrors.Message(err); msg != "" {
			body["error_description"] = msg
		}
	}
	WriteJSON(w, dErrors.HTTPStatus(code), body)
}

// Validatable lets request types validate and parse themselves after decode.
type Validatable interface {
	Validate() error
}

// DecodeAndPrepare decodes the request body into T and runs its validation,
// writing the error response itself on failure. The bool reports whether the
// handler should continue.
func DecodeAndPrepare[T any, PT interface {
	*T
	Validatable
}](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (PT, bool) {
	req := PT(new(T))
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		logger.WarnContext(ctx, "request decode failed",
			"request_id", requestID,
			"error", err,
		)
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return nil, false
	}
	if err := req.Validate(); err != nil {
		logger.WarnContext(ctx, "request validation failed",
			"request_id", requestID,
			"error", err,
		)
		WriteError(w, err)
		return nil, false
	}
	return req, true
}
