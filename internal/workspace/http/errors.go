package http

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/workspace/internal/workspace/domain"
	"github.com/aussiebroadwan/workspace/pkg/httpx"
	"github.com/aussiebroadwan/workspace/pkg/slogx"
)

// errorStatus maps the core's sentinel errors to HTTP statuses. The error
// code in the body is the sentinel's text.
var errorStatus = []struct {
	err    error
	status int
}{
	{domain.ErrValidation, http.StatusBadRequest},
	{domain.ErrInvalidCredentials, http.StatusUnauthorized},
	{domain.ErrNotAuthenticated, http.StatusUnauthorized},
	{domain.ErrEmailNotVerified, http.StatusForbidden},
	{domain.ErrForbidden, http.StatusForbidden},
	{domain.ErrNotFound, http.StatusNotFound},
	{domain.ErrDuplicateUser, http.StatusConflict},
	{domain.ErrDuplicateTenant, http.StatusConflict},
	{domain.ErrNoTenant, http.StatusConflict},
	{domain.ErrRateLimited, http.StatusTooManyRequests},
	{domain.ErrBackend, http.StatusBadGateway},
}

// writeError writes err as an ErrorResponse. Validation failures carry
// their per-field details.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	for _, e := range errorStatus {
		if !errors.Is(err, e.err) {
			continue
		}

		if e.status >= http.StatusInternalServerError {
			slogx.FromContext(r.Context()).Error("request failed", "error", err)
		}

		resp := httpx.ErrorResponse{Error: e.err.Error(), ErrorDescription: err.Error()}
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			resp.Details = ve.Fields
		}
		httpx.WriteJSON(w, e.status, resp)
		return
	}

	slogx.FromContext(r.Context()).Error("unexpected error", "error", err)
	httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
}

// decode reads the request body into v, answering 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := httpx.DecodeJSON(w, r, v); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, domain.ErrValidation.Error(), err.Error())
		return false
	}
	return true
}
