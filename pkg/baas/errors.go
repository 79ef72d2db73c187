package baas

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
)

// Structured auth error codes (GoTrue "error_code").
const (
	ErrorCodeInvalidCredentials      = "invalid_credentials"
	ErrorCodeEmailNotConfirmed       = "email_not_confirmed"
	ErrorCodeOverRequestRateLimit    = "over_request_rate_limit"
	ErrorCodeOverEmailSendRateLimit  = "over_email_send_rate_limit"
	ErrorCodeUserAlreadyExists       = "user_already_exists"
	ErrorCodeEmailExists             = "email_exists"
	ErrorCodeWeakPassword            = "weak_password"
	ErrorCodeValidationFailed        = "validation_failed"
	ErrorCodeEmailAddressInvalid     = "email_address_invalid"
	ErrorCodeSessionNotFound         = "session_not_found"
	ErrorCodeRefreshTokenNotFound    = "refresh_token_not_found"
	ErrorCodeRefreshTokenAlreadyUsed = "refresh_token_already_used"
	ErrorCodeMFAVerificationFailed   = "mfa_verification_failed"
	ErrorCodeMFAChallengeExpired     = "mfa_challenge_expired"
	ErrorCodeBadJWT                  = "bad_jwt"

	// Legacy OAuth-style code still returned by older auth servers.
	ErrorCodeInvalidGrant = "invalid_grant"
)

// Data API error codes.
const (
	// CodeNoRows is returned when a single-object request matched zero (or
	// more than one) rows.
	CodeNoRows = "PGRST116"

	// CodeUniqueViolation is the Postgres SQLSTATE for unique_violation.
	CodeUniqueViolation = "23505"

	// CodeForeignKeyViolation is the Postgres SQLSTATE for foreign_key_violation.
	CodeForeignKeyViolation = "23503"

	// CodeInsufficientPrivilege is raised when row-level security rejects a write.
	CodeInsufficientPrivilege = "42501"
)

// ErrNoSession is returned by operations that need a signed-in user.
var ErrNoSession = errors.New("baas: no active session")

// APIError is a non-2xx response from either API.
type APIError struct {
	StatusCode int

	// Code is the structured error code: GoTrue error_code, an OAuth error,
	// a PostgREST code (PGRSTxxx) or a Postgres SQLSTATE.
	Code    string
	Message string
	Details string
	Hint    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("baas: HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("baas: HTTP %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// AsAPIError unwraps err into an *APIError.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsCode reports whether err is an APIError carrying one of codes.
func IsCode(err error, codes ...string) bool {
	apiErr, ok := AsAPIError(err)
	return ok && slices.Contains(codes, apiErr.Code)
}

// StatusOf returns the HTTP status of an APIError, or 0.
func StatusOf(err error) int {
	if apiErr, ok := AsAPIError(err); ok {
		return apiErr.StatusCode
	}
	return 0
}

// errorBody covers the shapes both services use:
//
//	auth:  {"code":400,"error_code":"invalid_credentials","msg":"..."}
//	oauth: {"error":"invalid_grant","error_description":"..."}
//	rest:  {"code":"PGRST116","message":"...","details":"...","hint":null}
type errorBody struct {
	Code             json.RawMessage `json:"code"`
	ErrorCode        string          `json:"error_code"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
	Details          string          `json:"details"`
	Hint             string          `json:"hint"`
}

func parseErrorResponse(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		apiErr.Message = string(bytes.TrimSpace(body))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(status)
		}
		return apiErr
	}

	var strCode string
	if len(eb.Code) > 0 && eb.Code[0] == '"' {
		_ = json.Unmarshal(eb.Code, &strCode)
	}

	apiErr.Code = firstNonEmpty(eb.ErrorCode, strCode, eb.Error)
	apiErr.Message = firstNonEmpty(eb.Msg, eb.Message, eb.ErrorDescription, eb.Error, http.StatusText(status))
	apiErr.Details = eb.Details
	apiErr.Hint = eb.Hint
	return apiErr
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
