package service

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/workspace/internal/workspace/domain"
	"github.com/aussiebroadwan/workspace/pkg/baas"
)

// Auth failures matched by message when the server sends no error code.
// Older auth servers only send these strings.
var authMessages = []struct {
	substr string
	err    error
}{
	{"invalid login credentials", domain.ErrInvalidCredentials},
	{"email not confirmed", domain.ErrEmailNotVerified},
	{"user already registered", domain.ErrDuplicateUser},
	{"already been registered", domain.ErrDuplicateUser},
	{"rate limit", domain.ErrRateLimited},
	{"too many requests", domain.ErrRateLimited},
	{"password should be", domain.ErrValidation},
	{"unable to validate email", domain.ErrValidation},
}

// TranslateAuthError is the single place auth service failures become
// domain errors. Structured error codes win; message matching is the
// fallback. Anything unrecognised is a backend error.
func TranslateAuthError(err error) error {
	if err == nil || domain.IsClassified(err) {
		return err
	}
	if errors.Is(err, baas.ErrNoSession) {
		return fmt.Errorf("%w: %w", domain.ErrNotAuthenticated, err)
	}

	apiErr, ok := baas.AsAPIError(err)
	if !ok {
		return domain.Backend("auth", err)
	}

	if target := authErrorForCode(apiErr.Code); target != nil {
		return wrapAuth(target, apiErr)
	}

	msg := strings.ToLower(apiErr.Message)
	for _, m := range authMessages {
		if strings.Contains(msg, m.substr) {
			return wrapAuth(m.err, apiErr)
		}
	}

	if apiErr.StatusCode == http.StatusTooManyRequests {
		return wrapAuth(domain.ErrRateLimited, apiErr)
	}
	return domain.Backend("auth", err)
}

func authErrorForCode(code string) error {
	switch code {
	case baas.ErrorCodeInvalidCredentials, baas.ErrorCodeMFAVerificationFailed, baas.ErrorCodeMFAChallengeExpired:
		return domain.ErrInvalidCredentials
	case baas.ErrorCodeEmailNotConfirmed:
		return domain.ErrEmailNotVerified
	case baas.ErrorCodeOverRequestRateLimit, baas.ErrorCodeOverEmailSendRateLimit:
		return domain.ErrRateLimited
	case baas.ErrorCodeUserAlreadyExists, baas.ErrorCodeEmailExists:
		return domain.ErrDuplicateUser
	case baas.ErrorCodeWeakPassword, baas.ErrorCodeValidationFailed, baas.ErrorCodeEmailAddressInvalid:
		return domain.ErrValidation
	case baas.ErrorCodeSessionNotFound, baas.ErrorCodeRefreshTokenNotFound,
		baas.ErrorCodeRefreshTokenAlreadyUsed, baas.ErrorCodeBadJWT:
		return domain.ErrNotAuthenticated
	}
	return nil
}

func wrapAuth(target error, apiErr *baas.APIError) error {
	if target == domain.ErrValidation {
		return &domain.ValidationError{Message: apiErr.Message}
	}
	return fmt.Errorf("%w: %s", target, apiErr.Message)
}
