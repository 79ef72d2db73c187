package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrValidation         = errors.New("validation_failed")
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrEmailNotVerified   = errors.New("email_not_verified")
	ErrRateLimited        = errors.New("rate_limited")
	ErrDuplicateUser      = errors.New("duplicate_user")
	ErrNoTenant           = errors.New("no_tenant")
	ErrDuplicateTenant    = errors.New("duplicate_tenant")
	ErrNotFound           = errors.New("not_found")
	ErrBackend            = errors.New("backend_error")
	ErrConfig             = errors.New("config_error")
	ErrNotAuthenticated   = errors.New("not_authenticated")
	ErrForbidden          = errors.New("forbidden")
)

// ValidationError carries per-field problems. It matches ErrValidation with
// errors.Is.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		if e.Message == "" {
			return ErrValidation.Error()
		}
		return fmt.Sprintf("%s: %s", ErrValidation, e.Message)
	}

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError without field details.
func Invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// BackendError wraps an unexpected failure of the remote service or local
// storage. It matches ErrBackend with errors.Is.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrBackend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

func (e *BackendError) Is(target error) bool {
	return target == ErrBackend
}

// Backend wraps err as a BackendError unless it is nil or already
// classified by one of the sentinels above.
func Backend(op string, err error) error {
	if err == nil || IsClassified(err) {
		return err
	}
	return &BackendError{Op: op, Err: err}
}

// IsClassified reports whether err already matches a domain sentinel.
func IsClassified(err error) bool {
	for _, target := range []error{
		ErrValidation, ErrInvalidCredentials, ErrEmailNotVerified, ErrRateLimited,
		ErrDuplicateUser, ErrNoTenant, ErrDuplicateTenant, ErrNotFound, ErrBackend,
		ErrConfig, ErrNotAuthenticated, ErrForbidden,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
