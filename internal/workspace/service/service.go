// Package service holds the workspace business logic: tenant resolution, the
// permission gate and the tenant-scoped data access services. Services are
// plain structs with exported dependencies, wired by the application.
package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/aussiebroadwan/workspace/internal/workspace/domain"
	"github.com/aussiebroadwan/workspace/internal/workspace/store"
)

// TenantSource yields the tenant of the signed-in user. Implementations
// return domain.ErrNoTenant while no tenant is resolved.
type TenantSource interface {
	CurrentTenant(ctx context.Context) (domain.TenantID, error)
}

// StaticTenant is a TenantSource pinned to one tenant, used by the offline
// workspace and in tests.
type StaticTenant domain.TenantID

func (t StaticTenant) CurrentTenant(context.Context) (domain.TenantID, error) {
	if t == "" {
		return "", domain.ErrNoTenant
	}
	return domain.TenantID(t), nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks v against its struct tags and returns a
// *domain.ValidationError keyed by JSON field name.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return domain.Invalid("%v", err)
	}

	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		fields[fieldName(fe)] = fieldError(fe)
	}
	return &domain.ValidationError{Fields: fields}
}

func fieldName(fe validator.FieldError) string {
	// Namespace is "TaskPatch.clear[0]"; drop the struct name.
	_, name, ok := strings.Cut(fe.Namespace(), ".")
	if !ok {
		return fe.Field()
	}
	return name
}

func fieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "min":
		return fmt.Sprintf("must have at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must have at most %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed validation (%s)", fe.Tag())
	}
}

// classify maps store failures onto the domain error taxonomy.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return domain.Backend(op, err)
}

func clock(now func() time.Time) time.Time {
	if now == nil {
		return time.Now().UTC()
	}
	return now().UTC()
}

var errNoLocalStore = errors.New("no local store configured")
