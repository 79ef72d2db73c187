package httpx

import (
	"net/http"
)

// IdentityFunc reports who is behind a request. ok is false when nobody is
// signed in.
type IdentityFunc func(r *http.Request) (userID, role string, ok bool)

// Identify resolves the caller with fn and stores the result on the request
// context. Anonymous requests pass through untouched.
func Identify(fn IdentityFunc) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID, role, ok := fn(r); ok {
				r = r.WithContext(WithIdentity(r.Context(), userID, role))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuthenticated rejects requests without an identity.
func RequireAuthenticated() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if UserIDFrom(r.Context()) == "" {
				WriteError(w, http.StatusUnauthorized, "not_authenticated", "sign in first")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole rejects callers whose role is not one of allowed.
func RequireRole(allowed ...string) Middleware {
	want := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		want[r] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if UserIDFrom(r.Context()) == "" {
				WriteError(w, http.StatusUnauthorized, "not_authenticated", "sign in first")
				return
			}
			if _, ok := want[RoleFrom(r.Context())]; !ok {
				WriteError(w, http.StatusForbidden, "forbidden", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
