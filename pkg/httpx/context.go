package httpx

import "context"

type ctxKey string

const (
	CtxKeyUserID ctxKey = "user_id"
	CtxKeyRole   ctxKey = "role"
)

// WithIdentity stores the caller's user id and role on ctx.
func WithIdentity(ctx context.Context, userID, role string) context.Context {
	ctx = context.WithValue(ctx, CtxKeyUserID, userID)
	return context.WithValue(ctx, CtxKeyRole, role)
}

// UserIDFrom returns the user id stored by WithIdentity.
func UserIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(CtxKeyUserID).(string)
	return v
}

// RoleFrom returns the role stored by WithIdentity.
func RoleFrom(ctx context.Context) string {
	v, _ := ctx.Value(CtxKeyRole).(string)
	return v
}
