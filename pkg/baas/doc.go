// Package baas is a client for a Supabase-compatible backend: the GoTrue auth
// API under /auth/v1 and the PostgREST data API under /rest/v1.
//
// A Client is safe for concurrent use. Its AuthClient keeps the current
// session in memory, mirrors it to a SessionStorage, refreshes the access
// token shortly before it expires and publishes auth state changes to
// subscribers:
//
//	c := baas.NewClient(url, anonKey, baas.WithSessionStorage(store))
//	sub := c.Auth.OnAuthStateChange(func(ev baas.AuthChangeEvent, s *baas.Session) { ... })
//	defer sub.Unsubscribe()
//
//	if _, err := c.Auth.SignInWithPassword(ctx, email, password); err != nil { ... }
//
//	var tasks []Task
//	err := c.From("tasks").Select("*").Eq("tenant_id", id).Order("created_at", false).Execute(ctx, &tasks)
package baas
