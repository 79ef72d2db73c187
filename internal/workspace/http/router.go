package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/aussiebroadwan/workspace/api/workspace" // Swagger docs
	"github.com/aussiebroadwan/workspace/internal/workspace/domain"
	"github.com/aussiebroadwan/workspace/internal/workspace/service"
	"github.com/aussiebroadwan/workspace/internal/workspace/session"
	"github.com/aussiebroadwan/workspace/internal/workspace/state"
	"github.com/aussiebroadwan/workspace/pkg/httpx"
	"github.com/aussiebroadwan/workspace/pkg/slogx"
)

// Pinger reports whether local storage is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	// Session is nil in offline mode; every caller is then the local user.
	Session     *session.Manager
	State       *state.Store
	Tenants     *service.TenantService
	Permissions *service.PermissionService
	Pomodoro    *service.PomodoroService
	Storage     Pinger
	CORS        httpx.CORSConfig
}

func NewRouter(buildVersion string, logger *slog.Logger) *Router {
	return &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
		CORS:         httpx.DefaultCORS,
	}
}

func (r *Router) ApplyRoutes() {
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
		httpx.CORS(r.CORS),
		httpx.Identify(r.identify),
	}

	r.registerSession()
	r.registerState()
	r.registerTasks()
	r.registerNotes()
	r.registerPomodoro()
	r.registerChat()
	r.registerTenant()
	r.registerAdmin()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			Workspace Gateway API
//	@version		0.1.0
//	@description	Local gateway over the personal workspace core: session, tenant-scoped tasks, notes, pomodoro sessions, chat history and dashboard stats.
//	@description
//	@description	The gateway holds one session for the whole process. Requests act as the signed-in user, or as the local user in offline mode.
//
//	@contact.name	AussieBroadWAN Team
//	@contact.url	https://github.com/aussiebroadwan/workspace
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host			localhost:8080
//	@BasePath		/
//
//	@schemes		http
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

// identify resolves the caller from the session manager. The designated
// admin is reported as admin whether or not ClaimAdmin has run.
func (r *Router) identify(*http.Request) (string, string, bool) {
	if r.Session == nil {
		return localUserID, string(domain.RoleUser), true
	}
	st := r.Session.State()
	if st.User == nil {
		return "", "", false
	}
	if st.IsDesignatedAdmin {
		return st.User.ID, string(domain.RoleAdmin), true
	}
	return st.User.ID, string(st.Role), true
}

const localUserID = "local"

// handle registers h under pattern with per-route metrics outermost.
func (r *Router) handle(pattern string, h http.Handler, mws ...httpx.Middleware) {
	r.Mux.Handle(pattern, instrument(pattern, httpx.Chain(h, mws...)))
}

func (r *Router) registerSession() {
	if r.Session == nil {
		return
	}
	h := &SessionHandler{Session: r.Session}

	r.handle("GET /v1/session", http.HandlerFunc(h.HandleGet),
		httpx.RateLimitByIP(httpx.LenientLimit),
	)

	// Credential endpoints - strict rate limit by IP
	r.handle("POST /v1/session/sign-in", http.HandlerFunc(h.HandleSignIn),
		httpx.RateLimitByIP(httpx.StrictLimit),
	)
	r.handle("POST /v1/session/sign-up", http.HandlerFunc(h.HandleSignUp),
		httpx.RateLimitByIP(httpx.StrictLimit),
	)
	r.handle("POST /v1/session/reset-password", http.HandlerFunc(h.HandleResetPassword),
		httpx.RateLimitByIP(httpx.StrictLimit),
	)

	r.handle("POST /v1/session/sign-out", http.HandlerFunc(h.HandleSignOut),
		httpx.RateLimitByIP(httpx.ModerateLimit),
	)
	r.handle("PATCH /v1/session/user", http.HandlerFunc(h.HandleUpdateUser),
		httpx.RequireAuthenticated(),
		httpx.RateLimitByUser(httpx.ModerateLimit),
	)
	r.handle("POST /v1/session/claim-admin", http.HandlerFunc(h.HandleClaimAdmin),
		httpx.RequireAuthenticated(),
		httpx.RateLimitByUser(httpx.StrictLimit),
	)
	r.handle("POST /v1/session/mfa/totp/enroll", http.HandlerFunc(h.HandleEnrollTOTP),
		httpx.RequireAuthenticated(),
		httpx.RateLimitByUser(httpx.ModerateLimit),
	)
	// Strict to slow down guessing of codes
	r.handle("POST /v1/session/mfa/totp/verify", http.HandlerFunc(h.HandleVerifyTOTP),
		httpx.RequireAuthenticated(),
		httpx.RateLimitByUser(httpx.StrictLimit),
	)
}

// data returns the middleware of every tenant-scoped data route.
func data() []httpx.Middleware {
	return []httpx.Middleware{
		httpx.RequireAuthenticated(),
		httpx.RateLimitByUser(httpx.LenientLimit),
	}
}

func (r *Router) registerState() {
	h := &StateHandler{State: r.State}

	r.handle("GET /v1/state", http.HandlerFunc(h.HandleSnapshot), data()...)
	r.handle("POST /v1/state/refresh", http.HandlerFunc(h.HandleRefresh), data()...)
	r.handle("GET /v1/stats", http.HandlerFunc(h.HandleStats), data()...)
}

func (r *Router) registerTasks() {
	h := &TasksHandler{State: r.State}

	r.handle("GET /v1/tasks", http.HandlerFunc(h.HandleList), data()...)
	r.handle("POST /v1/tasks", http.HandlerFunc(h.HandleCreate), data()...)
	r.handle("PATCH /v1/tasks/{id}", http.HandlerFunc(h.HandleUpdate), data()...)
	r.handle("DELETE /v1/tasks/{id}", http.HandlerFunc(h.HandleDelete), data()...)
}

func (r *Router) registerNotes() {
	h := &NotesHandler{State: r.State}

	r.handle("GET /v1/notes", http.HandlerFunc(h.HandleList), data()...)
	r.handle("POST /v1/notes", http.HandlerFunc(h.HandleCreate), data()...)
	r.handle("PATCH /v1/notes/{id}", http.HandlerFunc(h.HandleUpdate), data()...)
	r.handle("DELETE /v1/notes/{id}", http.HandlerFunc(h.HandleDelete), data()...)
}

func (r *Router) registerPomodoro() {
	h := &PomodoroHandler{State: r.State, Pomodoro: r.Pomodoro}

	r.handle("GET /v1/pomodoro/sessions", http.HandlerFunc(h.HandleList), data()...)
	r.handle("POST /v1/pomodoro/sessions", http.HandlerFunc(h.HandleCreate), data()...)
	r.handle("PATCH /v1/pomodoro/sessions/{id}", http.HandlerFunc(h.HandleUpdate), data()...)
	r.handle("POST /v1/pomodoro/sessions/{id}/complete", http.HandlerFunc(h.HandleComplete), data()...)
	r.handle("DELETE /v1/pomodoro/sessions/{id}", http.HandlerFunc(h.HandleDelete), data()...)

	// Settings and the timer live on this machine only
	r.handle("GET /v1/pomodoro/settings", http.HandlerFunc(h.HandleGetSettings), data()...)
	r.handle("PUT /v1/pomodoro/settings", http.HandlerFunc(h.HandlePutSettings), data()...)
	r.handle("GET /v1/pomodoro/timer", http.HandlerFunc(h.HandleTimer), data()...)
}

func (r *Router) registerChat() {
	h := &ChatHandler{State: r.State}

	r.handle("GET /v1/chat/messages", http.HandlerFunc(h.HandleList), data()...)
	r.handle("POST /v1/chat/messages", http.HandlerFunc(h.HandleCreate), data()...)
	r.handle("DELETE /v1/chat/messages", http.HandlerFunc(h.HandleClear), data()...)
	r.handle("PATCH /v1/chat/messages/{id}", http.HandlerFunc(h.HandleUpdate), data()...)
	r.handle("DELETE /v1/chat/messages/{id}", http.HandlerFunc(h.HandleDelete), data()...)
}

func (r *Router) registerTenant() {
	if r.Session == nil {
		return
	}
	h := &TenantHandler{Session: r.Session, Tenants: r.Tenants}

	r.handle("GET /v1/tenant", http.HandlerFunc(h.HandleGet), data()...)
	r.handle("PATCH /v1/tenant/settings", http.HandlerFunc(h.HandleUpdateSettings),
		httpx.RequireAuthenticated(),
		httpx.RateLimitByUser(httpx.ModerateLimit),
	)
}

func (r *Router) registerAdmin() {
	if r.Session == nil {
		return
	}
	h := &AdminHandler{Session: r.Session, Permissions: r.Permissions}

	adminOnly := []httpx.Middleware{
		httpx.RequireRole(string(domain.RoleAdmin)),
		httpx.RateLimitByUser(httpx.ModerateLimit),
	}
	r.handle("GET /v1/admin/permissions", http.HandlerFunc(h.HandleReport), adminOnly...)
	r.handle("POST /v1/admin/sweep", http.HandlerFunc(h.HandleSweep), adminOnly...)

	// The self check is open to every signed-in user so a non-admin can
	// see why they are not one.
	r.handle("GET /v1/admin/security-check", http.HandlerFunc(h.HandleSecurityCheck),
		httpx.RequireAuthenticated(),
		httpx.RateLimitByUser(httpx.ModerateLimit),
	)
}

func (r *Router) registerSystem() {
	// Health check endpoints - lenient rate limits (monitoring systems may poll frequently)
	r.handle("GET /livez", LivezHandler(r.startTime, r.buildVersion),
		httpx.RateLimitByIP(httpx.LenientLimit),
	)
	r.handle("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.Storage, r.Session),
		httpx.RateLimitByIP(httpx.LenientLimit),
	)
	r.Mux.Handle("GET /metrics", promhttp.Handler())
}
