// Package baastest runs an in-memory stand-in for the backend's auth and data
// APIs, good enough to drive baas.Client end to end in tests.
package baastest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/workspace/pkg/baas"
	"github.com/aussiebroadwan/workspace/pkg/jwtx"
)

const (
	DefaultAPIKey    = "test-anon-key"
	DefaultJWTSecret = "test-jwt-secret-with-at-least-32-characters"
)

// timeLayout keeps timestamps lexically sortable.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

type user struct {
	baas.User
	password string
}

type fault struct {
	status int
	body   map[string]any
}

type tableSchema struct {
	unique     []string
	timestamps []string
}

// Server is a fake backend. Configure it through its methods; the zero value
// is not usable, call NewServer.
type Server struct {
	*httptest.Server

	APIKey    string
	JWTSecret []byte
	TokenTTL  time.Duration

	mu          sync.Mutex
	autoConfirm bool
	users       map[string]*user  // by id
	byEmail     map[string]string // lower-cased email -> id
	refresh     map[string]string // refresh token -> session id
	sessions    map[string]string // session id -> user id
	factors     map[string]*factor
	challenges  map[string]challenge
	tables      map[string][]map[string]any
	schemas     map[string]tableSchema
	faults      map[string][]fault
	delays      map[string]time.Duration
	calls       map[string]int
	recoveries  []string
	lastStamp   time.Time
}

// NewServer starts a fake backend that auto-confirms sign-ups. It is closed
// when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		APIKey:      DefaultAPIKey,
		JWTSecret:   []byte(DefaultJWTSecret),
		TokenTTL:    jwtx.DefaultAccessTokenTTL,
		autoConfirm: true,
		users:       make(map[string]*user),
		byEmail:     make(map[string]string),
		refresh:     make(map[string]string),
		sessions:    make(map[string]string),
		factors:     make(map[string]*factor),
		challenges:  make(map[string]challenge),
		tables:      make(map[string][]map[string]any),
		faults:      make(map[string][]fault),
		delays:      make(map[string]time.Duration),
		calls:       make(map[string]int),
		schemas: map[string]tableSchema{
			"tenants":           {unique: []string{"user_id"}, timestamps: []string{"created_at", "updated_at"}},
			"user_profiles":     {timestamps: []string{"created_at", "updated_at"}},
			"tasks":             {timestamps: []string{"created_at", "updated_at"}},
			"notes":             {timestamps: []string{"created_at", "updated_at"}},
			"pomodoro_sessions": {timestamps: []string{"created_at"}},
			"chat_messages":     {timestamps: []string{"created_at"}},
		},
	}

	mux := http.NewServeMux()
	s.registerAuth(mux)
	s.registerRest(mux)

	s.Server = httptest.NewServer(s.middleware(mux))
	t.Cleanup(s.Close)
	return s
}

// Client returns a baas.Client pointed at the fake.
func (s *Server) Client(opts ...baas.Option) *baas.Client {
	return baas.NewClient(s.URL, s.APIKey, opts...)
}

// SetAutoConfirm toggles whether sign-ups are confirmed immediately.
func (s *Server) SetAutoConfirm(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoConfirm = on
}

// Fail makes the next request to "METHOD /path" answer with status and body.
func (s *Server) Fail(method, path string, status int, body map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := method + " " + path
	s.faults[key] = append(s.faults[key], fault{status: status, body: body})
}

// Delay holds every request to "METHOD /path" for d, or until the client
// gives up.
func (s *Server) Delay(method, path string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[method+" "+path] = d
}

// Calls counts requests to "METHOD /path".
func (s *Server) Calls(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method+" "+path]
}

// Recoveries lists the addresses password recovery was requested for.
func (s *Server) Recoveries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.recoveries...)
}

func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path

		s.mu.Lock()
		s.calls[key]++
		delay := s.delays[key]
		var f *fault
		if q := s.faults[key]; len(q) > 0 {
			f = &q[0]
			s.faults[key] = q[1:]
		}
		s.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}

		if r.Header.Get("apikey") != s.APIKey {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Invalid API key"})
			return
		}

		if f != nil {
			writeJSON(w, f.status, f.body)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// stamp returns a strictly increasing timestamp so ordering by creation time
// is deterministic even for rows created in the same microsecond.
func (s *Server) stamp() string {
	now := time.Now().UTC().Truncate(time.Microsecond)
	if !now.After(s.lastStamp) {
		now = s.lastStamp.Add(time.Microsecond)
	}
	s.lastStamp = now
	return now.Format(timeLayout)
}

func bearer(r *http.Request) string {
	return strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func authError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{"code": status, "error_code": code, "msg": msg})
}
