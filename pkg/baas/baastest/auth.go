package baastest

import (
	"encoding/json"
	"maps"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"

	"github.com/aussiebroadwan/workspace/pkg/baas"
	"github.com/aussiebroadwan/workspace/pkg/cryptox"
	"github.com/aussiebroadwan/workspace/pkg/jwtx"
)

const minPasswordLen = 6

type factor struct {
	baas.Factor
	userID string
	secret string
}

type challenge struct {
	factorID  string
	expiresAt time.Time
}

func (s *Server) registerAuth(mux *http.ServeMux) {
	mux.HandleFunc("GET /auth/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"version":     "baastest",
			"name":        "GoTrue",
			"description": "in-memory auth",
		})
	})
	mux.HandleFunc("POST /auth/v1/signup", s.handleSignUp)
	mux.HandleFunc("POST /auth/v1/token", s.handleToken)
	mux.HandleFunc("POST /auth/v1/logout", s.handleLogout)
	mux.HandleFunc("POST /auth/v1/recover", s.handleRecover)
	mux.HandleFunc("GET /auth/v1/user", s.handleGetUser)
	mux.HandleFunc("PUT /auth/v1/user", s.handleUpdateUser)
	mux.HandleFunc("POST /auth/v1/factors", s.handleEnroll)
	mux.HandleFunc("POST /auth/v1/factors/{id}/challenge", s.handleChallenge)
	mux.HandleFunc("POST /auth/v1/factors/{id}/verify", s.handleVerify)
	mux.HandleFunc("DELETE /auth/v1/factors/{id}", s.handleUnenroll)
}

// CreateUser registers a confirmed account directly and returns its id.
func (s *Server) CreateUser(email, password string, metadata map[string]any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.newUser(email, password, metadata)
	now := time.Now().UTC()
	u.EmailConfirmedAt = &now
	return u.ID
}

// ConfirmEmail marks an account as confirmed.
func (s *Server) ConfirmEmail(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u := s.userByEmail(email); u != nil {
		now := time.Now().UTC()
		u.EmailConfirmedAt = &now
	}
}

// SetUserMetadata merges md into the account's user metadata. Tokens issued
// afterwards carry the new values.
func (s *Server) SetUserMetadata(email string, md map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u := s.userByEmail(email); u != nil {
		if u.UserMetadata == nil {
			u.UserMetadata = make(map[string]any)
		}
		maps.Copy(u.UserMetadata, md)
	}
}

// User returns a copy of the account registered under email.
func (s *Server) User(email string) (baas.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.userByEmail(email)
	if u == nil {
		return baas.User{}, false
	}
	return s.publicUser(u), true
}

// RevokeSessions drops every refresh token, as a server-side sign-out would.
func (s *Server) RevokeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.refresh)
	clear(s.sessions)
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req baas.SignUpParams
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		authError(w, http.StatusBadRequest, baas.ErrorCodeValidationFailed, "Could not parse request body as JSON")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil || !strings.Contains(req.Email, ".") {
		authError(w, http.StatusBadRequest, baas.ErrorCodeEmailAddressInvalid, "Unable to validate email address: invalid format")
		return
	}
	if len(req.Password) < minPasswordLen {
		authError(w, http.StatusUnprocessableEntity, baas.ErrorCodeWeakPassword, "Password should be at least 6 characters.")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.userByEmail(req.Email) != nil {
		authError(w, http.StatusUnprocessableEntity, baas.ErrorCodeUserAlreadyExists, "User already registered")
		return
	}

	u := s.newUser(req.Email, req.Password, req.Data)
	if !s.autoConfirm {
		writeJSON(w, http.StatusOK, s.publicUser(u))
		return
	}

	now := time.Now().UTC()
	u.EmailConfirmedAt = &now
	sess, err := s.issueSession(u, jwtx.AAL1)
	if err != nil {
		authError(w, http.StatusInternalServerError, "unexpected_failure", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("grant_type") {
	case "password":
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			authError(w, http.StatusBadRequest, baas.ErrorCodeValidationFailed, "Could not parse request body as JSON")
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		u := s.userByEmail(req.Email)
		if u == nil || u.password != req.Password {
			authError(w, http.StatusBadRequest, baas.ErrorCodeInvalidCredentials, "Invalid login credentials")
			return
		}
		if u.EmailConfirmedAt == nil {
			authError(w, http.StatusBadRequest, baas.ErrorCodeEmailNotConfirmed, "Email not confirmed")
			return
		}

		now := time.Now().UTC()
		u.LastSignInAt = &now
		sess, err := s.issueSession(u, jwtx.AAL1)
		if err != nil {
			authError(w, http.StatusInternalServerError, "unexpected_failure", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, sess)

	case "refresh_token":
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			authError(w, http.StatusBadRequest, baas.ErrorCodeValidationFailed, "Could not parse request body as JSON")
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		sid, ok := s.refresh[req.RefreshToken]
		if !ok {
			authError(w, http.StatusBadRequest, baas.ErrorCodeRefreshTokenNotFound, "Invalid Refresh Token: Refresh Token Not Found")
			return
		}
		delete(s.refresh, req.RefreshToken)

		u := s.users[s.sessions[sid]]
		if u == nil {
			authError(w, http.StatusBadRequest, baas.ErrorCodeSessionNotFound, "Session not found")
			return
		}

		sess, err := s.rotateSession(u, sid, jwtx.AAL1)
		if err != nil {
			authError(w, http.StatusInternalServerError, "unexpected_failure", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, sess)

	default:
		authError(w, http.StatusBadRequest, baas.ErrorCodeValidationFailed, "unsupported_grant_type")
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.verify(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for tok, sid := range s.refresh {
		if r.URL.Query().Get("scope") == "global" {
			if s.sessions[sid] == claims.Subject {
				delete(s.refresh, tok)
			}
		} else if sid == claims.SessionID {
			delete(s.refresh, tok)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		authError(w, http.StatusBadRequest, baas.ErrorCodeValidationFailed, "Password recovery requires an email")
		return
	}

	s.mu.Lock()
	s.recoveries = append(s.recoveries, req.Email)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.verify(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.users[claims.Subject]
	if u == nil {
		authError(w, http.StatusNotFound, "user_not_found", "User from sub claim in JWT does not exist")
		return
	}
	writeJSON(w, http.StatusOK, s.publicUser(u))
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.verify(w, r)
	if !ok {
		return
	}

	var attrs baas.UserAttributes
	if err := json.NewDecoder(r.Body).Decode(&attrs); err != nil {
		authError(w, http.StatusBadRequest, baas.ErrorCodeValidationFailed, "Could not parse request body as JSON")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.users[claims.Subject]
	if u == nil {
		authError(w, http.StatusNotFound, "user_not_found", "User from sub claim in JWT does not exist")
		return
	}

	if attrs.Password != nil {
		if len(*attrs.Password) < minPasswordLen {
			authError(w, http.StatusUnprocessableEntity, baas.ErrorCodeWeakPassword, "Password should be at least 6 characters.")
			return
		}
		u.password = *attrs.Password
	}
	if attrs.Email != nil && !strings.EqualFold(*attrs.Email, u.Email) {
		if s.userByEmail(*attrs.Email) != nil {
			authError(w, http.StatusUnprocessableEntity, baas.ErrorCodeEmailExists, "A user with this email address has already been registered")
			return
		}
		delete(s.byEmail, strings.ToLower(u.Email))
		u.Email = *attrs.Email
		s.byEmail[strings.ToLower(u.Email)] = u.ID
	}
	if attrs.Data != nil {
		if u.UserMetadata == nil {
			u.UserMetadata = make(map[string]any)
		}
		maps.Copy(u.UserMetadata, attrs.Data)
	}
	u.UpdatedAt = time.Now().UTC()

	writeJSON(w, http.StatusOK, s.publicUser(u))
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.verify(w, r)
	if !ok {
		return
	}

	var req struct {
		FactorType   string `json:"factor_type"`
		FriendlyName string `json:"friendly_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FactorType != "totp" {
		authError(w, http.StatusBadRequest, baas.ErrorCodeValidationFailed, "factor_type must be totp")
		return
	}

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "baastest", AccountName: claims.Email})
	if err != nil {
		authError(w, http.StatusInternalServerError, "unexpected_failure", err.Error())
		return
	}

	now := time.Now().UTC()
	f := &factor{
		Factor: baas.Factor{
			ID:           uuid.NewString(),
			FriendlyName: req.FriendlyName,
			FactorType:   "totp",
			Status:       baas.FactorStatusUnverified,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		userID: claims.Subject,
		secret: key.Secret(),
	}

	s.mu.Lock()
	s.factors[f.ID] = f
	s.mu.Unlock()

	var out baas.TOTPEnrollment
	out.ID = f.ID
	out.Type = "totp"
	out.FriendlyName = f.FriendlyName
	out.TOTP.Secret = key.Secret()
	out.TOTP.URI = key.URL()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.verify(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.factors[r.PathValue("id")]
	if f == nil || f.userID != claims.Subject {
		authError(w, http.StatusNotFound, "mfa_factor_not_found", "Factor not found")
		return
	}

	id := uuid.NewString()
	exp := time.Now().Add(5 * time.Minute)
	s.challenges[id] = challenge{factorID: f.ID, expiresAt: exp}
	writeJSON(w, http.StatusOK, baas.Challenge{ID: id, ExpiresAt: exp.Unix()})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.verify(w, r)
	if !ok {
		return
	}

	var req struct {
		ChallengeID string `json:"challenge_id"`
		Code        string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		authError(w, http.StatusBadRequest, baas.ErrorCodeValidationFailed, "Could not parse request body as JSON")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.factors[r.PathValue("id")]
	if f == nil || f.userID != claims.Subject {
		authError(w, http.StatusNotFound, "mfa_factor_not_found", "Factor not found")
		return
	}
	ch, ok := s.challenges[req.ChallengeID]
	if !ok || ch.factorID != f.ID {
		authError(w, http.StatusNotFound, "mfa_challenge_not_found", "Challenge not found")
		return
	}
	if time.Now().After(ch.expiresAt) {
		delete(s.challenges, req.ChallengeID)
		authError(w, http.StatusUnprocessableEntity, baas.ErrorCodeMFAChallengeExpired, "MFA challenge has expired")
		return
	}
	if !totp.Validate(req.Code, f.secret) {
		authError(w, http.StatusUnprocessableEntity, baas.ErrorCodeMFAVerificationFailed, "Invalid TOTP code entered")
		return
	}

	delete(s.challenges, req.ChallengeID)
	f.Status = baas.FactorStatusVerified
	f.UpdatedAt = time.Now().UTC()

	sess, err := s.rotateSession(s.users[claims.Subject], claims.SessionID, jwtx.AAL2)
	if err != nil {
		authError(w, http.StatusInternalServerError, "unexpected_failure", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleUnenroll(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.verify(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := r.PathValue("id")
	f := s.factors[id]
	if f == nil || f.userID != claims.Subject {
		authError(w, http.StatusNotFound, "mfa_factor_not_found", "Factor not found")
		return
	}
	delete(s.factors, id)
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

// verify checks the bearer token and writes a 401 when it is missing or bad.
func (s *Server) verify(w http.ResponseWriter, r *http.Request) (jwtx.Claims, bool) {
	raw := bearer(r)
	if raw == "" || raw == s.APIKey {
		authError(w, http.StatusUnauthorized, "no_authorization", "This endpoint requires a Bearer token")
		return jwtx.Claims{}, false
	}
	claims, err := jwtx.VerifyHS256(raw, s.JWTSecret)
	if err == nil {
		err = claims.ValidateAudience(jwtx.RoleAuthenticated)
	}
	if err != nil {
		authError(w, http.StatusUnauthorized, baas.ErrorCodeBadJWT, "invalid JWT: "+err.Error())
		return jwtx.Claims{}, false
	}
	return claims, true
}

// caller must hold s.mu.
func (s *Server) newUser(email, password string, metadata map[string]any) *user {
	now := time.Now().UTC()
	md := make(map[string]any, len(metadata))
	maps.Copy(md, metadata)

	u := &user{
		User: baas.User{
			ID:           uuid.NewString(),
			Aud:          jwtx.RoleAuthenticated,
			Role:         jwtx.RoleAuthenticated,
			Email:        email,
			UserMetadata: md,
			AppMetadata:  map[string]any{"provider": "email"},
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		password: password,
	}
	s.users[u.ID] = u
	s.byEmail[strings.ToLower(email)] = u.ID
	return u
}

// caller must hold s.mu.
func (s *Server) userByEmail(email string) *user {
	return s.users[s.byEmail[strings.ToLower(email)]]
}

// caller must hold s.mu.
func (s *Server) publicUser(u *user) baas.User {
	out := u.User
	out.UserMetadata = maps.Clone(u.UserMetadata)
	out.AppMetadata = maps.Clone(u.AppMetadata)
	out.Factors = nil
	for _, f := range s.factors {
		if f.userID == u.ID {
			out.Factors = append(out.Factors, f.Factor)
		}
	}
	return out
}

// caller must hold s.mu.
func (s *Server) issueSession(u *user, aal string) (baas.Session, error) {
	return s.rotateSession(u, uuid.NewString(), aal)
}

// caller must hold s.mu.
func (s *Server) rotateSession(u *user, sessionID, aal string) (baas.Session, error) {
	now := time.Now()
	claims := jwtx.NewAccessClaims(u.ID, u.Email, sessionID, maps.Clone(u.UserMetadata), s.TokenTTL, now)
	claims.AAL = aal
	claims.AppMetadata = maps.Clone(u.AppMetadata)

	access, err := jwtx.SignHS256(claims, s.JWTSecret)
	if err != nil {
		return baas.Session{}, err
	}
	refresh, err := cryptox.GenerateToken(16)
	if err != nil {
		return baas.Session{}, err
	}

	s.sessions[sessionID] = u.ID
	s.refresh[refresh] = sessionID

	return baas.Session{
		AccessToken:  access,
		TokenType:    "bearer",
		ExpiresIn:    int(s.TokenTTL / time.Second),
		ExpiresAt:    now.Add(s.TokenTTL).Unix(),
		RefreshToken: refresh,
		User:         s.publicUser(u),
	}, nil
}
