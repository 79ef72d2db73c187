package http

import (
	"net/http"

	"github.com/aussiebroadwan/workspace/internal/workspace/domain"
	"github.com/aussiebroadwan/workspace/internal/workspace/service"
	"github.com/aussiebroadwan/workspace/internal/workspace/session"
	"github.com/aussiebroadwan/workspace/pkg/httpx"
	"github.com/aussiebroadwan/workspace/pkg/slogx"
)

type SessionHandler struct {
	Session *session.Manager
}

type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignUpRequest struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Profile  map[string]any `json:"profile,omitempty"`
}

type SignUpResponse struct {
	session.SignUpResult

	TenantError string `json:"tenant_error,omitempty"`
}

type ResetPasswordRequest struct {
	Email string `json:"email"`
}

type EnrollRequest struct {
	FriendlyName string `json:"friendly_name"`
}

type VerifyRequest struct {
	FactorID string `json:"factor_id"`
	Code     string `json:"code"`
}

// HandleGet godoc
//
//	@Summary		Current session
//	@Description	Returns the signed-in user, their tenant and role. User is null when signed out.
//	@Tags			Session
//	@Produce		json
//	@Success		200	{object}	session.State
//	@Router			/v1/session [get].
func (h *SessionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, h.Session.State())
}

// HandleSignIn godoc
//
//	@Summary		Sign in with email and password
//	@Tags			Session
//	@Accept			json
//	@Produce		json
//	@Param			request	body		CredentialsRequest		true	"Credentials"
//	@Success		200		{object}	session.State
//	@Failure		400		{object}	httpx.ErrorResponse	"Validation failed"
//	@Failure		401		{object}	httpx.ErrorResponse	"Invalid credentials"
//	@Failure		403		{object}	httpx.ErrorResponse	"Email not verified"
//	@Failure		429		{object}	httpx.ErrorResponse	"Too many attempts"
//	@Router			/v1/session/sign-in [post].
func (h *SessionHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !decode(w, r, &req) {
		return
	}

	st, err := h.Session.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, st)
}

// HandleSignUp godoc
//
//	@Summary		Register a new account
//	@Description	Creates the account and, when a session is issued, the user's tenant. Role metadata in the profile is ignored.
//	@Tags			Session
//	@Accept			json
//	@Produce		json
//	@Param			request	body		SignUpRequest		true	"Registration"
//	@Success		201		{object}	SignUpResponse
//	@Failure		400		{object}	httpx.ErrorResponse	"Validation failed"
//	@Failure		409		{object}	httpx.ErrorResponse	"Email already registered"
//	@Router			/v1/session/sign-up [post].
func (h *SessionHandler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	var req SignUpRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.Session.SignUp(r.Context(), req.Email, req.Password, req.Profile)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := SignUpResponse{SignUpResult: res}
	if res.TenantErr != nil {
		slogx.FromContext(r.Context()).Warn("tenant not created at sign-up", "error", res.TenantErr)
		resp.TenantError = res.TenantErr.Error()
	}
	httpx.WriteJSON(w, http.StatusCreated, resp)
}

// HandleSignOut godoc
//
//	@Summary		Sign out
//	@Description	Always clears the local session. A backend failure is still reported.
//	@Tags			Session
//	@Success		204
//	@Failure		502	{object}	httpx.ErrorResponse	"Backend sign-out failed; local session cleared"
//	@Router			/v1/session/sign-out [post].
func (h *SessionHandler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.Session.SignOut(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleResetPassword godoc
//
//	@Summary		Send a password reset email
//	@Tags			Session
//	@Accept			json
//	@Param			request	body	ResetPasswordRequest	true	"Account email"
//	@Success		202
//	@Failure		400	{object}	httpx.ErrorResponse	"Validation failed"
//	@Router			/v1/session/reset-password [post].
func (h *SessionHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.Session.ResetPassword(r.Context(), req.Email); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleUpdateUser godoc
//
//	@Summary		Update the signed-in account
//	@Description	Changes email, password or metadata. A "role" metadata key is dropped.
//	@Tags			Session
//	@Accept			json
//	@Produce		json
//	@Param			request	body		session.UserUpdate	true	"Changes"
//	@Success		200		{object}	domain.User
//	@Failure		400		{object}	httpx.ErrorResponse	"Validation failed"
//	@Failure		401		{object}	httpx.ErrorResponse	"Not signed in"
//	@Router			/v1/session/user [patch].
func (h *SessionHandler) HandleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req session.UserUpdate
	if !decode(w, r, &req) {
		return
	}

	user, err := h.Session.UpdateUser(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, user)
}

// HandleClaimAdmin godoc
//
//	@Summary		Claim the admin role
//	@Description	Grants the admin role to the designated admin email. Any other account gets 403.
//	@Tags			Session
//	@Produce		json
//	@Success		200	{object}	service.ClaimResult
//	@Failure		403	{object}	httpx.ErrorResponse	"Not the designated admin"
//	@Router			/v1/session/claim-admin [post].
func (h *SessionHandler) HandleClaimAdmin(w http.ResponseWriter, r *http.Request) {
	res, err := h.Session.ClaimAdmin(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// HandleEnrollTOTP godoc
//
//	@Summary		Start TOTP enrollment
//	@Tags			Session
//	@Accept			json
//	@Produce		json
//	@Param			request	body		EnrollRequest	false	"Factor name"
//	@Success		201		{object}	session.Enrollment
//	@Router			/v1/session/mfa/totp/enroll [post].
func (h *SessionHandler) HandleEnrollTOTP(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}

	e, err := h.Session.EnrollTOTP(r.Context(), req.FriendlyName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, e)
}

// HandleVerifyTOTP godoc
//
//	@Summary		Verify a TOTP code
//	@Description	Challenges the factor and verifies the six digit code, upgrading the session.
//	@Tags			Session
//	@Accept			json
//	@Produce		json
//	@Param			request	body		VerifyRequest	true	"Factor and code"
//	@Success		200		{object}	session.State
//	@Failure		400		{object}	httpx.ErrorResponse	"Malformed code"
//	@Failure		401		{object}	httpx.ErrorResponse	"Wrong code"
//	@Router			/v1/session/mfa/totp/verify [post].
func (h *SessionHandler) HandleVerifyTOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if !decode(w, r, &req) {
		return
	}

	st, err := h.Session.VerifyTOTP(r.Context(), req.FactorID, req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, st)
}

type TenantHandler struct {
	Session *session.Manager
	Tenants *service.TenantService
}

// HandleGet godoc
//
//	@Summary		Current tenant
//	@Tags			Tenant
//	@Produce		json
//	@Success		200	{object}	domain.Tenant
//	@Failure		409	{object}	httpx.ErrorResponse	"No tenant resolved"
//	@Router			/v1/tenant [get].
func (h *TenantHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	st := h.Session.State()
	if st.Tenant == nil {
		writeError(w, r, domain.ErrNoTenant)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, st.Tenant)
}

// HandleUpdateSettings godoc
//
//	@Summary		Replace the tenant settings
//	@Tags			Tenant
//	@Accept			json
//	@Produce		json
//	@Param			request	body		object	true	"Settings document"
//	@Success		200		{object}	domain.Tenant
//	@Failure		409		{object}	httpx.ErrorResponse	"No tenant resolved"
//	@Router			/v1/tenant/settings [patch].
func (h *TenantHandler) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var settings map[string]any
	if !decode(w, r, &settings) {
		return
	}

	id, err := h.Session.CurrentTenant(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	t, err := h.Tenants.UpdateSettings(r.Context(), id, settings)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, t)
}

type AdminHandler struct {
	Session     *session.Manager
	Permissions *service.PermissionService
}

// HandleReport godoc
//
//	@Summary		Permission report
//	@Description	Lists admin accounts, flags unauthorized ones and gives recommendations. Admin only.
//	@Tags			Admin
//	@Produce		json
//	@Success		200	{object}	service.PermissionReport
//	@Failure		403	{object}	httpx.ErrorResponse	"Not an admin"
//	@Router			/v1/admin/permissions [get].
func (h *AdminHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.Permissions.Report(r.Context(), h.Session.State().User)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, report)
}

// HandleSweep godoc
//
//	@Summary		Downgrade unauthorized admins
//	@Description	Runs the admin sweep now instead of waiting for housekeeping. Admin only.
//	@Tags			Admin
//	@Produce		json
//	@Success		200	{object}	service.SweepReport
//	@Failure		502	{object}	httpx.ErrorResponse	"Some profiles could not be downgraded"
//	@Router			/v1/admin/sweep [post].
func (h *AdminHandler) HandleSweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.Permissions.EnforceAdminSecurity(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, report)
}

// HandleSecurityCheck godoc
//
//	@Summary		Permission gate self check
//	@Tags			Admin
//	@Produce		json
//	@Success		200	{object}	service.SecurityCheckResult
//	@Router			/v1/admin/security-check [get].
func (h *AdminHandler) HandleSecurityCheck(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, h.Permissions.SecurityCheck())
}
