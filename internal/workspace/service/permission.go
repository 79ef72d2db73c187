package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/aussiebroadwan/workspace/internal/workspace/domain"
	"github.com/aussiebroadwan/workspace/internal/workspace/metrics"
	"github.com/aussiebroadwan/workspace/internal/workspace/store"
	"github.com/aussiebroadwan/workspace/pkg/slogx"
)

// DefaultAdminEmail is the designated administrator when none is configured.
const DefaultAdminEmail = "admin@workspace.local"

// PermissionService is the permission gate. Exactly one email address may
// hold the admin role; every other admin profile is downgraded by the sweep.
type PermissionService struct {
	Store      store.Store
	AdminEmail string
	Logger     *slog.Logger
	Now        func() time.Time
}

func (s *PermissionService) adminEmail() string {
	if s.AdminEmail == "" {
		return DefaultAdminEmail
	}
	return s.AdminEmail
}

// UserRole reads the role from user metadata, defaulting to user.
func (s *PermissionService) UserRole(user *domain.User) domain.Role {
	return domain.ParseRole(user.MetadataString("role"))
}

// IsAdmin reports whether the user's metadata grants the admin role.
func (s *PermissionService) IsAdmin(user *domain.User) bool {
	return s.UserRole(user) == domain.RoleAdmin
}

// IsDesignatedAdmin matches the user's email against the configured admin
// address, ignoring case.
func (s *PermissionService) IsDesignatedAdmin(user *domain.User) bool {
	if user == nil {
		return false
	}
	return s.isDesignatedEmail(user.Email)
}

func (s *PermissionService) isDesignatedEmail(email string) bool {
	return email != "" && strings.EqualFold(strings.TrimSpace(email), s.adminEmail())
}

// SweepReport describes one admin security sweep.
type SweepReport struct {
	Scanned    int      `json:"scanned"`
	Downgraded []string `json:"downgraded"`
	Failed     []string `json:"failed"`
}

// EnforceAdminSecurity downgrades every admin profile that does not belong
// to the designated address. Individual downgrade failures are collected;
// the sweep continues past them.
func (s *PermissionService) EnforceAdminSecurity(ctx context.Context) (SweepReport, error) {
	report := SweepReport{Downgraded: []string{}, Failed: []string{}}

	admins, err := s.Store.Profiles().ListByRole(ctx, domain.RoleAdmin)
	if err != nil {
		return report, domain.Backend("list admin profiles", err)
	}
	report.Scanned = len(admins)

	var errs []error
	for _, p := range admins {
		if s.isDesignatedEmail(p.Email) {
			continue
		}
		if _, err := s.Store.Profiles().UpdateRole(ctx, p.ID, domain.RoleUser, clock(s.Now)); err != nil {
			s.logger().Error("failed to downgrade admin", "email", p.Email, "error", err)
			report.Failed = append(report.Failed, p.Email)
			errs = append(errs, fmt.Errorf("downgrade %s: %w", p.Email, err))
			continue
		}
		s.logger().Warn("downgraded unauthorized admin", "email", p.Email)
		metrics.AdminDowngradesTotal.Inc()
		report.Downgraded = append(report.Downgraded, p.Email)
	}

	if len(errs) > 0 {
		return report, domain.Backend("admin sweep", errors.Join(errs...))
	}
	return report, nil
}

// RegistrationResult is the outcome of ValidateRegistration. Sanitized
// always carries role "user".
type RegistrationResult struct {
	Valid     bool           `json:"valid"`
	Message   string         `json:"message,omitempty"`
	Sanitized map[string]any `json:"sanitized"`
}

// ValidateRegistration strips any elevated role from sign-up metadata. New
// accounts are always plain users.
func (s *PermissionService) ValidateRegistration(data map[string]any) RegistrationResult {
	res := RegistrationResult{Valid: true, Sanitized: maps.Clone(data)}
	if res.Sanitized == nil {
		res.Sanitized = map[string]any{}
	}

	if role, ok := data["role"]; ok && role != string(domain.RoleUser) {
		res.Message = "new accounts can only register as user"
	}
	res.Sanitized["role"] = string(domain.RoleUser)
	return res
}

// ClaimResult reports what ClaimAdmin changed.
type ClaimResult struct {
	Created bool   `json:"created"`
	Updated bool   `json:"updated"`
	Message string `json:"message"`
}

// ClaimAdmin gives the designated admin an admin profile, creating the
// profile row when missing. Any other user gets domain.ErrForbidden.
func (s *PermissionService) ClaimAdmin(ctx context.Context, user *domain.User) (ClaimResult, error) {
	if user == nil {
		return ClaimResult{}, domain.ErrNotAuthenticated
	}
	if !s.IsDesignatedAdmin(user) {
		return ClaimResult{}, fmt.Errorf("%w: %s is not the designated admin", domain.ErrForbidden, user.Email)
	}

	now := clock(s.Now)
	profile, err := s.Store.Profiles().Get(ctx, user.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		name := user.MetadataString("fullName")
		if name == "" {
			name = "Administrator"
		}
		_, err := s.Store.Profiles().Create(ctx, domain.Profile{
			ID:        user.ID,
			Email:     user.Email,
			FullName:  name,
			Role:      domain.RoleAdmin,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return ClaimResult{}, domain.Backend("create admin profile", err)
		}
		s.logger().Info("admin profile created", "email", user.Email)
		return ClaimResult{Created: true, Message: "admin role granted"}, nil
	case err != nil:
		return ClaimResult{}, domain.Backend("get profile", err)
	case profile.Role == domain.RoleAdmin:
		return ClaimResult{Message: "already an admin"}, nil
	}

	if _, err := s.Store.Profiles().UpdateRole(ctx, user.ID, domain.RoleAdmin, now); err != nil {
		return ClaimResult{}, domain.Backend("grant admin", err)
	}
	s.logger().Info("admin role granted", "email", user.Email)
	return ClaimResult{Updated: true, Message: "admin role granted"}, nil
}

// PermissionCheck is the verdict on a user holding a role.
type PermissionCheck struct {
	Valid           bool        `json:"valid"`
	ShouldDowngrade bool        `json:"should_downgrade"`
	Message         string      `json:"message"`
	RecommendedRole domain.Role `json:"recommended_role"`
}

// ValidateUserPermissions checks that only the designated admin holds the
// admin role.
func (s *PermissionService) ValidateUserPermissions(user *domain.User, role domain.Role) PermissionCheck {
	check := PermissionCheck{Valid: true, RecommendedRole: role}
	switch {
	case role != domain.RoleAdmin:
		check.Message = "user permissions are normal"
	case s.IsDesignatedAdmin(user):
		check.Message = "admin permissions verified"
	default:
		check.Valid = false
		check.ShouldDowngrade = true
		check.RecommendedRole = domain.RoleUser
		check.Message = "only the designated email may hold the admin role"
	}
	return check
}

type CurrentUserReport struct {
	Email             string      `json:"email"`
	Role              domain.Role `json:"role"`
	IsDesignatedAdmin bool        `json:"is_designated_admin"`
	PermissionStatus  string      `json:"permission_status"`
}

type SystemReport struct {
	HasDesignatedAdmin bool     `json:"has_designated_admin"`
	UnauthorizedAdmins []string `json:"unauthorized_admins"`
	TotalUsers         int      `json:"total_users"`
	AdminCount         int      `json:"admin_count"`
	UserCount          int      `json:"user_count"`
}

// PermissionReport summarises the permission state of the system.
type PermissionReport struct {
	CurrentUser     CurrentUserReport `json:"current_user"`
	System          SystemReport      `json:"system"`
	Recommendations []string          `json:"recommendations"`
}

// Report inspects every profile and the current user.
func (s *PermissionService) Report(ctx context.Context, current *domain.User) (PermissionReport, error) {
	report := PermissionReport{
		CurrentUser:     CurrentUserReport{PermissionStatus: "unknown"},
		System:          SystemReport{UnauthorizedAdmins: []string{}},
		Recommendations: []string{},
	}

	if current != nil {
		role := s.UserRole(current)
		report.CurrentUser.Email = current.Email
		report.CurrentUser.Role = role
		report.CurrentUser.IsDesignatedAdmin = s.IsDesignatedAdmin(current)
		report.CurrentUser.PermissionStatus = "invalid"
		if s.ValidateUserPermissions(current, role).Valid {
			report.CurrentUser.PermissionStatus = "valid"
		}
	}

	profiles, err := s.Store.Profiles().List(ctx)
	if err != nil {
		return report, domain.Backend("list profiles", err)
	}

	sys := &report.System
	sys.TotalUsers = len(profiles)
	for _, p := range profiles {
		if p.Role != domain.RoleAdmin {
			sys.UserCount++
			continue
		}
		sys.AdminCount++
		if s.isDesignatedEmail(p.Email) {
			sys.HasDesignatedAdmin = true
		} else {
			sys.UnauthorizedAdmins = append(sys.UnauthorizedAdmins, p.Email)
		}
	}

	if len(profiles) > 0 {
		if !sys.HasDesignatedAdmin {
			report.Recommendations = append(report.Recommendations, "grant the admin role to the designated email")
		}
		if n := len(sys.UnauthorizedAdmins); n > 0 {
			report.Recommendations = append(report.Recommendations, fmt.Sprintf("found %d unauthorized admin accounts; downgrade them", n))
		}
		if sys.AdminCount == 0 {
			report.Recommendations = append(report.Recommendations, "the system has no admin")
		}
	}
	return report, nil
}

type Check struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// SecurityCheckResult is the self-check of the permission gate's own
// configuration.
type SecurityCheckResult struct {
	OverallStatus string           `json:"overall_status"`
	Checks        map[string]Check `json:"checks"`
	Timestamp     time.Time        `json:"timestamp"`
}

func (s *PermissionService) SecurityCheck() SecurityCheckResult {
	checks := map[string]Check{
		"designated_admin_email": {Status: "pass", Message: "designated admin: " + s.adminEmail()},
		"role_constants":         {Status: "pass", Message: "roles defined"},
	}
	if !strings.Contains(s.adminEmail(), "@") {
		checks["designated_admin_email"] = Check{Status: "fail", Message: "designated admin email is not an address"}
	}
	if domain.RoleAdmin.Compare(domain.RoleUser) <= 0 {
		checks["role_constants"] = Check{Status: "fail", Message: "admin does not outrank user"}
	}

	overall := "pass"
	for _, c := range checks {
		if c.Status != "pass" {
			overall = "fail"
		}
	}
	return SecurityCheckResult{OverallStatus: overall, Checks: checks, Timestamp: clock(s.Now)}
}

func (s *PermissionService) logger() *slog.Logger {
	if s.Logger == nil {
		return slogx.Discard()
	}
	return s.Logger
}
