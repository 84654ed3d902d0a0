package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alexjbarnes/portal-client/internal/api"
	"github.com/alexjbarnes/portal-client/internal/session"
)

func snap(status session.Status, admin bool) session.Snapshot {
	return session.Snapshot{
		Status: status,
		User:   api.User{ID: "u1", Email: "user@portal.example", IsAdmin: admin},
	}
}

func TestRequireAuthenticated(t *testing.T) {
	tests := []struct {
		name   string
		status session.Status
		want   Decision
	}{
		{"unknown waits", session.StatusUnknown, Decision{Kind: Wait}},
		{"checking waits", session.StatusChecking, Decision{Kind: Wait}},
		{"authenticated allows", session.StatusAuthenticated, Decision{Kind: Allow}},
		{"unauthenticated redirects to login", session.StatusUnauthenticated, Decision{Kind: Redirect, Target: LoginTarget}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RequireAuthenticated(snap(tt.status, false)))
		})
	}
}

func TestRequireAdmin_AdminAllowed(t *testing.T) {
	assert.Equal(t, Decision{Kind: Allow}, RequireAdmin(snap(session.StatusAuthenticated, true)))
}

func TestRequireAdmin_NonAdminRedirectsToLanding(t *testing.T) {
	d := RequireAdmin(snap(session.StatusAuthenticated, false))

	assert.Equal(t, Redirect, d.Kind)
	assert.Equal(t, LandingTarget, d.Target, "a valid non-admin session goes to the landing view, never login")
}

func TestRequireAdmin_UnresolvedSessionWaits(t *testing.T) {
	assert.Equal(t, Decision{Kind: Wait}, RequireAdmin(snap(session.StatusUnknown, true)))
	assert.Equal(t, Decision{Kind: Wait}, RequireAdmin(snap(session.StatusChecking, true)))
}

func TestRequireAdmin_UnauthenticatedRedirectsToLogin(t *testing.T) {
	d := RequireAdmin(snap(session.StatusUnauthenticated, true))

	assert.Equal(t, Decision{Kind: Redirect, Target: LoginTarget}, d)
}

func TestRoutes_Evaluate(t *testing.T) {
	routes := Routes{
		"login":     Public,
		"dashboard": Authenticated,
		"admin":     Admin,
	}

	tests := []struct {
		name string
		view string
		snap session.Snapshot
		want Decision
	}{
		{"public always renders", "login", snap(session.StatusUnauthenticated, false), Decision{Kind: Allow}},
		{"dashboard for signed-in user", "dashboard", snap(session.StatusAuthenticated, false), Decision{Kind: Allow}},
		{"dashboard redirects signed-out user", "dashboard", snap(session.StatusUnauthenticated, false), Decision{Kind: Redirect, Target: LoginTarget}},
		{"admin view for admin", "admin", snap(session.StatusAuthenticated, true), Decision{Kind: Allow}},
		{"admin view bounces non-admin to landing", "admin", snap(session.StatusAuthenticated, false), Decision{Kind: Redirect, Target: LandingTarget}},
		{"unknown view defaults to authenticated-only", "reports", snap(session.StatusUnauthenticated, false), Decision{Kind: Redirect, Target: LoginTarget}},
		{"nothing gated renders while checking", "dashboard", snap(session.StatusChecking, false), Decision{Kind: Wait}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, routes.Evaluate(tt.view, tt.snap))
		})
	}
}
