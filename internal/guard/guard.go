// Package guard decides whether a view may render for the current
// session. It is a pure function of session state: no network calls, no
// mutation, no framework dependency. The rendering layer asks on every
// navigation and acts on the decision.
package guard

import "github.com/alexjbarnes/portal-client/internal/session"

// Well-known navigation targets.
const (
	// LoginTarget is the login entry point, where unauthenticated
	// navigation ends up.
	LoginTarget = "/login"

	// LandingTarget is the default authenticated landing view, where
	// authorized-but-insufficient users are sent. Never login: the
	// session is valid, the user is just not allowed this view.
	LandingTarget = "/dashboard"
)

// Kind classifies a gating decision.
type Kind int

const (
	// Allow renders the guarded view.
	Allow Kind = iota

	// Wait renders nothing (or a neutral loading state) because the
	// session is still Unknown or Checking.
	Wait

	// Redirect navigates to Decision.Target instead of rendering.
	Redirect
)

// Decision is the outcome of evaluating a guard.
type Decision struct {
	Kind   Kind
	Target string
}

// RequireAuthenticated gates views that any signed-in user may see.
func RequireAuthenticated(snap session.Snapshot) Decision {
	switch snap.Status {
	case session.StatusUnknown, session.StatusChecking:
		return Decision{Kind: Wait}
	case session.StatusAuthenticated:
		return Decision{Kind: Allow}
	}

	return Decision{Kind: Redirect, Target: LoginTarget}
}

// RequireAdmin gates admin-only views. A valid non-admin session is
// redirected to the landing view, never to login.
func RequireAdmin(snap session.Snapshot) Decision {
	d := RequireAuthenticated(snap)
	if d.Kind != Allow {
		return d
	}

	if !snap.User.IsAdmin {
		return Decision{Kind: Redirect, Target: LandingTarget}
	}

	return Decision{Kind: Allow}
}

// Requirement is a view's declared access level.
type Requirement int

const (
	// Public views render for anyone.
	Public Requirement = iota

	// Authenticated views need a signed-in session.
	Authenticated

	// Admin views additionally need User.IsAdmin.
	Admin
)

// Routes maps view names to their requirements.
type Routes map[string]Requirement

// Evaluate gates the named view. Unknown views are treated as
// authenticated-only, the safe default for a portal where almost every
// view sits behind the login gate.
func (r Routes) Evaluate(view string, snap session.Snapshot) Decision {
	req, ok := r[view]
	if !ok {
		req = Authenticated
	}

	switch req {
	case Public:
		return Decision{Kind: Allow}
	case Admin:
		return RequireAdmin(snap)
	}

	return RequireAuthenticated(snap)
}
