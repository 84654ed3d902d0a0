// Package session owns "who is the current user". All session mutation
// funnels through the Controller; other components read snapshots.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/alexjbarnes/portal-client/internal/api"
	"github.com/alexjbarnes/portal-client/internal/credstore"
)

// Status is the session lifecycle state. Guarded UI must not render
// while the status is Unknown or Checking.
type Status int

const (
	// StatusUnknown is the state at process start, before CheckAuth.
	StatusUnknown Status = iota

	// StatusChecking means a persisted credential is being verified.
	StatusChecking

	// StatusAuthenticated means the user is known and the credential valid.
	StatusAuthenticated

	// StatusUnauthenticated means there is no usable session.
	StatusUnauthenticated
)

func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusChecking:
		return "checking"
	case StatusAuthenticated:
		return "authenticated"
	case StatusUnauthenticated:
		return "unauthenticated"
	}

	return fmt.Sprintf("Status(%d)", int(s))
}

// Snapshot is a read-only copy of the session state.
type Snapshot struct {
	Status Status
	User   api.User
}

// ErrNoCredential is returned by Refresh when no refresh token is stored.
var ErrNoCredential = errors.New("no stored credential")

// ErrLoggedOut is returned when a refresh resolves after a logout has
// already replaced the session; its result is discarded.
var ErrLoggedOut = errors.New("logged out while refresh in flight")

// Controller is the session state machine. Exactly one exists per
// process.
type Controller struct {
	api    *api.Client
	store  credstore.Store
	logger *slog.Logger

	// refreshGroup collapses concurrent Refresh calls into a single
	// backend exchange whose result all callers share.
	refreshGroup singleflight.Group

	// mu guards status, user, epoch, and every store mutation the
	// controller makes. Holding it across the mutation keeps the epoch
	// check and the store write one step, so a stale refresh can never
	// touch a newer session's credential.
	mu     sync.Mutex
	status Status
	user   api.User

	// epoch increments whenever the session is replaced, by logout or by
	// a fresh login. A refresh that started under an older epoch discards
	// its result instead of touching the replacement session.
	epoch uint64

	onChange func(Snapshot)
}

// NewController creates a session controller in StatusUnknown.
func NewController(apiClient *api.Client, store credstore.Store, logger *slog.Logger) *Controller {
	return &Controller{
		api:    apiClient,
		store:  store,
		logger: logger,
		status: StatusUnknown,
	}
}

// SetOnChange registers an observer invoked after every status change.
// Must be called before the controller is shared across goroutines.
func (c *Controller) SetOnChange(fn func(Snapshot)) {
	c.onChange = fn
}

// Snapshot returns a copy of the current session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{Status: c.status, User: c.user}
}

// setLocked updates state under c.mu and returns the snapshot to notify
// with. Callers notify after releasing the lock.
func (c *Controller) setLocked(status Status, user api.User) Snapshot {
	c.status = status
	c.user = user

	return Snapshot{Status: status, User: user}
}

func (c *Controller) notify(snap Snapshot) {
	if c.onChange != nil {
		c.onChange(snap)
	}
}

// CheckAuth verifies a persisted credential at process start. With no
// credential it resolves to Unauthenticated without any network call;
// with one it passes through Checking and asks the backend who the
// token belongs to. Any failure clears the store and resolves to
// Unauthenticated. Calls after the first resolution are no-ops.
func (c *Controller) CheckAuth(ctx context.Context) error {
	c.mu.Lock()
	if c.status != StatusUnknown {
		c.mu.Unlock()
		return nil
	}

	cred, ok := c.store.Load()
	if !ok {
		snap := c.setLocked(StatusUnauthenticated, api.User{})
		c.mu.Unlock()
		c.notify(snap)

		return nil
	}

	snap := c.setLocked(StatusChecking, api.User{})
	c.mu.Unlock()
	c.notify(snap)

	user, err := c.api.Me(ctx, cred.AccessToken)
	if err != nil {
		c.logger.Debug("persisted credential rejected", slog.String("error", err.Error()))

		if clearErr := c.store.Clear(); clearErr != nil {
			c.logger.Warn("failed to clear credentials", slog.String("error", clearErr.Error()))
		}

		c.mu.Lock()
		snap = c.setLocked(StatusUnauthenticated, api.User{})
		c.mu.Unlock()
		c.notify(snap)

		return nil
	}

	c.mu.Lock()
	snap = c.setLocked(StatusAuthenticated, *user)
	c.mu.Unlock()
	c.notify(snap)

	c.logger.Info("session resumed", slog.String("email", user.Email))

	return nil
}

// Login authenticates with email and password. On failure the session
// is left unchanged and the backend error (with its code) is returned
// for the caller to render; it is never retried here.
func (c *Controller) Login(ctx context.Context, email, password string) error {
	resp, err := c.api.Login(ctx, email, password)
	if err != nil {
		return err
	}

	cred := credstore.Credential{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	}

	c.mu.Lock()
	c.epoch++

	if err := c.store.Save(cred); err != nil {
		// The in-memory session still works; it just won't survive a
		// restart.
		c.logger.Warn("failed to persist credentials", slog.String("error", err.Error()))
	}

	snap := c.setLocked(StatusAuthenticated, resp.User)
	c.mu.Unlock()
	c.notify(snap)

	c.logger.Info("logged in", slog.String("email", resp.User.Email))

	return nil
}

// Logout tears down the session. The backend notification is best
// effort; the local effects (credentials cleared, Unauthenticated)
// happen regardless. An in-flight refresh resolving after this point
// discards its result.
func (c *Controller) Logout(ctx context.Context) {
	c.mu.Lock()
	c.epoch++
	cred, ok := c.store.Load()

	if err := c.store.Clear(); err != nil {
		c.logger.Warn("failed to clear credentials", slog.String("error", err.Error()))
	}

	snap := c.setLocked(StatusUnauthenticated, api.User{})
	c.mu.Unlock()
	c.notify(snap)

	if ok {
		if err := c.api.Logout(ctx, cred.RefreshToken); err != nil {
			c.logger.Debug("logout notification failed", slog.String("error", err.Error()))
		}
	}

	c.logger.Info("logged out")
}

// Refresh exchanges the stored refresh token for a new credential pair.
// Concurrent callers share a single backend exchange; each receives the
// shared outcome. On failure the store is cleared and the session is
// forced to Unauthenticated. Used by the request gateway; UI code never
// calls this directly.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	startEpoch := c.epoch
	c.mu.Unlock()

	_, err, _ := c.refreshGroup.Do("refresh", func() (interface{}, error) {
		return nil, c.doRefresh(ctx, startEpoch)
	})

	return err
}

// doRefresh runs at most once per in-flight refresh. The context is the
// first caller's; later callers attached to the same flight inherit it.
func (c *Controller) doRefresh(ctx context.Context, startEpoch uint64) error {
	cred, ok := c.store.Load()
	if !ok {
		c.forceUnauthenticated(startEpoch)
		return ErrNoCredential
	}

	resp, err := c.api.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		c.logger.Warn("session refresh failed", slog.String("error", err.Error()))
		c.forceUnauthenticated(startEpoch)

		return err
	}

	newCred := credstore.Credential{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	}

	// Epoch check and save are one locked step: a logout serialized
	// before this point is seen here, and one serialized after cannot
	// clear until the rotated pair is written.
	c.mu.Lock()
	if c.epoch != startEpoch {
		c.mu.Unlock()
		c.logger.Debug("discarding refresh result after logout")

		return ErrLoggedOut
	}

	if err := c.store.Save(newCred); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("persisting refreshed credentials: %w", err)
	}
	c.mu.Unlock()

	c.logger.Debug("session refreshed")

	return nil
}

// forceUnauthenticated applies the logout side effects after a failed
// refresh, unless a logout already replaced the session. The epoch is
// checked before the store is touched: when a newer session owns the
// store, a stale failure must not wipe its credential.
func (c *Controller) forceUnauthenticated(startEpoch uint64) {
	c.mu.Lock()
	if c.epoch != startEpoch {
		c.mu.Unlock()
		return
	}

	if err := c.store.Clear(); err != nil {
		c.logger.Warn("failed to clear credentials", slog.String("error", err.Error()))
	}

	snap := c.setLocked(StatusUnauthenticated, api.User{})
	c.mu.Unlock()
	c.notify(snap)
}
