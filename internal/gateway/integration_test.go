package gateway_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexjbarnes/portal-client/internal/api"
	"github.com/alexjbarnes/portal-client/internal/credstore"
	"github.com/alexjbarnes/portal-client/internal/gateway"
	"github.com/alexjbarnes/portal-client/internal/portaltest"
	"github.com/alexjbarnes/portal-client/internal/session"
)

// stack is the full client wiring against a fake backend: credential
// store, session controller, gateway transport, and a gatewayed API
// client.
type stack struct {
	srv     *portaltest.Server
	store   *credstore.MemStore
	sess    *session.Controller
	authed  *api.Client
	expired atomic.Int64
}

func newStack(t *testing.T) *stack {
	t.Helper()

	s := &stack{
		srv:   portaltest.New(),
		store: credstore.NewMemStore(),
	}
	t.Cleanup(s.srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.sess = session.NewController(api.NewClient(s.srv.URL, s.srv.Client()), s.store, logger)

	transport := gateway.NewTransport(gateway.Config{
		Base:        s.srv.Client().Transport,
		Credentials: s.store,
		Refresher:   s.sess,
		OnSessionExpired: func() {
			s.expired.Add(1)
		},
	}, logger)

	s.authed = api.NewClient(s.srv.URL, &http.Client{Transport: transport})

	return s
}

func (s *stack) seedExpired(t *testing.T) {
	t.Helper()

	access, refresh, err := s.srv.IssueExpired(portaltest.DemoEmail)
	require.NoError(t, err)
	require.NoError(t, s.store.Save(credstore.Credential{
		AccessToken:  access,
		RefreshToken: refresh,
	}))
}

func TestGateway_ExpiredAccessTokenRecoversTransparently(t *testing.T) {
	s := newStack(t)
	s.seedExpired(t)

	// The caller sees only the final success; the 401 and the refresh
	// happen underneath.
	user, err := s.authed.Me(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, portaltest.DemoEmail, user.Email)

	assert.Equal(t, int64(1), s.srv.RefreshCalls())

	// The rotated pair is persisted for the next request.
	cred, ok := s.store.Load()
	require.True(t, ok)
	assert.NotEmpty(t, cred.AccessToken)
}

func TestGateway_ConcurrentExpiredCallsShareOneRefresh(t *testing.T) {
	s := newStack(t)
	s.seedExpired(t)
	s.srv.SetRefreshDelay(100 * time.Millisecond)

	const n = 6

	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.authed.Me(context.Background(), "")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "caller %d", i)
	}

	// All N rejected calls waited on a single backend exchange. With the
	// backend rotating refresh tokens, a second exchange would have
	// failed, so this also proves no caller lost a persistence race.
	assert.Equal(t, int64(1), s.srv.RefreshCalls())
}

func TestGateway_BothTokensExpiredIsFatal(t *testing.T) {
	s := newStack(t)
	s.seedExpired(t)
	s.srv.SetFailRefresh(true)

	_, err := s.authed.Me(context.Background(), "")
	require.Error(t, err)
	assert.True(t, gateway.IsSessionExpired(err))

	assert.Equal(t, session.StatusUnauthenticated, s.sess.Snapshot().Status)
	_, ok := s.store.Load()
	assert.False(t, ok, "credential store must end empty")
	assert.Equal(t, int64(1), s.expired.Load(), "login navigation hook fires once")
}

func TestGateway_ConcurrentFatalCallsAllFail(t *testing.T) {
	s := newStack(t)
	s.seedExpired(t)
	s.srv.SetFailRefresh(true)
	s.srv.SetRefreshDelay(100 * time.Millisecond)

	const n = 4

	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.authed.Me(context.Background(), "")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.Error(t, err, "caller %d", i)
		assert.True(t, gateway.IsSessionExpired(err), "caller %d: %v", i, err)
	}

	assert.Equal(t, int64(1), s.srv.RefreshCalls())
}
