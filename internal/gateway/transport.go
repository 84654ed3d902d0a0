// Package gateway wraps every outbound portal call: it attaches the
// current access token and, when the backend rejects it, drives a
// single refresh-and-retry cycle. Each logical request is retried at
// most once, so a refreshed token that is itself rejected propagates
// instead of looping.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/alexjbarnes/portal-client/internal/credstore"
)

// ErrSessionExpired marks a failure that is not locally recoverable:
// the refresh exchange itself was rejected. Callers surface it as
// "please sign in again" and navigate to the login entry point.
var ErrSessionExpired = errors.New("session expired")

// IsSessionExpired reports whether err (or any error in its chain,
// including through url.Error) is the session-fatal condition.
func IsSessionExpired(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}

// CredentialSource yields the current credential pair, if any.
type CredentialSource interface {
	Load() (credstore.Credential, bool)
}

// Refresher exchanges the stored refresh token for a new credential
// pair. Implemented by the session controller; its contract is that
// concurrent calls collapse into one backend exchange and that failure
// leaves the store empty and the session unauthenticated.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Config wires a Transport.
type Config struct {
	// Base is the underlying round tripper. Defaults to
	// http.DefaultTransport.
	Base http.RoundTripper

	// Credentials supplies the access token attached to each request.
	Credentials CredentialSource

	// Refresher recovers from a rejected access token.
	Refresher Refresher

	// Metrics receives gateway counters. Defaults to unregistered
	// metrics.
	Metrics *Metrics

	// OnSessionExpired is invoked (once per failed request) when a
	// refresh fails, so the UI layer can navigate to the login entry
	// point. Optional.
	OnSessionExpired func()
}

// Transport is the request gateway. It implements http.RoundTripper so
// any http.Client can be pointed at it.
type Transport struct {
	base      http.RoundTripper
	creds     CredentialSource
	refresher Refresher
	metrics   *Metrics
	onExpired func()
	logger    *slog.Logger
}

// NewTransport creates a gateway transport.
func NewTransport(cfg Config, logger *slog.Logger) *Transport {
	base := cfg.Base
	if base == nil {
		base = http.DefaultTransport
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	return &Transport{
		base:      base,
		creds:     cfg.Credentials,
		refresher: cfg.Refresher,
		metrics:   metrics,
		onExpired: cfg.OnSessionExpired,
		logger:    logger,
	}
}

// RoundTrip dispatches the request with the current access token. On a
// 401 it refreshes once and re-sends; a second 401 propagates. The
// retry bound is per logical request by construction: the flag lives on
// this call's stack, never in shared state.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.metrics.requests.Inc()

	first := req.Clone(req.Context())
	t.attachToken(first)

	resp, err := t.base.RoundTrip(first)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	t.metrics.authFailures.Inc()

	// A request whose body cannot be replayed cannot be retried; the
	// caller sees the original rejection.
	if req.Body != nil && req.GetBody == nil {
		t.logger.Debug("auth failure on non-replayable request, not retrying",
			slog.String("path", req.URL.Path),
		)

		return resp, nil
	}

	if refreshErr := t.refresher.Refresh(req.Context()); refreshErr != nil {
		t.metrics.refreshes.WithLabelValues("failure").Inc()
		drainBody(resp)

		if t.onExpired != nil {
			t.onExpired()
		}

		return nil, fmt.Errorf("%w: %w", ErrSessionExpired, refreshErr)
	}

	t.metrics.refreshes.WithLabelValues("success").Inc()
	drainBody(resp)

	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, bodyErr := req.GetBody()
		if bodyErr != nil {
			return nil, fmt.Errorf("replaying request body: %w", bodyErr)
		}

		retry.Body = body
	}

	cred, ok := t.creds.Load()
	if !ok {
		// Refresh reported success but the store is empty; a logout won
		// the race. Treat as fatal for this request.
		return nil, fmt.Errorf("%w: credential cleared during refresh", ErrSessionExpired)
	}

	retry.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	t.metrics.retries.Inc()

	t.logger.Debug("retrying request after refresh", slog.String("path", req.URL.Path))

	return t.base.RoundTrip(retry)
}

// attachToken sets the bearer header from the store unless the caller
// already attached one explicitly.
func (t *Transport) attachToken(req *http.Request) {
	if req.Header.Get("Authorization") != "" {
		return
	}

	if cred, ok := t.creds.Load(); ok {
		req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	}
}

// drainBody discards and closes a response body so the underlying
// connection can be reused.
func drainBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
