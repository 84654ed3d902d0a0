// Package sso hands the current identity off to sibling products hosted
// on other origins. Each hand-off is a stateless exchange: the broker
// asks the backend for a short-lived token scoped to one product plus
// the URL to open with it, and the receiving product validates the
// token on its own.
package sso

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alexjbarnes/portal-client/internal/api"
)

// Grant is an ephemeral product hand-off. It is never persisted; the
// caller opens RedirectURL in a new browsing context immediately.
type Grant struct {
	ProductSlug string
	RedirectURL string
	Token       string
}

// Broker mints access grants through the gatewayed API client, so grant
// requests get the same refresh-and-retry treatment as any other
// authorized call.
type Broker struct {
	api    *api.Client
	logger *slog.Logger
}

// NewBroker creates a broker on the given (gatewayed) API client.
func NewBroker(apiClient *api.Client, logger *slog.Logger) *Broker {
	return &Broker{
		api:    apiClient,
		logger: logger,
	}
}

// AccessGrant exchanges the current session for a product-scoped grant.
// Failures are surfaced per call and leave the session untouched; the
// user simply retries from the UI.
func (b *Broker) AccessGrant(ctx context.Context, slug string) (Grant, error) {
	resp, err := b.api.ProductAccess(ctx, slug)
	if err != nil {
		return Grant{}, fmt.Errorf("generating access for product %q: %w", slug, err)
	}

	b.logger.Debug("product access granted", slog.String("product", slug))

	return Grant{
		ProductSlug: slug,
		RedirectURL: resp.RedirectURL,
		Token:       resp.AccessToken,
	}, nil
}
