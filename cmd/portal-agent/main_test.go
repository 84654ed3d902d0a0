package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alexjbarnes/portal-client/internal/config"
)

func TestKeepalive_StopsCleanlyOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := &config.Config{KeepaliveInterval: time.Minute}

	err := keepalive(ctx, cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.NoError(t, err, "cancellation is a clean stop, not an error")
}
