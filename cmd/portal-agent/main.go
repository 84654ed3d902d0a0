package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/alexjbarnes/portal-client/internal/api"
	"github.com/alexjbarnes/portal-client/internal/config"
	"github.com/alexjbarnes/portal-client/internal/credstore"
	"github.com/alexjbarnes/portal-client/internal/gateway"
	"github.com/alexjbarnes/portal-client/internal/logging"
	"github.com/alexjbarnes/portal-client/internal/session"
	"github.com/alexjbarnes/portal-client/internal/sso"
)

var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Info("portal-agent starting",
		slog.String("version", Version),
		slog.String("api", cfg.APIBaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}
	defer store.Close()

	// The bare client handles the session's own exchanges (login,
	// refresh, the startup identity check). Everything else goes through
	// the gateway so expired tokens recover transparently.
	baseClient := api.NewClient(cfg.APIBaseURL, nil)
	sess := session.NewController(baseClient, store, logger)

	transport := gateway.NewTransport(gateway.Config{
		Credentials: store,
		Refresher:   sess,
		Metrics:     gateway.NewMetrics(prometheus.DefaultRegisterer),
		OnSessionExpired: func() {
			logger.Warn("session expired, sign in again")
		},
	}, logger)

	authedClient := api.NewClient(cfg.APIBaseURL, &http.Client{
		Transport: transport,
		Timeout:   30 * time.Second,
	})

	if err := establishSession(ctx, cfg, sess, logger); err != nil {
		return err
	}

	if cfg.SSOProduct != "" {
		return printSSOGrant(ctx, cfg, authedClient, logger)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return keepalive(gctx, cfg, authedClient, logger)
	})

	g.Go(func() error {
		return serveStatus(gctx, cfg, sess, logger)
	})

	return g.Wait()
}

func openStore(cfg *config.Config) (*credstore.BoltStore, error) {
	if cfg.StatePath != "" {
		return credstore.OpenAt(cfg.StatePath)
	}

	return credstore.Open()
}

// establishSession resumes a persisted session, falling back to a fresh
// login when credentials are configured.
func establishSession(ctx context.Context, cfg *config.Config, sess *session.Controller, logger *slog.Logger) error {
	if err := sess.CheckAuth(ctx); err != nil {
		return fmt.Errorf("checking persisted session: %w", err)
	}

	if sess.Snapshot().Status == session.StatusAuthenticated {
		return nil
	}

	if !cfg.HasCredentials() {
		return fmt.Errorf("no resumable session and no PORTAL_EMAIL/PORTAL_PASSWORD configured")
	}

	logger.Info("signing in", slog.String("email", cfg.Email))

	if err := sess.Login(ctx, cfg.Email, cfg.Password); err != nil {
		if code := api.ErrorCode(err); code != "" {
			return fmt.Errorf("login rejected (%s): %w", code, err)
		}

		return fmt.Errorf("logging in: %w", err)
	}

	return nil
}

// printSSOGrant runs the one-shot hand-off mode: mint a grant for the
// configured product, print where to go, and exit.
func printSSOGrant(ctx context.Context, cfg *config.Config, client *api.Client, logger *slog.Logger) error {
	slug := cfg.SSOProduct

	if cfg.ProductsFile != "" {
		manifest, err := sso.LoadManifest(cfg.ProductsFile)
		if err != nil {
			return err
		}

		p := manifest.Find(slug)
		if p == nil {
			return fmt.Errorf("unknown product %q, not in %s", slug, cfg.ProductsFile)
		}

		logger.Info("handing off", slog.String("product", p.Name))
	}

	broker := sso.NewBroker(client, logger)

	grant, err := broker.AccessGrant(ctx, slug)
	if err != nil {
		return err
	}

	fmt.Printf("%s#token=%s\n", grant.RedirectURL, grant.Token)

	return nil
}

// keepalive polls the identity endpoint through the gateway so the
// access token is refreshed before anything else needs it. A
// session-fatal failure stops the agent; transient failures are logged
// and retried on the next tick. Context cancellation is a clean stop,
// not an error, so a SIGINT shuts the agent down with a zero exit.
func keepalive(ctx context.Context, cfg *config.Config, client *api.Client, logger *slog.Logger) error {
	ticker := time.NewTicker(cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		user, err := client.Me(ctx, "")
		if err != nil {
			if gateway.IsSessionExpired(err) {
				return fmt.Errorf("session expired: %w", err)
			}

			logger.Warn("keepalive check failed", slog.String("error", err.Error()))

			continue
		}

		logger.Debug("session alive", slog.String("email", user.Email))
	}
}

// serveStatus exposes /healthz and /metrics.
func serveStatus(ctx context.Context, cfg *config.Config, sess *session.Controller, logger *slog.Logger) error {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		snap := sess.Snapshot()

		status := http.StatusOK
		if snap.Status != session.StatusAuthenticated {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"status":%q,"email":%q}`+"\n", snap.Status.String(), snap.User.Email)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.Info("status server listening", slog.String("addr", cfg.ListenAddr))

	// Shutdown when context is cancelled.
	go func() {
		<-ctx.Done()
		logger.Info("shutting down status server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status server error: %w", err)
	}

	return nil
}
