package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for the portal agent.
type Config struct {
	// Portal backend base URL.
	APIBaseURL string `env:"PORTAL_API_URL" envDefault:"https://api.portal.example"`

	// Portal account credentials. Used when no persisted session can be
	// resumed.
	Email    string `env:"PORTAL_EMAIL"`
	Password string `env:"PORTAL_PASSWORD"`

	// Path of the credential database. Defaults to
	// ~/.portal-client/state.db when empty.
	StatePath string `env:"PORTAL_STATE_PATH"`

	// Optional YAML manifest of sibling products for SSO hand-off.
	ProductsFile string `env:"PORTAL_PRODUCTS_FILE"`

	// When set, the agent requests an SSO grant for this product slug,
	// prints the redirect URL, and exits instead of running the daemon.
	SSOProduct string `env:"PORTAL_SSO_PRODUCT"`

	// Address for the health and metrics endpoints.
	ListenAddr string `env:"PORTAL_LISTEN_ADDR" envDefault:":8471"`

	// Interval between keepalive identity checks.
	KeepaliveInterval time.Duration `env:"PORTAL_KEEPALIVE_INTERVAL" envDefault:"5m"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// Resolve the products file to an absolute path so a later working
	// directory change cannot make it unreadable.
	if cfg.ProductsFile != "" {
		absPath, err := filepath.Abs(cfg.ProductsFile)
		if err != nil {
			return nil, fmt.Errorf("resolving products file to absolute path: %w", err)
		}

		cfg.ProductsFile = absPath
	}

	return cfg, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("PORTAL_API_URL must be an absolute URL")
	}

	// Credentials come as a pair or not at all. Without them the agent
	// can still resume a persisted session; it just cannot establish a
	// fresh one.
	if (c.Email == "") != (c.Password == "") {
		return fmt.Errorf("PORTAL_EMAIL and PORTAL_PASSWORD must be set together")
	}

	if c.KeepaliveInterval < time.Second {
		return fmt.Errorf("PORTAL_KEEPALIVE_INTERVAL must be at least 1s")
	}

	return nil
}

// HasCredentials reports whether login credentials are configured.
func (c *Config) HasCredentials() bool {
	return c.Email != "" && c.Password != ""
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
