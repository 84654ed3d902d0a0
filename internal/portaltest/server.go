// Package portaltest is an in-process portal backend for tests. It
// implements the REST surface the client consumes — login, refresh,
// identity, logout, and product access — with real JWT expiry and
// refresh-token rotation, so expiry and recovery paths can be exercised
// without a deployed backend.
package portaltest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/alexjbarnes/portal-client/internal/api"
)

// Seeded accounts.
const (
	DemoEmail    = "demo@portal.example"
	DemoPassword = "demo-password-1"

	AdminEmail    = "admin@portal.example"
	AdminPassword = "admin-password-1"

	InactiveEmail    = "inactive@portal.example"
	InactivePassword = "inactive-password-1"
)

// defaultAccessTTL keeps access tokens valid long enough for a test run
// unless a test shortens it to force expiry.
const defaultAccessTTL = time.Minute

type seedUser struct {
	user     api.User
	password string
}

// Server is a fake portal backend running on httptest.
type Server struct {
	*httptest.Server

	secret []byte

	mu           sync.Mutex
	accessTTL    time.Duration
	usersByMail  map[string]*seedUser
	usersByID    map[string]*seedUser
	refresh      map[string]string // refresh token -> user ID
	failRefresh  bool
	refreshDelay time.Duration

	loginCalls   atomic.Int64
	refreshCalls atomic.Int64
	meCalls      atomic.Int64
}

// New starts a fake backend with the seeded accounts. Callers must
// Close it.
func New() *Server {
	s := &Server{
		secret:      []byte(uuid.NewString()),
		accessTTL:   defaultAccessTTL,
		usersByMail: make(map[string]*seedUser),
		usersByID:   make(map[string]*seedUser),
		refresh:     make(map[string]string),
	}

	s.seed(DemoEmail, DemoPassword, false, true)
	s.seed(AdminEmail, AdminPassword, true, true)
	s.seed(InactiveEmail, InactivePassword, false, false)

	r := chi.NewRouter()
	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/refresh", s.handleRefresh)
	r.Get("/auth/me", s.handleMe)
	r.Post("/auth/logout", s.handleLogout)
	r.Get("/products/{slug}/access", s.handleProductAccess)

	s.Server = httptest.NewServer(r)

	return s
}

func (s *Server) seed(email, password string, admin, active bool) {
	u := &seedUser{
		user: api.User{
			ID:        uuid.NewString(),
			Email:     email,
			FirstName: "Test",
			LastName:  "User",
			IsAdmin:   admin,
			IsActive:  active,
			CreatedAt: time.Now().UTC().Truncate(time.Second),
		},
		password: password,
	}

	s.usersByMail[email] = u
	s.usersByID[u.user.ID] = u
}

// SetAccessTTL changes the lifetime of newly minted access tokens.
// Negative values mint tokens that are already expired.
func (s *Server) SetAccessTTL(d time.Duration) {
	s.mu.Lock()
	s.accessTTL = d
	s.mu.Unlock()
}

// SetFailRefresh makes /auth/refresh reject every exchange, simulating
// a revoked or expired refresh token.
func (s *Server) SetFailRefresh(fail bool) {
	s.mu.Lock()
	s.failRefresh = fail
	s.mu.Unlock()
}

// SetRefreshDelay stalls /auth/refresh before answering. Tests use it
// to race a logout against an in-flight refresh.
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.mu.Lock()
	s.refreshDelay = d
	s.mu.Unlock()
}

// LoginCalls returns how many login exchanges the backend served.
func (s *Server) LoginCalls() int64 { return s.loginCalls.Load() }

// RefreshCalls returns how many refresh exchanges the backend served.
// The single-flight tests assert on this.
func (s *Server) RefreshCalls() int64 { return s.refreshCalls.Load() }

// MeCalls returns how many identity lookups the backend served.
func (s *Server) MeCalls() int64 { return s.meCalls.Load() }

// Issue mints a valid credential pair for a seeded account, bypassing
// login. Tests use it to pre-populate a credential store.
func (s *Server) Issue(email string) (access, refreshToken string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.usersByMail[email]
	if !ok {
		return "", "", fmt.Errorf("no seeded user %q", email)
	}

	access, err = s.mintAccessLocked(u.user.ID, "", s.accessTTL)
	if err != nil {
		return "", "", err
	}

	refreshToken = uuid.NewString()
	s.refresh[refreshToken] = u.user.ID

	return access, refreshToken, nil
}

// IssueExpired mints an already-expired access token alongside a valid
// refresh token, the precondition for the refresh-and-retry scenarios.
func (s *Server) IssueExpired(email string) (access, refreshToken string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.usersByMail[email]
	if !ok {
		return "", "", fmt.Errorf("no seeded user %q", email)
	}

	access, err = s.mintAccessLocked(u.user.ID, "", -time.Minute)
	if err != nil {
		return "", "", err
	}

	refreshToken = uuid.NewString()
	s.refresh[refreshToken] = u.user.ID

	return access, refreshToken, nil
}

// mintAccessLocked creates an HS256 access token for a user. A non-empty
// audience scopes the token to one product.
func (s *Server) mintAccessLocked(userID, audience string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(ttl)),
		"jti": uuid.NewString(),
	}

	if audience != "" {
		claims["aud"] = audience
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// authenticate resolves the bearer token on r to a seeded user.
// Product-scoped tokens (with an audience) are rejected for portal
// endpoints.
func (s *Server) authenticate(r *http.Request) (*seedUser, bool) {
	header := r.Header.Get("Authorization")

	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return nil, false
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return nil, false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, false
	}

	if aud, _ := claims.GetAudience(); len(aud) != 0 {
		return nil, false
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.usersByID[sub]

	return u, ok
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"errorCode": code,
		"message":   message,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.loginCalls.Add(1)

	var req api.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, api.CodeInvalidCredentials, "malformed login request")
		return
	}

	s.mu.Lock()
	u, ok := s.usersByMail[req.Email]
	s.mu.Unlock()

	if !ok || u.password != req.Password {
		writeError(w, http.StatusUnauthorized, api.CodeInvalidCredentials, "invalid email or password")
		return
	}

	if !u.user.IsActive {
		writeError(w, http.StatusForbidden, api.CodeInactiveUser, "account is deactivated")
		return
	}

	s.mu.Lock()
	access, err := s.mintAccessLocked(u.user.ID, "", s.accessTTL)
	refreshToken := uuid.NewString()
	s.refresh[refreshToken] = u.user.ID
	s.mu.Unlock()

	if err != nil {
		writeError(w, http.StatusInternalServerError, "", "failed to mint token")
		return
	}

	writeJSON(w, http.StatusOK, api.LoginResponse{
		User:         u.user,
		AccessToken:  access,
		RefreshToken: refreshToken,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)

	var req api.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, api.CodeInvalidSession, "malformed refresh request")
		return
	}

	// The exchange is decided immediately; the configured delay only
	// stalls the response, which keeps the flight open for concurrency
	// tests without changing which outcome the client observes.
	s.mu.Lock()
	delay := s.refreshDelay

	if s.failRefresh {
		s.mu.Unlock()
		s.stall(delay)
		writeError(w, http.StatusUnauthorized, api.CodeSessionNotFound, "session not found")

		return
	}

	userID, ok := s.refresh[req.RefreshToken]
	if !ok {
		s.mu.Unlock()
		s.stall(delay)
		writeError(w, http.StatusUnauthorized, api.CodeSessionNotFound, "session not found")

		return
	}

	// Rotation: the presented refresh token is consumed. A client that
	// issues two independent refreshes with the same token loses the
	// race, which is exactly the hazard the gateway's single-flight
	// refresh exists to prevent.
	delete(s.refresh, req.RefreshToken)

	access, err := s.mintAccessLocked(userID, "", s.accessTTL)
	if err != nil {
		s.mu.Unlock()
		writeError(w, http.StatusInternalServerError, "", "failed to mint token")

		return
	}

	newRefresh := uuid.NewString()
	s.refresh[newRefresh] = userID
	s.mu.Unlock()

	s.stall(delay)

	writeJSON(w, http.StatusOK, api.RefreshResponse{
		AccessToken:  access,
		RefreshToken: newRefresh,
	})
}

func (s *Server) stall(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	s.meCalls.Add(1)

	u, ok := s.authenticate(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, api.CodeInvalidToken, "invalid or expired token")
		return
	}

	writeJSON(w, http.StatusOK, u.user)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req api.LogoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, api.CodeInvalidSession, "malformed logout request")
		return
	}

	s.mu.Lock()
	delete(s.refresh, req.RefreshToken)
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProductAccess(w http.ResponseWriter, r *http.Request) {
	u, ok := s.authenticate(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, api.CodeInvalidToken, "invalid or expired token")
		return
	}

	slug := chi.URLParam(r, "slug")

	s.mu.Lock()
	token, err := s.mintAccessLocked(u.user.ID, slug, 5*time.Minute)
	s.mu.Unlock()

	if err != nil {
		writeError(w, http.StatusInternalServerError, "", "failed to mint token")
		return
	}

	writeJSON(w, http.StatusOK, api.ProductAccessResponse{
		AccessToken: token,
		RedirectURL: fmt.Sprintf("https://%s.portal.example/sso", slug),
	})
}
