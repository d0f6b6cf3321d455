// Package auth provides API key and JWT authentication for the HTTP API.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// APIKeyHeader is the header carrying a static API key
	APIKeyHeader = "X-API-Key"

	// UserIDHeader names the acting user for API key callers
	UserIDHeader = "X-User-ID"

	principalContextKey contextKey = "principal"
)

// Authentication methods
const (
	MethodAPIKey = "api_key"
	MethodJWT    = "jwt"
	MethodNone   = "none"
)

// Principal is the authenticated caller of a request
type Principal struct {
	UserID string
	Method string
}

// Authenticator checks the X-API-Key header or a Bearer JWT. When neither an
// API key nor a JWT manager is configured, every request passes.
type Authenticator struct {
	apiKey string
	jwt    *JWTManager
	logger *slog.Logger
}

// AuthenticatorOption is a functional option for configuring Authenticator.
type AuthenticatorOption func(*Authenticator)

// WithLogger sets the logger used to report rejected requests.
func WithLogger(logger *slog.Logger) AuthenticatorOption {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

// NewAuthenticator creates a new Authenticator. An empty apiKey disables
// API key authentication; a nil jwtManager disables JWT authentication.
func NewAuthenticator(apiKey string, jwtManager *JWTManager, opts ...AuthenticatorOption) *Authenticator {
	a := &Authenticator{
		apiKey: apiKey,
		jwt:    jwtManager,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Enabled reports whether any authentication method is configured.
func (a *Authenticator) Enabled() bool {
	return a.apiKey != "" || a.jwt != nil
}

// Middleware authenticates the request and stores the Principal in its context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := a.authenticate(r)
		if err != nil {
			a.logger.Warn("request rejected", "path", r.URL.Path, "error", err)
			writeUnauthenticated(w, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

func (a *Authenticator) authenticate(r *http.Request) (*Principal, error) {
	if !a.Enabled() {
		return &Principal{UserID: r.Header.Get(UserIDHeader), Method: MethodNone}, nil
	}

	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		if a.apiKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(a.apiKey)) != 1 {
			return nil, errors.New("invalid API key")
		}
		return &Principal{UserID: r.Header.Get(UserIDHeader), Method: MethodAPIKey}, nil
	}

	if token, ok := bearerToken(r); ok {
		if a.jwt == nil {
			return nil, errors.New("token authentication is not enabled")
		}
		claims, err := a.jwt.ValidateToken(token)
		if err != nil {
			return nil, err
		}
		return &Principal{UserID: claims.UserID, Method: MethodJWT}, nil
	}

	return nil, errors.New("missing credentials")
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeUnauthenticated(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": msg,
		"kind":  "unauthenticated",
	})
}

// WithPrincipal returns a copy of ctx carrying p
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext extracts the caller from context
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*Principal)
	return p, ok
}

// UserIDFromContext extracts just the user ID from context
func UserIDFromContext(ctx context.Context) string {
	if p, ok := PrincipalFromContext(ctx); ok {
		return p.UserID
	}
	return ""
}
