// Package auth authenticates admin requests with HS256 bearer tokens and
// carries the resulting principal through the request context.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/abc-bedarieux/newsletter/internal/config"
	"github.com/abc-bedarieux/newsletter/internal/domain"
	"github.com/abc-bedarieux/newsletter/internal/pkg/httputil"
	"github.com/abc-bedarieux/newsletter/internal/pkg/logger"
)

var (
	ErrMissingToken = fmt.Errorf("missing bearer token: %w", domain.ErrUnauthorized)
	ErrInvalidToken = fmt.Errorf("invalid token: %w", domain.ErrUnauthorized)
	ErrForbidden    = fmt.Errorf("insufficient role: %w", domain.ErrForbidden)
)

// Principal is the authenticated caller.
type Principal struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

type ctxKey struct{}

// WithPrincipal returns a child context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the principal stored by the middleware.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}

type claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Manager issues and verifies admin tokens.
type Manager struct {
	secret    []byte
	issuer    string
	adminRole string
	now       func() time.Time
}

// NewManager creates a Manager from the auth config section.
func NewManager(cfg config.AuthConfig) *Manager {
	role := cfg.AdminRole
	if role == "" {
		role = "admin"
	}
	return &Manager{
		secret:    []byte(cfg.JWTSecret),
		issuer:    cfg.Issuer,
		adminRole: role,
		now:       time.Now,
	}
}

// AdminRole is the role required by RequireAdmin.
func (m *Manager) AdminRole() string { return m.adminRole }

// Issue signs a token for p valid for ttl.
func (m *Manager) Issue(p Principal, ttl time.Duration) (string, error) {
	now := m.now()
	c := claims{
		Email: p.Email,
		Role:  p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.secret)
}

// Parse verifies a token and returns its principal.
func (m *Manager) Parse(token string) (Principal, error) {
	if len(m.secret) == 0 {
		return Principal{}, fmt.Errorf("%w: no signing secret configured", ErrInvalidToken)
	}
	var c claims
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return Principal{UserID: c.Subject, Email: c.Email, Role: c.Role}, nil
}

// BearerToken extracts the token from an "Authorization: Bearer ..." header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// RequireAuth rejects requests without a valid bearer token with 401 and
// stores the principal in the context otherwise.
func (m *Manager) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" {
			httputil.ErrorWithCode(w, http.StatusUnauthorized, "unauthorized", ErrMissingToken.Error())
			return
		}
		p, err := m.Parse(token)
		if err != nil {
			logger.Warn("auth: rejected token", "error", err, "path", r.URL.Path)
			httputil.ErrorWithCode(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequireRole answers 403 when the principal lacks role. It must run after
// RequireAuth; a request without a principal gets 401.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := FromContext(r.Context())
			if !ok {
				httputil.ErrorWithCode(w, http.StatusUnauthorized, "unauthorized", ErrMissingToken.Error())
				return
			}
			if p.Role != role {
				httputil.ErrorWithCode(w, http.StatusForbidden, "forbidden", ErrForbidden.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin chains RequireAuth and RequireRole(admin role).
func (m *Manager) RequireAdmin(next http.Handler) http.Handler {
	return m.RequireAuth(RequireRole(m.adminRole)(next))
}
