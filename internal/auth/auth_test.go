package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abc-bedarieux/newsletter/internal/config"
)

func newTestManager() *Manager {
	return NewManager(config.AuthConfig{JWTSecret: "test-secret", AdminRole: "admin", Issuer: "abc"})
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := FromContext(r.Context())
		w.Write([]byte(p.Email))
	})
}

func TestIssueAndParse(t *testing.T) {
	m := newTestManager()
	tok, err := m.Issue(Principal{UserID: "u1", Email: "admin@abc.fr", Role: "admin"}, time.Hour)
	require.NoError(t, err)

	p, err := m.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, "admin", p.Role)
}

func TestParse_Expired(t *testing.T) {
	m := newTestManager()
	tok, err := m.Issue(Principal{UserID: "u1", Role: "admin"}, -time.Minute)
	require.NoError(t, err)

	_, err = m.Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParse_WrongSecret(t *testing.T) {
	other := NewManager(config.AuthConfig{JWTSecret: "other", Issuer: "abc"})
	tok, err := other.Issue(Principal{UserID: "u1", Role: "admin"}, time.Hour)
	require.NoError(t, err)

	_, err = newTestManager().Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRequireAdmin(t *testing.T) {
	m := newTestManager()
	h := m.RequireAdmin(okHandler())

	admin, _ := m.Issue(Principal{UserID: "u1", Email: "admin@abc.fr", Role: "admin"}, time.Hour)
	editor, _ := m.Issue(Principal{UserID: "u2", Role: "editor"}, time.Hour)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer nope", http.StatusUnauthorized},
		{"wrong role", "Bearer " + editor, http.StatusForbidden},
		{"admin", "Bearer " + admin, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/campaigns", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRequireRole_NoPrincipal(t *testing.T) {
	rec := httptest.NewRecorder()
	RequireRole("admin")(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
