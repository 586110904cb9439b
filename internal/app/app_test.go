package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abc-bedarieux/newsletter/internal/api"
	"github.com/abc-bedarieux/newsletter/internal/config"
	"github.com/abc-bedarieux/newsletter/internal/repository/memory"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Storage.LocalPath = t.TempDir()
	cfg.Auth.JWTSecret = "secret"
	return cfg
}

func TestNewInMemory_WiresRouter(t *testing.T) {
	a, err := NewInMemory(context.Background(), testConfig(t), memory.New())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.DB)
	assert.Nil(t, a.Redis)

	router := api.NewRouter(a.APIDeps(), nil)
	for path, want := range map[string]int{
		"/health":                          http.StatusOK,
		"/campaigns":                       http.StatusUnauthorized,
		"/newsletter/subscribe?email=nope": http.StatusBadRequest,
		"/tracking/open?c=x&s=y":           http.StatusOK,
	} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, w.Code, path)
	}
}

func TestBuild_UnknownTransport(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mail.Transport = "carrier-pigeon"
	_, err := NewInMemory(context.Background(), cfg, memory.New())
	assert.Error(t, err)
}

func TestBuild_RequiresLinkSigningKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.JWTSecret = ""
	_, err := NewInMemory(context.Background(), cfg, memory.New())
	assert.Error(t, err)

	cfg.Server.TrackingSecret = "tracking"
	a, err := NewInMemory(context.Background(), cfg, memory.New())
	require.NoError(t, err)
	a.Close()
}

func TestNew_RequiresDatabaseURL(t *testing.T) {
	_, err := New(context.Background(), testConfig(t))
	assert.Error(t, err)
}

func TestConnectRedis_Disabled(t *testing.T) {
	assert.Nil(t, ConnectRedis(context.Background(), config.RedisConfig{}))
}
