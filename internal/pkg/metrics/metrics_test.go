package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestIncEmail(t *testing.T) {
	before := testutil.ToFloat64(EmailsTotal.WithLabelValues("failed"))
	IncEmail("failed")
	assert.Equal(t, before+1, testutil.ToFloat64(EmailsTotal.WithLabelValues("failed")))
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/campaigns/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/campaigns/abc", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	n := testutil.CollectAndCount(HTTPRequestDuration, "http_request_duration_seconds")
	assert.GreaterOrEqual(t, n, 1)
}

func TestHandler_Exposes(t *testing.T) {
	IncTracking("open", "recorded")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "newsletter_tracking_hits_total")
}
