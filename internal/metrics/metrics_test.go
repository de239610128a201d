// ABOUTME: Tests for the Prometheus collector and its HTTP middleware
// ABOUTME: Uses a private registry and testutil to read counter values

package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg, "router")

	c.RecordRegistration(OutcomeSuccess)
	c.RecordRegistration(OutcomeFailure)
	c.RecordRegistration(OutcomeSuccess)
	c.RecordLogin(OutcomeFailure)
	c.RecordTokenVerification(OutcomeSuccess)
	c.RecordItemOp("put", OutcomeSuccess)
	c.RecordBatchJob("update-1", "failed", "StatusConflict", 3*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.registrations.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.logins.WithLabelValues(OutcomeFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.verifications.WithLabelValues("router", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.itemOps.WithLabelValues("put", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.batchJobs.WithLabelValues("failed", "StatusConflict")))
}

func TestCollector_MiddlewareUsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg, "gateway")

	r := chi.NewRouter()
	r.Use(c.Middleware)
	r.Post("/get", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/get", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.requests.WithLabelValues("gateway", "/get", "404")))
}

func TestHandler_Exposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg, "router")
	c.RecordLogin(OutcomeSuccess)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `cellular_logins_total{outcome="success"} 1`))
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, OutcomeSuccess, Outcome(nil))
	assert.Equal(t, OutcomeFailure, Outcome(errors.New("x")))
}

func TestNopSatisfiesRecorder(t *testing.T) {
	var r Recorder = Nop{}
	r.RecordBatchJob("b", "succeeded", "", time.Second)
}
