package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	t.Parallel()

	r := New()
	r.AuthAttempt("password", OutcomeFailure, "mismatch")
	r.AuthAttempt("password", OutcomeFailure, "mismatch")
	r.TwoFactor("email", OutcomeSuccess)
	r.DeliveryFailure("sms")
	r.Session("created")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.attempts.WithLabelValues("password", OutcomeFailure, "mismatch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.twoFactor.WithLabelValues("email", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.deliveryFailures.WithLabelValues("sms")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.sessions.WithLabelValues("created")))
}

func TestNilRecorderIsSafe(t *testing.T) {
	t.Parallel()

	var r *Recorder
	assert.NotPanics(t, func() {
		r.AuthAttempt("password", OutcomeSuccess, "")
		r.TwoFactor("sms", OutcomeFailure)
		r.DeliveryFailure("email")
		r.Session("revoked")
	})
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposesCounters(t *testing.T) {
	t.Parallel()

	r := New()
	r.Session("created")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "novus_auth_sessions_total")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
