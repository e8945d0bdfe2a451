package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordingOutcomes(t *testing.T) {
	m := New()

	m.SessionCreated()
	m.SessionCreated()
	m.DocumentOutcome("verified")
	m.DocumentOutcome("no_face")
	m.CaptureOutcome("exhausted")
	m.LiveExtraction(40 * time.Millisecond)
	m.MatchDistance(0.42)

	require.Equal(t, 2.0, testutil.ToFloat64(m.SessionsTotal))
	require.Equal(t, 1.0, testutil.ToFloat64(m.DocumentChecks.WithLabelValues("verified")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.DocumentChecks.WithLabelValues("no_face")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.CaptureLoops.WithLabelValues("verified")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.CaptureLoops.WithLabelValues("exhausted")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.SessionCreated()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "idv_sessions_created_total 1")
}

func TestSeparateInstancesDoNotCollide(t *testing.T) {
	require.NotPanics(t, func() {
		New()
		New()
	})
}
