package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Recorders(t *testing.T) {
	m := New()

	m.RecordRun("vision", "vision", "success")
	m.RecordRun("vision", "vision", "success")
	m.RecordRun("ocr_only", "", "failure")
	m.RecordEngineFailure("rate_limited")
	m.ObserveOCRDuration("image", 250*time.Millisecond)
	m.RecordNotifyFailure()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.extractionRuns.WithLabelValues("vision", "vision", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.extractionRuns.WithLabelValues("ocr_only", "none", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.engineFailures.WithLabelValues("rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifyFailures))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ocrDuration))
}

func TestMetrics_MiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()

	router := gin.New()
	router.Use(m.Middleware())
	router.GET("/api/invoices/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	router.GET("/metrics", gin.WrapH(m.Handler()))

	for _, id := range []string{"1", "2"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/invoices/"+id, nil))
		require.Equal(t, http.StatusNoContent, w.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestTotal.WithLabelValues("GET", "/api/invoices/:id", "204")))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "beihilfepay_http_requests_total")
}
