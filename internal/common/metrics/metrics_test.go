package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRecorders(t *testing.T) {
	m := New("test", prometheus.NewRegistry())

	m.RecordIngest("settled")
	m.RecordIngest("settled")
	m.RecordIngest("duplicate")
	m.RecordPosting("payout_debit", "USD", -3750)
	m.RecordPosting("commission_brand", "USD", 5000)
	m.RecordPayout("transferring")
	m.RecordGatewayCall("ok", 120*time.Millisecond)
	m.RecordTransferEvent("anomaly")
	m.RecordCacheLookup("balance", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ordersIngestedTotal.WithLabelValues("settled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ordersIngestedTotal.WithLabelValues("duplicate")))
	assert.Equal(t, 3750.0, testutil.ToFloat64(m.ledgerPostedMinor.WithLabelValues("payout_debit", "USD")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhookEventsTotal.WithLabelValues("anomaly")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookupsTotal.WithLabelValues("balance", "miss")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordIngest("settled")
		m.RecordPosting("commission_brand", "USD", 1)
		m.RecordReservation("ok")
		m.RecordPayout("failed")
		m.RecordGatewayCall("error", time.Second)
		m.RecordTransferEvent("applied")
		m.RecordMQTTMessage("orders/completed", "in")
		m.RecordCacheLookup("balance", true)
	})
}

func TestMiddlewareAndHandler(t *testing.T) {
	m := New("test_http", nil)

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/api/v1/balances", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", m.Handler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/balances", nil))
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/api/v1/balances", "200")))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "test_http_http_requests_total")
}
