// Package metrics 提供 Prometheus 指标收集
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 指标收集器，所有方法对 nil 接收者安全
type Metrics struct {
	gatherer prometheus.Gatherer

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	ordersIngestedTotal *prometheus.CounterVec
	ledgerPostingsTotal *prometheus.CounterVec
	ledgerPostedMinor   *prometheus.CounterVec
	reservationsTotal   *prometheus.CounterVec
	payoutsTotal        *prometheus.CounterVec
	gatewayCallsTotal   *prometheus.CounterVec
	gatewayCallDuration prometheus.Histogram
	webhookEventsTotal  *prometheus.CounterVec
	mqttMessagesTotal   *prometheus.CounterVec
	cacheLookupsTotal   *prometheus.CounterVec
}

// New 在给定注册器上创建指标，reg 为 nil 时使用独立注册表
func New(namespace string, reg *prometheus.Registry) *Metrics {
	if namespace == "" {
		namespace = "merch_settlement"
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		gatherer: reg,
		httpRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total", Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method", "path"}),
		httpRequestsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "http_requests_in_flight", Help: "Current number of HTTP requests being processed",
		}),
		ordersIngestedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "orders_ingested_total", Help: "Order completed events by ingestion result",
		}, []string{"result"}),
		ledgerPostingsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ledger_postings_total", Help: "Ledger entries appended by reason",
		}, []string{"reason"}),
		ledgerPostedMinor: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ledger_posted_minor_units_total", Help: "Absolute minor units posted by reason and currency",
		}, []string{"reason", "currency"}),
		reservationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ledger_reservations_total", Help: "Balance reservations by result",
		}, []string{"result"}),
		payoutsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "payouts_total", Help: "Payout state transitions by target status",
		}, []string{"status"}),
		gatewayCallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "transfer_gateway_calls_total", Help: "Outbound transfer gateway calls by result",
		}, []string{"result"}),
		gatewayCallDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "transfer_gateway_call_duration_seconds", Help: "Transfer gateway call latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		webhookEventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "transfer_events_total", Help: "Inbound transfer status events by outcome",
		}, []string{"outcome"}),
		mqttMessagesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "mqtt_messages_total", Help: "Total number of MQTT messages",
		}, []string{"topic", "direction"}),
		cacheLookupsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_lookups_total", Help: "Cache lookups by cache and result",
		}, []string{"cache", "result"}),
	}
}

// Middleware 返回 Gin 中间件
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil || c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		m.httpRequestsInFlight.Inc()
		c.Next()
		m.httpRequestsInFlight.Dec()

		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		m.httpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler 返回 Prometheus HTTP 处理器
func (m *Metrics) Handler() gin.HandlerFunc {
	var h http.Handler = promhttp.Handler()
	if m != nil {
		h = promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
	}
	return gin.WrapH(h)
}

// RecordIngest 记录订单入账结果: settled / duplicate / invalid_rate / rejected / error
func (m *Metrics) RecordIngest(result string) {
	if m == nil {
		return
	}
	m.ordersIngestedTotal.WithLabelValues(result).Inc()
}

// RecordPosting 记录账本分录
func (m *Metrics) RecordPosting(reason, currency string, delta int64) {
	if m == nil {
		return
	}
	if delta < 0 {
		delta = -delta
	}
	m.ledgerPostingsTotal.WithLabelValues(reason).Inc()
	m.ledgerPostedMinor.WithLabelValues(reason, currency).Add(float64(delta))
}

// RecordReservation 记录余额冻结结果
func (m *Metrics) RecordReservation(result string) {
	if m == nil {
		return
	}
	m.reservationsTotal.WithLabelValues(result).Inc()
}

// RecordPayout 记录提现状态流转
func (m *Metrics) RecordPayout(status string) {
	if m == nil {
		return
	}
	m.payoutsTotal.WithLabelValues(status).Inc()
}

// RecordGatewayCall 记录转账通道调用
func (m *Metrics) RecordGatewayCall(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.gatewayCallsTotal.WithLabelValues(result).Inc()
	m.gatewayCallDuration.Observe(d.Seconds())
}

// RecordTransferEvent 记录回调事件处理结果
func (m *Metrics) RecordTransferEvent(outcome string) {
	if m == nil {
		return
	}
	m.webhookEventsTotal.WithLabelValues(outcome).Inc()
}

// RecordMQTTMessage 记录 MQTT 消息
func (m *Metrics) RecordMQTTMessage(topic, direction string) {
	if m == nil {
		return
	}
	m.mqttMessagesTotal.WithLabelValues(topic, direction).Inc()
}

// RecordCacheLookup 记录缓存命中情况
func (m *Metrics) RecordCacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookupsTotal.WithLabelValues(cache, result).Inc()
}
