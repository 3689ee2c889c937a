package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricPrefix = "cuecode_alert_feed_"

var (
	registerOnce sync.Once
	registry     *prometheus.Registry

	alertsPresented  prometheus.Counter
	pollErrors       prometheus.Counter
	streamReconnects prometheus.Counter
	streamDropped    *prometheus.CounterVec
	managedPatients  prometheus.Gauge
)

// Init 注册指标（重复调用只注册一次）
func Init() {
	registerOnce.Do(func() {
		registry = prometheus.NewRegistry()

		alertsPresented = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "alerts_presented_total",
			Help: "Total dangerous alerts handed to the presentation surface",
		})
		pollErrors = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "poll_errors_total",
			Help: "Total failed per-patient status poll requests",
		})
		streamReconnects = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "stream_reconnects_total",
			Help: "Total push channel reconnect attempts",
		})
		streamDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "stream_dropped_messages_total",
				Help: "Total push messages dropped by reason",
			},
			[]string{"reason"},
		)
		managedPatients = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "managed_patients",
			Help: "Patients currently in the owned patient set",
		})

		registry.MustRegister(
			alertsPresented,
			pollErrors,
			streamReconnects,
			streamDropped,
			managedPatients,
		)
	})
}

// Handler 返回 /metrics 处理器
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// IncAlertsPresented 记录一次报警呈现
func IncAlertsPresented() {
	if alertsPresented != nil {
		alertsPresented.Inc()
	}
}

// IncPollErrors 记录一次轮询失败
func IncPollErrors() {
	if pollErrors != nil {
		pollErrors.Inc()
	}
}

// IncStreamReconnects 记录一次推送通道重连
func IncStreamReconnects() {
	if streamReconnects != nil {
		streamReconnects.Inc()
	}
}

// IncStreamDropped 记录一次推送消息丢弃
// reason: malformed / not_owned / not_dangerous
func IncStreamDropped(reason string) {
	if streamDropped != nil {
		streamDropped.WithLabelValues(reason).Inc()
	}
}

// SetManagedPatients 更新受管患者数
func SetManagedPatients(n int) {
	if managedPatients != nil {
		managedPatients.Set(float64(n))
	}
}
