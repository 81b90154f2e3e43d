package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wisefido_vitals"

// Metrics 体征流水线指标
// 所有方法允许 nil 接收者，未启用指标时直接传 nil
type Metrics struct {
	registry *prometheus.Registry

	samplesIngested   *prometheus.CounterVec
	ingestFailures    *prometheus.CounterVec
	ingestDuration    prometheus.Histogram
	anomaliesDetected *prometheus.CounterVec
	alertsCreated     *prometheus.CounterVec
	alertsResolved    prometheus.Counter
	notifyFailures    *prometheus.CounterVec
	simulatorPatients prometheus.Gauge
	simulatorTicks    *prometheus.CounterVec
}

// New 在独立 Registry 上注册全部指标
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		samplesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_ingested_total",
			Help:      "Vitals samples persisted, by source.",
		}, []string{"source"}),
		ingestFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_failures_total",
			Help:      "Vitals samples rejected or rolled back, by source.",
		}, []string{"source"}),
		ingestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Time spent evaluating and persisting one sample.",
			Buckets:   prometheus.DefBuckets,
		}),
		anomaliesDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_detected_total",
			Help:      "Out-of-range readings, by vital.",
		}, []string{"vital"}),
		alertsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_created_total",
			Help:      "Alerts raised, by severity.",
		}, []string{"severity"}),
		alertsResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_resolved_total",
			Help:      "Alerts transitioned to resolved.",
		}),
		notifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Alert notifications that could not be delivered, by channel.",
		}, []string{"channel"}),
		simulatorPatients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "simulator_patients",
			Help:      "Patients registered in the simulated feed.",
		}),
		simulatorTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "simulator_ticks_total",
			Help:      "Simulated samples generated, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.samplesIngested,
		m.ingestFailures,
		m.ingestDuration,
		m.anomaliesDetected,
		m.alertsCreated,
		m.alertsResolved,
		m.notifyFailures,
		m.simulatorPatients,
		m.simulatorTicks,
	)
	return m
}

// Handler /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveIngest 记录一次成功写入
func (m *Metrics) ObserveIngest(source string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.samplesIngested.WithLabelValues(source).Inc()
	m.ingestDuration.Observe(elapsed.Seconds())
}

// IngestFailed 记录一次失败写入
func (m *Metrics) IngestFailed(source string) {
	if m == nil {
		return
	}
	m.ingestFailures.WithLabelValues(source).Inc()
}

// AnomalyDetected 记录一条异常
func (m *Metrics) AnomalyDetected(vital string) {
	if m == nil {
		return
	}
	m.anomaliesDetected.WithLabelValues(vital).Inc()
}

// AlertCreated 记录一条新报警
func (m *Metrics) AlertCreated(severity string) {
	if m == nil {
		return
	}
	m.alertsCreated.WithLabelValues(severity).Inc()
}

// AlertResolved 记录一次报警处理
func (m *Metrics) AlertResolved() {
	if m == nil {
		return
	}
	m.alertsResolved.Inc()
}

// NotificationFailed 记录一次通知失败
func (m *Metrics) NotificationFailed(channel string) {
	if m == nil {
		return
	}
	m.notifyFailures.WithLabelValues(channel).Inc()
}

// SetSimulatorPatients 当前模拟病人数
func (m *Metrics) SetSimulatorPatients(n int) {
	if m == nil {
		return
	}
	m.simulatorPatients.Set(float64(n))
}

// SimulatorTick 记录一次模拟采样结果
func (m *Metrics) SimulatorTick(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.simulatorTicks.WithLabelValues(outcome).Inc()
}
