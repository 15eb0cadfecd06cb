package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Traffic: сколько проходов детекции выполнено
	DetectionCycles prometheus.Counter

	// Сколько аномалий эскалировано актору
	AnomaliesDetected *prometheus.CounterVec

	// Реконфигурации по исходу (applied / failed / validation_failed)
	Reconfigurations *prometheus.CounterVec

	// Latency вызова оракула
	OracleDuration prometheus.Histogram

	// Последний наблюдавшийся max_loss по UE
	MaxLossObserved *prometheus.GaugeVec

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		DetectionCycles: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "slicepilot_detection_cycles_total",
			Help: "Total number of detection passes over the telemetry window.",
		}),

		AnomaliesDetected: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "slicepilot_anomalies_detected_total",
			Help: "Total number of anomalies escalated to the reconfiguration actor.",
		}, []string{"ue"}),

		Reconfigurations: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "slicepilot_reconfigurations_total",
			Help: "Total number of reconfiguration attempts by outcome.",
		}, []string{"ue", "outcome"}), // outcome: applied, failed, validation_failed

		OracleDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "slicepilot_oracle_duration_seconds",
			Help:    "Histogram of decision-oracle call latencies.",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),

		MaxLossObserved: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "slicepilot_max_loss_percent",
			Help: "Max packet loss percentage per UE in the last detection window.",
		}, []string{"ue"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "slicepilot_audit_buffer_utilization",
			Help: "Current number of events in audit buffer.",
		}),
	}
}
