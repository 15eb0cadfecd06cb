package audit

import "time"

// Статусы событий контура управления
const (
	StatusAnomalyDetected  = "ANOMALY_DETECTED"
	StatusOracleConfirmed  = "ORACLE_CONFIRMED"
	StatusOracleOverridden = "ORACLE_OVERRIDDEN" // Оракул разошелся с детектором, детектор победил
	StatusReconfigured     = "RECONFIGURED"
	StatusReconfigFailed   = "RECONFIG_FAILED"
	StatusValidationFailed = "VALIDATION_FAILED"
	StatusConsentDeclined  = "CONSENT_DECLINED"
	StatusHalted           = "HALTED"
)

type CycleEvent struct {
	ID      string `json:"id"`       // UUID события
	TraceID string `json:"trace_id"` // Сквозной ID цикла контура
	Cycle   int    `json:"cycle"`    // Порядковый номер реконфигурации на момент события
	UE      string `json:"ue"`       // Какой UE фигурировал

	// Контекст детекции
	AvgLoss float64 `json:"avg_loss"`
	MaxLoss float64 `json:"max_loss"`
	Samples int64   `json:"samples"`

	// Результат
	Status       string    `json:"status"`
	ConfigBefore string    `json:"config_before"` // Пара вида "50/50"
	ConfigAfter  string    `json:"config_after"`
	Error        string    `json:"error"`
	Timestamp    time.Time `json:"timestamp"`
	DurationMs   int64     `json:"duration_ms"` // Сколько занял шаг
}
