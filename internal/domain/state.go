package domain

import (
	"errors"
	"fmt"
	"time"
)

// Фазы конечного автомата контура управления
type LoopPhase string

const (
	PhaseMonitoring    LoopPhase = "MONITORING"
	PhaseReconfiguring LoopPhase = "RECONFIGURING"
	PhaseHalted        LoopPhase = "HALTED" // Терминальная: оператор отказал в продолжении
)

var (
	ErrValidationFailed      = errors.New("guardrail validation failed")
	ErrReconfigurationFailed = errors.New("reconfiguration failed")
)

// SliceConfig — пара долей полосы, выделенных слайсам. Инвариант: обе
// доли неотрицательные и в сумме дают ровно 100.
type SliceConfig struct {
	Value1 int `json:"value_1"`
	Value2 int `json:"value_2"`
}

// Valid проверяет инвариант пары.
func (c SliceConfig) Valid() bool {
	return c.Value1 >= 0 && c.Value2 >= 0 && c.Value1+c.Value2 == 100
}

func (c SliceConfig) String() string {
	return fmt.Sprintf("%d/%d", c.Value1, c.Value2)
}

// DefaultSliceConfig стартовое ровное распределение.
func DefaultSliceConfig() SliceConfig {
	return SliceConfig{Value1: 50, Value2: 50}
}

// LogEntry одна строка append-only журнала контура (для аудита и /v1/status).
type LogEntry struct {
	At      time.Time `json:"at"`
	Source  string    `json:"source"` // monitor | reconfigure | loop
	Message string    `json:"message"`
}

// ControlState — единственная мутабельная запись, протаскиваемая через
// контур. Пару конфигурации и счетчик меняет только актор; детектор и
// оркестратор лишь читают и дописывают журнал.
type ControlState struct {
	Phase       LoopPhase        `json:"phase"`
	Config      SliceConfig      `json:"config"`
	Reconfigs   int              `json:"reconfigs"` // Монотонно неубывающий счетчик
	Consent     bool             `json:"consent"`   // Липкое "да", пока оператор явно не откажет
	LastAnomaly *AnomalySnapshot `json:"last_anomaly,omitempty"`
	Log         []LogEntry       `json:"log"`
}

// NewControlState начальное состояние: MONITORING, 50/50, ноль
// реконфигураций, согласие оператора по умолчанию есть.
func NewControlState() *ControlState {
	return &ControlState{
		Phase:   PhaseMonitoring,
		Config:  DefaultSliceConfig(),
		Consent: true,
	}
}

// Append дописывает строку журнала. Журнал только растет.
func (s *ControlState) Append(source, format string, args ...any) {
	s.Log = append(s.Log, LogEntry{
		At:      time.Now(),
		Source:  source,
		Message: fmt.Sprintf(format, args...),
	})
}

// ApplyReconfiguration фиксирует успешную реконфигурацию: новая пара и
// инкремент счетчика. Невалидная пара отклоняется, старая сохраняется.
func (s *ControlState) ApplyReconfiguration(next SliceConfig) error {
	if !next.Valid() {
		return fmt.Errorf("%w: slice pair %s does not sum to 100", ErrValidationFailed, next)
	}
	s.Config = next
	s.Reconfigs++
	return nil
}
