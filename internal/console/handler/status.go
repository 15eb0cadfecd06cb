package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/xela07ax/slicepilot/internal/domain"
	"github.com/xela07ax/slicepilot/internal/infra/auth"
)

// LoopStateProvider — то, что нужно статусному API от оркестратора.
type LoopStateProvider interface {
	State() domain.ControlState
	RequestHalt(reason string)
}

// MonitorInfoProvider — настройки детектора для статусного ответа.
type MonitorInfoProvider interface {
	Threshold() float64
	Window() time.Duration
}

type StatusHandler struct {
	loop    LoopStateProvider
	monitor MonitorInfoProvider
}

func NewStatusHandler(loop LoopStateProvider, monitor MonitorInfoProvider) *StatusHandler {
	return &StatusHandler{loop: loop, monitor: monitor}
}

type monitorInfo struct {
	LossThreshold float64 `json:"loss_threshold"`
	WindowSeconds float64 `json:"window_seconds"`
}

type statusResponse struct {
	domain.ControlState
	Monitor monitorInfo `json:"monitor"`
}

// GetStatus возвращает текущее состояние контура и настройки детектора
// GET /v1/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		ControlState: h.loop.State(),
		Monitor: monitorInfo{
			LossThreshold: h.monitor.Threshold(),
			WindowSeconds: h.monitor.Window().Seconds(),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Halt просит контур остановиться на границе текущей итерации
// POST /v1/halt
func (h *StatusHandler) Halt(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "operator api"
	}
	// Если API под аутентификацией, фиксируем, кто остановил контур
	if op := auth.OperatorFromContext(r.Context()); op != "" {
		reason = fmt.Sprintf("%s (operator %s)", reason, op)
	}
	h.loop.RequestHalt(reason)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "halt_requested", "reason": reason})
}
