package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/slicepilot/internal/audit"
	"github.com/xela07ax/slicepilot/internal/domain"
	"github.com/xela07ax/slicepilot/internal/infra"
	"github.com/xela07ax/slicepilot/internal/monitor"
	"github.com/xela07ax/slicepilot/internal/reconfigure"
	"go.uber.org/zap"
)

// AnomalyDetector — один проход детекции. nil без ошибки = аномалий нет.
type AnomalyDetector interface {
	Detect(ctx context.Context, now time.Time) (*domain.AnomalySnapshot, error)
}

// Reconfigurer — полный цикл реконфигурации для подтвержденной аномалии.
type Reconfigurer interface {
	Reconfigure(ctx context.Context, snap *domain.AnomalySnapshot, state reconfigure.ControlStateHandle) (reconfigure.Outcome, error)
}

/*
Loop — оркестратор контура управления: конечный автомат
MONITORING -> RECONFIGURING -> MONITORING с терминальным HALTED.

Контур строго однопоточный и single-flight: новый проход детекции не
начинается, пока идет реконфигурация. Отмена (SIGINT оператора или
halt-сигнал из Redis) срабатывает только на границе итерации — запущенную
команду реконфигурации никто не бросает на полпути.
*/
type Loop struct {
	detector AnomalyDetector
	actor    Reconfigurer
	clock    monitor.Clock
	lease    *ReconfigLease
	metrics  *Metrics
	auditor  audit.Auditor
	rdb      *redis.Client // nil = без трансляции событий
	logger   *zap.Logger

	pollInterval time.Duration
	instanceID   string

	haltRequested atomic.Bool
	haltReason    atomic.Value // string

	mu    sync.RWMutex
	state *domain.ControlState
}

func NewLoop(
	detector AnomalyDetector,
	actor Reconfigurer,
	clock monitor.Clock,
	lease *ReconfigLease,
	metrics *Metrics,
	auditor audit.Auditor,
	rdb *redis.Client,
	pollInterval time.Duration,
	logger *zap.Logger,
) *Loop {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	return &Loop{
		detector:     detector,
		actor:        actor,
		clock:        clock,
		lease:        lease,
		metrics:      metrics,
		auditor:      auditor,
		rdb:          rdb,
		logger:       logger.Named("loop"),
		pollInterval: pollInterval,
		instanceID:   uuid.New().String(),
		state:        domain.NewControlState(),
	}
}

// RequestHalt просит контур остановиться на ближайшей границе итерации.
// Вызывается слушателем halt-канала или операторским API.
func (l *Loop) RequestHalt(reason string) {
	l.haltReason.Store(reason)
	l.haltRequested.Store(true)
	l.logger.Info("halt requested", zap.String("reason", reason))
}

// State отдает копию текущего ControlState для статусного API.
func (l *Loop) State() domain.ControlState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st := *l.state
	st.Log = append([]domain.LogEntry(nil), l.state.Log...)
	if l.state.LastAnomaly != nil {
		snap := *l.state.LastAnomaly
		st.LastAnomaly = &snap
	}
	return st
}

// Run крутит контур до отмены контекста или терминального HALTED.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("control loop started",
		zap.Duration("poll_interval", l.pollInterval),
		zap.String("instance", l.instanceID),
	)
	l.appendLog("loop", "monitoring started, initial config %s", l.state.Config)

	for {
		// Граница итерации: здесь и только здесь принимаются отмена и halt
		if err := ctx.Err(); err != nil {
			l.logger.Info("control loop cancelled")
			return nil
		}
		if l.haltRequested.Load() {
			reason, _ := l.haltReason.Load().(string)
			l.halt(reason)
			return nil
		}

		l.metrics.DetectionCycles.Inc()
		snap, err := l.detector.Detect(ctx, l.clock.Now())
		if err != nil {
			// Транзиентная ошибка хранилища: лог + повтор, без лимита попыток
			l.logger.Error("detection pass failed, retrying after poll interval", zap.Error(err))
			if serr := l.clock.Sleep(ctx, l.pollInterval); serr != nil {
				return nil
			}
			continue
		}
		if snap == nil {
			// Тишина в эфире — ждем следующий тик
			if serr := l.clock.Sleep(ctx, l.pollInterval); serr != nil {
				return nil
			}
			continue
		}

		for _, s := range snap.Exceeded {
			l.metrics.MaxLossObserved.WithLabelValues(s.UE).Set(s.MaxLoss)
		}
		l.metrics.AnomaliesDetected.WithLabelValues(snap.UE).Inc()

		// Single-flight: без лизы реконфигурацию не начинаем
		ok, _ := l.lease.Acquire(ctx, l.instanceID)
		if !ok {
			l.logger.Warn("reconfiguration already in flight elsewhere, skipping cycle",
				zap.String("ue", snap.UE))
			if serr := l.clock.Sleep(ctx, l.pollInterval); serr != nil {
				return nil
			}
			continue
		}

		l.transition(domain.PhaseReconfiguring, snap)
		outcome, rerr := l.actor.Reconfigure(ctx, snap, stateHandle{l})
		l.lease.Release(context.WithoutCancel(ctx))

		if rerr != nil {
			// Сбой поглощается: конфигурация не менялась, контур жив
			l.logger.Error("reconfiguration failed, returning to monitoring", zap.Error(rerr))
			l.metrics.Reconfigurations.WithLabelValues(snap.UE, outcomeLabel(rerr)).Inc()
		} else {
			l.metrics.Reconfigurations.WithLabelValues(snap.UE, "applied").Inc()
			l.publishApplied(ctx, snap.UE, outcome.NewConfig)
		}

		// Безусловный возврат в мониторинг — контур не умеет застревать
		l.transition(domain.PhaseMonitoring, nil)

		if !l.consented() {
			l.halt("operator declined to continue")
			return nil
		}
	}
}

func (l *Loop) transition(phase domain.LoopPhase, snap *domain.AnomalySnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.Phase = phase
	if snap != nil {
		l.state.LastAnomaly = snap
	}
}

// stateHandle — доступ актора к состоянию под мьютексом оркестратора.
// Актор — единственный писатель пары и счетчика на время RECONFIGURING,
// но статусный API читает состояние параллельно из HTTP-горутины.
type stateHandle struct{ l *Loop }

func (h stateHandle) Snapshot() domain.ControlState { return h.l.State() }

func (h stateHandle) Update(fn func(*domain.ControlState) error) error {
	h.l.mu.Lock()
	defer h.l.mu.Unlock()
	return fn(h.l.state)
}

func (l *Loop) consented() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Consent
}

func (l *Loop) appendLog(source, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.Append(source, format, args...)
}

func (l *Loop) halt(reason string) {
	l.mu.Lock()
	l.state.Phase = domain.PhaseHalted
	l.state.Append("loop", "halted: %s", reason)
	reconfigs := l.state.Reconfigs
	l.mu.Unlock()

	l.auditor.Log(audit.CycleEvent{
		ID:      uuid.New().String(),
		TraceID: l.instanceID,
		Cycle:   reconfigs,
		Status:  audit.StatusHalted,
		Error:   reason,
	})
	l.logger.Info("control loop halted",
		zap.String("reason", reason),
		zap.Int("total_reconfigurations", reconfigs),
	)
}

// publishApplied транслирует свершившуюся реконфигурацию слушателям вне агента.
func (l *Loop) publishApplied(ctx context.Context, ue string, cfg domain.SliceConfig) {
	if l.rdb == nil {
		return
	}
	payload := fmt.Sprintf("%s:%s", ue, cfg)
	if err := l.rdb.Publish(ctx, infra.RedisChanReconfigured, payload).Err(); err != nil {
		l.logger.Warn("failed to publish reconfiguration event", zap.Error(err))
	}
}

func outcomeLabel(err error) string {
	if err == nil {
		return "applied"
	}
	if errors.Is(err, domain.ErrValidationFailed) {
		return "validation_failed"
	}
	return "failed"
}
