package reconfigure

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/slicepilot/internal/audit"
	"github.com/xela07ax/slicepilot/internal/connectors"
	"github.com/xela07ax/slicepilot/internal/domain"
	"github.com/xela07ax/slicepilot/internal/guard"
	"github.com/xela07ax/slicepilot/internal/infra"
	"github.com/xela07ax/slicepilot/internal/monitor"
	"go.uber.org/zap"
)

// DetailStore — детальная выборка сырых строк для верификационного промпта.
type DetailStore interface {
	RecentRows(ctx context.Context, since time.Time, limit int) ([]domain.Sample, error)
}

// ControlStateHandle — сериализованный доступ к состоянию контура.
// Мьютексом владеет оркестратор: актор читает снапшоты и мутирует только
// через Update, потому что статусный API читает состояние параллельно
// из HTTP-горутины.
type ControlStateHandle interface {
	Snapshot() domain.ControlState
	Update(fn func(*domain.ControlState) error) error
}

// Кол-во сырых строк, попадающих в промпт оракула
const detailLimit = 100

// Outcome — исход одной реконфигурации.
type Outcome struct {
	Applied      bool
	NewConfig    domain.SliceConfig
	OracleAnswer string
	Overridden   bool // Оракул разошелся с детектором
}

// Actor выполняет реконфигурацию: верификация у оракула, guardrail-проверки,
// два запуска скрипта, пауза стабилизации, учет и шлюз согласия.
// Пара конфигурации и счетчик меняются только здесь.
type Actor struct {
	oracle    connectors.Oracle
	details   DetailStore
	runner    ScriptExecutor
	validator *guard.Validator
	consenter Consenter
	auditor   audit.Auditor
	clock     monitor.Clock
	logger    *zap.Logger

	window         time.Duration
	settleDelay    time.Duration
	interruptAfter int
	primaryUE      string
	entities       []string
}

func NewActor(
	oracle connectors.Oracle,
	details DetailStore,
	runner ScriptExecutor,
	validator *guard.Validator,
	consenter Consenter,
	auditor audit.Auditor,
	clock monitor.Clock,
	cfg infra.ReconfigureConfig,
	window time.Duration,
	logger *zap.Logger,
) *Actor {
	return &Actor{
		oracle:         oracle,
		details:        details,
		runner:         runner,
		validator:      validator,
		consenter:      consenter,
		auditor:        auditor,
		clock:          clock,
		logger:         logger.Named("reconfigure"),
		window:         window,
		settleDelay:    cfg.SettleDelay,
		interruptAfter: cfg.InterruptAfter,
		primaryUE:      cfg.PrimaryUE,
		entities:       cfg.Entities,
	}
}

// TargetSplit — чистая функция UE → целевая пара. Первичный UE получает
// высокую долю, остальные — зеркальную. Повторный вызов для того же UE
// дает ту же пару: идемпотентность реконфигурации держится на этом.
func TargetSplit(ue, primaryUE string) domain.SliceConfig {
	if strings.EqualFold(ue, primaryUE) {
		return domain.SliceConfig{Value1: 80, Value2: 20}
	}
	return domain.SliceConfig{Value1: 20, Value2: 80}
}

// resetSplit — промежуточный ровный сброс перед целевой парой.
var resetSplit = domain.SliceConfig{Value1: 20, Value2: 20}

// Reconfigure проводит полный цикл для подтвержденной аномалии.
// При любом сбое скрипта состояние остается нетронутым: ни пара, ни
// счетчик не меняются, контур вернется в мониторинг.
func (a *Actor) Reconfigure(ctx context.Context, snap *domain.AnomalySnapshot, state ControlStateHandle) (Outcome, error) {
	traceID := uuid.New().String()
	started := time.Now()
	view := state.Snapshot()
	oldConfig := view.Config

	a.logger.Info("reconfiguration started",
		zap.String("trace_id", traceID),
		zap.String("ue", snap.UE),
		zap.Float64("max_loss", snap.MaxLoss),
		zap.String("config", oldConfig.String()),
	)
	a.logTo(state, "reconfiguration started for %s (max loss %.2f%%)", snap.UE, snap.MaxLoss)

	// Шаг 1 — верификация у оракула. Оракул только советует: при простом
	// расхождении авторитетно измерение детектора. Недоступность оракула
	// и мусорный ответ в strict — жесткая ошибка валидации до каких-либо
	// команд; в warning/disabled — лог и победа детектора.
	targetUE := snap.UE
	answer, overridden, oerr := a.confirmWithOracle(ctx, snap, oldConfig, view.Reconfigs, traceID)
	if oerr != nil {
		return Outcome{OracleAnswer: answer, Overridden: true}, oerr
	}
	if overridden {
		a.logTo(state, "oracle answered %q, overriding with detector's %s", answer, snap.UE)
	}

	// Шаг 1.5 — guardrails на входе: до запуска каких-либо внешних команд
	target := TargetSplit(targetUE, a.primaryUE)
	if a.validator.Mode() != guard.ModeDisabled {
		ok, issues := guard.ValidateReconfigureInput(targetUE, target.Value1, target.Value2, a.entities)
		if !ok {
			msg := strings.Join(issues, "; ")
			a.audit(traceID, snap, view.Reconfigs, audit.StatusValidationFailed, oldConfig, oldConfig, msg, started)
			if a.validator.Mode() == guard.ModeStrict {
				return Outcome{OracleAnswer: answer, Overridden: overridden},
					fmt.Errorf("%w: %s", domain.ErrValidationFailed, msg)
			}
			a.logger.Warn("input validation failed, continuing in warning mode", zap.String("issues", msg))
		}
	}

	// Шаг 2 — применение: сброс в ровный сплит, затем целевая пара.
	// Обе команды обязаны завершиться нулем, иначе вся реконфигурация
	// считается несостоявшейся.
	if err := a.runner.Apply(ctx, resetSplit.Value1, resetSplit.Value2); err != nil {
		a.audit(traceID, snap, view.Reconfigs, audit.StatusReconfigFailed, oldConfig, oldConfig, err.Error(), started)
		a.logTo(state, "reset step failed: %v", err)
		return Outcome{OracleAnswer: answer, Overridden: overridden}, err
	}
	if err := a.runner.Apply(ctx, target.Value1, target.Value2); err != nil {
		a.audit(traceID, snap, view.Reconfigs, audit.StatusReconfigFailed, oldConfig, oldConfig, err.Error(), started)
		a.logTo(state, "target step failed: %v", err)
		return Outcome{OracleAnswer: answer, Overridden: overridden}, err
	}

	// Шаг 3 — стабилизация: даем контрол-плейну сети сойтись, чтобы
	// следующий цикл детекции не читал переходные метрики.
	a.logger.Info("waiting for reconfiguration to settle", zap.Duration("delay", a.settleDelay))
	if err := a.clock.Sleep(ctx, a.settleDelay); err != nil {
		// Отмена во время стабилизации: конфигурация уже применена, фиксируем
		a.logger.Warn("settle interrupted by shutdown", zap.Error(err))
	}

	// Шаг 4 — учет
	var reconfigs int
	if err := state.Update(func(s *domain.ControlState) error {
		if aerr := s.ApplyReconfiguration(target); aerr != nil {
			return aerr
		}
		reconfigs = s.Reconfigs
		s.Append("reconfigure", "applied %s for %s, total reconfigurations: %d", target, targetUE, s.Reconfigs)
		return nil
	}); err != nil {
		a.audit(traceID, snap, view.Reconfigs, audit.StatusValidationFailed, oldConfig, target, err.Error(), started)
		return Outcome{OracleAnswer: answer, Overridden: overridden}, err
	}
	a.audit(traceID, snap, reconfigs, audit.StatusReconfigured, oldConfig, target, "", started)
	a.logger.Info("reconfiguration complete",
		zap.String("ue", targetUE),
		zap.String("new_config", target.String()),
		zap.Int("total", reconfigs),
	)

	// Шлюз согласия: по достижении порога спрашиваем оператора.
	// Отказ делает consent=false — оркестратор остановит контур после
	// завершения текущего цикла.
	if a.interruptAfter > 0 && reconfigs >= a.interruptAfter {
		proceed, err := a.consenter.Continue(ctx)
		if err != nil {
			a.logger.Warn("consent prompt interrupted", zap.Error(err))
		} else if !proceed {
			state.Update(func(s *domain.ControlState) error {
				s.Consent = false
				s.Append("reconfigure", "operator declined to continue after %d reconfigurations", s.Reconfigs)
				return nil
			})
			a.audit(traceID, snap, reconfigs, audit.StatusConsentDeclined, target, target, "", started)
		}
	}

	return Outcome{Applied: true, NewConfig: target, OracleAnswer: answer, Overridden: overridden}, nil
}

// confirmWithOracle спрашивает оракула, какой UE требует реконфигурации.
// Возвращает сырой ответ, флаг отброшенного ответа и жесткую ошибку,
// когда strict-режим не позволяет продолжать без валидного подтверждения.
func (a *Actor) confirmWithOracle(ctx context.Context, snap *domain.AnomalySnapshot, cfg domain.SliceConfig, cycle int, traceID string) (string, bool, error) {
	prompt := a.buildPrompt(ctx, snap)

	raw, err := a.oracle.Confirm(ctx, prompt)
	if err != nil {
		if a.validator.Mode() == guard.ModeStrict {
			// strict: недоступный оракул — жесткий отказ до внешних команд
			a.audit(traceID, snap, cycle, audit.StatusValidationFailed, cfg, cfg, err.Error(), time.Now())
			return "", true, fmt.Errorf("%w: oracle confirmation unavailable: %v", domain.ErrValidationFailed, err)
		}
		a.logger.Warn("oracle call failed, using detector's UE", zap.Error(err))
		a.audit(traceID, snap, cycle, audit.StatusOracleOverridden, cfg, cfg, err.Error(), time.Now())
		return "", true, nil
	}

	answer := strings.TrimSpace(raw)
	a.logger.Info("oracle confirmation", zap.String("answer", answer))

	// Guardrail на выход оракула: ответ вне разрешенного словаря.
	// strict прерывает цикл; warning отбрасывает ответ, как расхождение.
	if ok, verr := a.validator.Validate(answer); !ok {
		if verr != nil {
			a.audit(traceID, snap, cycle, audit.StatusValidationFailed, cfg, cfg, "oracle answer rejected: "+answer, time.Now())
			return answer, true, verr
		}
		a.logger.Warn("oracle answer rejected by guardrails", zap.String("answer", answer))
		a.audit(traceID, snap, cycle, audit.StatusOracleOverridden, cfg, cfg, "oracle answer rejected: "+answer, time.Now())
		return answer, true, nil
	}

	// Простое расхождение — не ошибка ни в одном режиме: детектор авторитетен
	if !strings.EqualFold(answer, snap.UE) {
		a.logger.Warn("oracle disagrees with detector, detector wins",
			zap.String("oracle", answer),
			zap.String("detector", snap.UE),
		)
		a.audit(traceID, snap, cycle, audit.StatusOracleOverridden, cfg, cfg, "", time.Now())
		return answer, true, nil
	}

	a.audit(traceID, snap, cycle, audit.StatusOracleConfirmed, cfg, cfg, "", time.Now())
	return answer, false, nil
}

// buildPrompt собирает верификационный промпт: контекст измерения
// детектора плюс сводка сырых строк за то же окно.
func (a *Actor) buildPrompt(ctx context.Context, snap *domain.AnomalySnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The Monitoring agent has detected high packet loss for %s (%.2f%% max over %d samples).\n\n",
		snap.UE, snap.MaxLoss, snap.Samples)

	if ok, _ := guard.ValidateLogLimit(detailLimit); ok {
		rows, err := a.details.RecentRows(ctx, snap.DetectedAt.Add(-a.window), detailLimit)
		if err != nil {
			a.logger.Warn("detail query failed, prompt goes without raw rows", zap.Error(err))
		} else if len(rows) > 0 {
			b.WriteString("Recent packet loss records (newest first):\n")
			for _, s := range rows {
				fmt.Fprintf(&b, "  %s ts=%s lost=%d loss=%.2f%%\n",
					s.UE, s.Timestamp.Format(time.RFC3339), s.LostPackets, s.LossPercentage)
			}
			b.WriteString("\n")
		}
	}

	fmt.Fprintf(&b, "Confirm which UE needs reconfiguration. Reply with ONLY the UE name, one of %s. DO NOT provide explanation.",
		strings.Join(a.entities, " or "))
	return b.String()
}

// logTo дописывает строку журнала контура под мьютексом оркестратора.
func (a *Actor) logTo(state ControlStateHandle, format string, args ...any) {
	state.Update(func(s *domain.ControlState) error {
		s.Append("reconfigure", format, args...)
		return nil
	})
}

func (a *Actor) audit(traceID string, snap *domain.AnomalySnapshot, cycle int, status string, before, after domain.SliceConfig, errMsg string, started time.Time) {
	a.auditor.Log(audit.CycleEvent{
		ID:           uuid.New().String(),
		TraceID:      traceID,
		Cycle:        cycle,
		UE:           snap.UE,
		AvgLoss:      snap.AvgLoss,
		MaxLoss:      snap.MaxLoss,
		Samples:      snap.Samples,
		Status:       status,
		ConfigBefore: before.String(),
		ConfigAfter:  after.String(),
		Error:        errMsg,
		DurationMs:   time.Since(started).Milliseconds(),
	})
}
