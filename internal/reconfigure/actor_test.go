package reconfigure

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xela07ax/slicepilot/internal/audit"
	"github.com/xela07ax/slicepilot/internal/domain"
	"github.com/xela07ax/slicepilot/internal/guard"
	"github.com/xela07ax/slicepilot/internal/infra"
	"go.uber.org/zap"
)

// --- Моки зависимостей актора ---

type stubOracle struct {
	answer string
	err    error

	prompts []string
}

func (o *stubOracle) Confirm(ctx context.Context, prompt string) (string, error) {
	o.prompts = append(o.prompts, prompt)
	return o.answer, o.err
}

type stubDetails struct {
	rows []domain.Sample
	err  error
}

func (d *stubDetails) RecentRows(ctx context.Context, since time.Time, limit int) ([]domain.Sample, error) {
	return d.rows, d.err
}

// recordRunner запоминает каждую применённую пару; failAt обрывает
// вызов с этим порядковым номером (с нуля).
type recordRunner struct {
	calls  [][2]int
	failAt int
}

func newRecordRunner() *recordRunner { return &recordRunner{failAt: -1} }

func (r *recordRunner) Apply(ctx context.Context, v1, v2 int) error {
	n := len(r.calls)
	r.calls = append(r.calls, [2]int{v1, v2})
	if n == r.failAt {
		return fmt.Errorf("%w: script exited with error", domain.ErrReconfigurationFailed)
	}
	return nil
}

type stubConsenter struct {
	proceed bool
	asked   int
}

func (c *stubConsenter) Continue(ctx context.Context) (bool, error) {
	c.asked++
	return c.proceed, nil
}

type memAuditor struct {
	mu     sync.Mutex
	events []audit.CycleEvent
}

func (a *memAuditor) Log(e audit.CycleEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func (a *memAuditor) statuses() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.events))
	for i, e := range a.events {
		out[i] = e.Status
	}
	return out
}

func (a *memAuditor) has(status string) bool {
	for _, s := range a.statuses() {
		if s == status {
			return true
		}
	}
	return false
}

type instantClock struct{}

func (instantClock) Now() time.Time                                   { return time.Now() }
func (instantClock) Sleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

// memStateHandle — состояние под собственным мьютексом, как у оркестратора.
type memStateHandle struct {
	mu sync.Mutex
	s  *domain.ControlState
}

func newMemState() *memStateHandle { return &memStateHandle{s: domain.NewControlState()} }

func (h *memStateHandle) Snapshot() domain.ControlState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return *h.s
}

func (h *memStateHandle) Update(fn func(*domain.ControlState) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fn(h.s)
}

// --- Сборка актора под тест ---

type actorFixture struct {
	oracle    *stubOracle
	runner    *recordRunner
	consenter *stubConsenter
	auditor   *memAuditor
}

func newTestActor(t *testing.T, mode guard.Mode, fx *actorFixture) *Actor {
	t.Helper()
	validator := guard.NewValidator(mode, zap.NewNop(),
		guard.EnumRule("known-ue", "", "UE1", "UE2"))
	return NewActor(
		fx.oracle,
		&stubDetails{rows: []domain.Sample{{UE: "UE1", LostPackets: 12, LossPercentage: 2.4, Timestamp: time.Now()}}},
		fx.runner,
		validator,
		fx.consenter,
		fx.auditor,
		instantClock{},
		infra.ReconfigureConfig{
			SettleDelay:    10 * time.Millisecond,
			InterruptAfter: 5,
			PrimaryUE:      "UE1",
			Entities:       []string{"UE1", "UE2"},
		},
		30*time.Second,
		zap.NewNop(),
	)
}

func snapFor(ue string) *domain.AnomalySnapshot {
	return &domain.AnomalySnapshot{
		UE: ue, AvgLoss: 0.9, MaxLoss: 2.4, Samples: 15, DetectedAt: time.Now(),
		Exceeded: []domain.UEStat{{UE: ue, MaxLoss: 2.4}},
	}
}

func TestTargetSplit(t *testing.T) {
	if got := TargetSplit("UE1", "UE1"); got != (domain.SliceConfig{Value1: 80, Value2: 20}) {
		t.Errorf("primary UE gets the high share, got %s", got)
	}
	if got := TargetSplit("UE2", "UE1"); got != (domain.SliceConfig{Value1: 20, Value2: 80}) {
		t.Errorf("secondary UE gets the mirrored share, got %s", got)
	}
	// Идемпотентность: повтор для того же UE дает ту же пару
	if TargetSplit("UE2", "UE1") != TargetSplit("UE2", "UE1") {
		t.Error("TargetSplit must be deterministic")
	}
	// Регистр не важен
	if TargetSplit("ue1", "UE1") != TargetSplit("UE1", "UE1") {
		t.Error("primary match must be case-insensitive")
	}
}

func TestReconfigureHappyPath(t *testing.T) {
	fx := &actorFixture{
		oracle:    &stubOracle{answer: "UE1"},
		runner:    newRecordRunner(),
		consenter: &stubConsenter{proceed: true},
		auditor:   &memAuditor{},
	}
	a := newTestActor(t, guard.ModeStrict, fx)
	state := newMemState()

	outcome, err := a.Reconfigure(context.Background(), snapFor("UE1"), state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Applied || outcome.Overridden {
		t.Errorf("want applied and not overridden, got %+v", outcome)
	}

	// Скрипт обязан дернуться дважды: сброс, затем целевая пара
	want := [][2]int{{20, 20}, {80, 20}}
	if len(fx.runner.calls) != 2 || fx.runner.calls[0] != want[0] || fx.runner.calls[1] != want[1] {
		t.Errorf("script calls = %v, want %v", fx.runner.calls, want)
	}

	got := state.Snapshot()
	if got.Config != (domain.SliceConfig{Value1: 80, Value2: 20}) {
		t.Errorf("state config = %s, want 80/20", got.Config)
	}
	if got.Reconfigs != 1 {
		t.Errorf("reconfig counter = %d, want 1", got.Reconfigs)
	}
	if fx.consenter.asked != 0 {
		t.Error("consent gate must stay silent below the interrupt threshold")
	}
	if !fx.auditor.has(audit.StatusOracleConfirmed) || !fx.auditor.has(audit.StatusReconfigured) {
		t.Errorf("audit trail misses statuses, got %v", fx.auditor.statuses())
	}
}

func TestReconfigureScriptFailureKeepsState(t *testing.T) {
	for _, failAt := range []int{0, 1} {
		fx := &actorFixture{
			oracle:    &stubOracle{answer: "UE1"},
			runner:    newRecordRunner(),
			consenter: &stubConsenter{proceed: true},
			auditor:   &memAuditor{},
		}
		fx.runner.failAt = failAt
		a := newTestActor(t, guard.ModeStrict, fx)
		state := newMemState()

		outcome, err := a.Reconfigure(context.Background(), snapFor("UE1"), state)
		if !errors.Is(err, domain.ErrReconfigurationFailed) {
			t.Fatalf("failAt=%d: want ErrReconfigurationFailed, got %v", failAt, err)
		}
		if outcome.Applied {
			t.Errorf("failAt=%d: outcome must not be applied", failAt)
		}
		// Сбой любой из двух команд оставляет состояние нетронутым
		got := state.Snapshot()
		if got.Config != domain.DefaultSliceConfig() || got.Reconfigs != 0 {
			t.Errorf("failAt=%d: state mutated on failure: %s/%d", failAt, got.Config, got.Reconfigs)
		}
		if !fx.auditor.has(audit.StatusReconfigFailed) {
			t.Errorf("failAt=%d: failure must be audited", failAt)
		}
	}
}

func TestReconfigureOracleDisagreementDetectorWins(t *testing.T) {
	fx := &actorFixture{
		oracle:    &stubOracle{answer: "UE2"},
		runner:    newRecordRunner(),
		consenter: &stubConsenter{proceed: true},
		auditor:   &memAuditor{},
	}
	// Расхождение — не ошибка даже в strict: детектор авторитетен
	a := newTestActor(t, guard.ModeStrict, fx)
	state := newMemState()

	outcome, err := a.Reconfigure(context.Background(), snapFor("UE1"), state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Overridden {
		t.Error("disagreeing oracle must be overridden")
	}
	// Применяется пара детекторного UE1, не оракульского UE2
	if got := state.Snapshot(); got.Config != (domain.SliceConfig{Value1: 80, Value2: 20}) {
		t.Errorf("detector's UE must drive the split, got %s", got.Config)
	}
	if !fx.auditor.has(audit.StatusOracleOverridden) {
		t.Errorf("override must be audited, got %v", fx.auditor.statuses())
	}
}

func TestReconfigureOracleFailureStrictAborts(t *testing.T) {
	fx := &actorFixture{
		oracle:    &stubOracle{err: errors.New("circuit open")},
		runner:    newRecordRunner(),
		consenter: &stubConsenter{proceed: true},
		auditor:   &memAuditor{},
	}
	a := newTestActor(t, guard.ModeStrict, fx)
	state := newMemState()

	// strict: без подтверждения оракула реконфигурация не начинается
	_, err := a.Reconfigure(context.Background(), snapFor("UE2"), state)
	if !errors.Is(err, domain.ErrValidationFailed) {
		t.Fatalf("want ErrValidationFailed, got %v", err)
	}
	if len(fx.runner.calls) != 0 {
		t.Errorf("script must never run when the oracle is unavailable in strict mode, got %v", fx.runner.calls)
	}
	got := state.Snapshot()
	if got.Config != domain.DefaultSliceConfig() || got.Reconfigs != 0 {
		t.Errorf("state must stay untouched: %s/%d", got.Config, got.Reconfigs)
	}
	if !fx.auditor.has(audit.StatusValidationFailed) {
		t.Errorf("strict oracle failure must be audited as validation failure, got %v", fx.auditor.statuses())
	}
}

func TestReconfigureOracleFailureWarningAdvisory(t *testing.T) {
	fx := &actorFixture{
		oracle:    &stubOracle{err: errors.New("circuit open")},
		runner:    newRecordRunner(),
		consenter: &stubConsenter{proceed: true},
		auditor:   &memAuditor{},
	}
	// warning: недоступный оракул — лог, детектор сам себе авторитет
	a := newTestActor(t, guard.ModeWarning, fx)
	state := newMemState()

	outcome, err := a.Reconfigure(context.Background(), snapFor("UE2"), state)
	if err != nil {
		t.Fatalf("oracle outage must not block the cycle in warning mode: %v", err)
	}
	if !outcome.Applied || !outcome.Overridden {
		t.Errorf("want applied with override flag, got %+v", outcome)
	}
	if got := state.Snapshot(); got.Config != (domain.SliceConfig{Value1: 20, Value2: 80}) {
		t.Errorf("UE2 target split expected, got %s", got.Config)
	}
}

func TestReconfigureGarbageAnswerStrictAborts(t *testing.T) {
	fx := &actorFixture{
		oracle:    &stubOracle{answer: "I think UE1 is the problem"},
		runner:    newRecordRunner(),
		consenter: &stubConsenter{proceed: true},
		auditor:   &memAuditor{},
	}
	a := newTestActor(t, guard.ModeStrict, fx)
	state := newMemState()

	// strict: ответ вне словаря — жесткий отказ до внешних команд
	_, err := a.Reconfigure(context.Background(), snapFor("UE1"), state)
	if !errors.Is(err, domain.ErrValidationFailed) {
		t.Fatalf("want ErrValidationFailed, got %v", err)
	}
	if len(fx.runner.calls) != 0 {
		t.Errorf("script must never run on rejected oracle answer, got %v", fx.runner.calls)
	}
	if !fx.auditor.has(audit.StatusValidationFailed) {
		t.Errorf("rejected answer must be audited, got %v", fx.auditor.statuses())
	}
}

func TestReconfigureGarbageAnswerWarningOverrides(t *testing.T) {
	fx := &actorFixture{
		oracle:    &stubOracle{answer: "I think UE1 is the problem"},
		runner:    newRecordRunner(),
		consenter: &stubConsenter{proceed: true},
		auditor:   &memAuditor{},
	}
	a := newTestActor(t, guard.ModeWarning, fx)
	state := newMemState()

	outcome, err := a.Reconfigure(context.Background(), snapFor("UE1"), state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Словесный ответ вне словаря отбрасывается, детектор авторитетен
	if !outcome.Overridden || !outcome.Applied {
		t.Errorf("want override + applied, got %+v", outcome)
	}
}

func TestReconfigureStrictValidationAbortsBeforeScript(t *testing.T) {
	fx := &actorFixture{
		oracle:    &stubOracle{answer: "UE9"},
		runner:    newRecordRunner(),
		consenter: &stubConsenter{proceed: true},
		auditor:   &memAuditor{},
	}
	// Оракул согласен с детектором, но UE9 не входит в известный набор:
	// входная валидация обязана прервать цикл до команд. Словарь правил
	// здесь только паттерновый, чтобы ответ оракула дошел до этого шага.
	a := newTestActor(t, guard.ModeStrict, fx)
	ueRule, perr := guard.PatternRule("ue-token", `UE[0-9]+$`)
	if perr != nil {
		t.Fatal(perr)
	}
	a.validator = guard.NewValidator(guard.ModeStrict, zap.NewNop(), ueRule)
	state := newMemState()

	_, err := a.Reconfigure(context.Background(), snapFor("UE9"), state)
	if !errors.Is(err, domain.ErrValidationFailed) {
		t.Fatalf("want ErrValidationFailed, got %v", err)
	}
	if len(fx.runner.calls) != 0 {
		t.Errorf("script must never run on failed validation, got %v", fx.runner.calls)
	}
	got := state.Snapshot()
	if got.Reconfigs != 0 || got.Config != domain.DefaultSliceConfig() {
		t.Error("state must stay untouched on validation failure")
	}
	if !fx.auditor.has(audit.StatusValidationFailed) {
		t.Errorf("validation failure must be audited, got %v", fx.auditor.statuses())
	}
}

func TestConsentGate(t *testing.T) {
	fx := &actorFixture{
		oracle:    &stubOracle{answer: "UE1"},
		runner:    newRecordRunner(),
		consenter: &stubConsenter{proceed: false},
		auditor:   &memAuditor{},
	}
	a := newTestActor(t, guard.ModeStrict, fx)
	a.interruptAfter = 1 // порог в один цикл, чтобы шлюз сработал сразу
	state := newMemState()

	outcome, err := a.Reconfigure(context.Background(), snapFor("UE1"), state)
	if err != nil || !outcome.Applied {
		t.Fatalf("reconfiguration itself must succeed: %v %+v", err, outcome)
	}
	if fx.consenter.asked != 1 {
		t.Fatalf("consent must be asked exactly once, got %d", fx.consenter.asked)
	}
	// Отказ фиксируется в состоянии; остановит контур уже оркестратор
	if state.Snapshot().Consent {
		t.Error("declined consent must be recorded in state")
	}
	if !fx.auditor.has(audit.StatusConsentDeclined) {
		t.Errorf("decline must be audited, got %v", fx.auditor.statuses())
	}
}
