package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xela07ax/slicepilot/internal/audit"
	"github.com/xela07ax/slicepilot/internal/domain"
	"github.com/xela07ax/slicepilot/internal/reconfigure"
	"go.uber.org/zap"
)

// --- Моки контура ---

type detectResult struct {
	snap *domain.AnomalySnapshot
	err  error
}

// seqDetector отдает заготовленную последовательность результатов,
// дальше — тишина (nil, nil).
type seqDetector struct {
	mu      sync.Mutex
	results []detectResult
	calls   int
}

func (d *seqDetector) Detect(ctx context.Context, now time.Time) (*domain.AnomalySnapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.results) == 0 {
		return nil, nil
	}
	r := d.results[0]
	d.results = d.results[1:]
	return r.snap, r.err
}

func (d *seqDetector) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// fakeActor применяет заданное поведение к состоянию контура.
type fakeActor struct {
	mu    sync.Mutex
	calls int
	apply func(state reconfigure.ControlStateHandle) (reconfigure.Outcome, error)
}

func (a *fakeActor) Reconfigure(ctx context.Context, snap *domain.AnomalySnapshot, state reconfigure.ControlStateHandle) (reconfigure.Outcome, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	return a.apply(state)
}

func (a *fakeActor) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// scriptedClock считает засыпания и гасит контекст после maxSleeps —
// детерминированная остановка контура без реального времени.
type scriptedClock struct {
	mu        sync.Mutex
	sleeps    int
	maxSleeps int
	cancel    context.CancelFunc
}

func (c *scriptedClock) Now() time.Time { return time.Now() }

func (c *scriptedClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps++
	n := c.sleeps
	c.mu.Unlock()
	if n >= c.maxSleeps {
		c.cancel()
		return context.Canceled
	}
	return nil
}

type loopAuditor struct {
	mu     sync.Mutex
	events []audit.CycleEvent
}

func (a *loopAuditor) Log(e audit.CycleEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func (a *loopAuditor) has(status string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.events {
		if e.Status == status {
			return true
		}
	}
	return false
}

func newTestLoop(detector AnomalyDetector, actor Reconfigurer, clock *scriptedClock, auditor audit.Auditor) *Loop {
	logger := zap.NewNop()
	return NewLoop(
		detector,
		actor,
		clock,
		NewReconfigLease(nil, time.Minute, logger), // без Redis лиза всегда своя
		NewMetrics(nil),
		auditor,
		nil,
		10*time.Second,
		logger,
	)
}

func testSnap(ue string) *domain.AnomalySnapshot {
	return &domain.AnomalySnapshot{UE: ue, MaxLoss: 2.4, Samples: 10, DetectedAt: time.Now()}
}

func TestLoopReconfiguresAndReturnsToMonitoring(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	detector := &seqDetector{results: []detectResult{{snap: testSnap("UE1")}}}
	actor := &fakeActor{apply: func(state reconfigure.ControlStateHandle) (reconfigure.Outcome, error) {
		target := domain.SliceConfig{Value1: 80, Value2: 20}
		if err := state.Update(func(s *domain.ControlState) error {
			return s.ApplyReconfiguration(target)
		}); err != nil {
			return reconfigure.Outcome{}, err
		}
		return reconfigure.Outcome{Applied: true, NewConfig: target}, nil
	}}
	clock := &scriptedClock{maxSleeps: 2, cancel: cancel}

	loop := newTestLoop(detector, actor, clock, &loopAuditor{})
	if err := loop.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if actor.callCount() != 1 {
		t.Errorf("actor must run exactly once, got %d", actor.callCount())
	}
	state := loop.State()
	if state.Phase != domain.PhaseMonitoring {
		t.Errorf("loop must return to MONITORING, got %s", state.Phase)
	}
	if state.Reconfigs != 1 || state.Config != (domain.SliceConfig{Value1: 80, Value2: 20}) {
		t.Errorf("state not updated: %d %s", state.Reconfigs, state.Config)
	}
	if state.LastAnomaly == nil || state.LastAnomaly.UE != "UE1" {
		t.Error("last anomaly must be recorded in state")
	}
}

func TestLoopHaltsWhenConsentDeclined(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	detector := &seqDetector{results: []detectResult{{snap: testSnap("UE1")}}}
	actor := &fakeActor{apply: func(state reconfigure.ControlStateHandle) (reconfigure.Outcome, error) {
		state.Update(func(s *domain.ControlState) error {
			s.Reconfigs++
			s.Consent = false // оператор отказал
			return nil
		})
		return reconfigure.Outcome{Applied: true}, nil
	}}
	clock := &scriptedClock{maxSleeps: 10, cancel: cancel}
	auditor := &loopAuditor{}

	loop := newTestLoop(detector, actor, clock, auditor)
	if err := loop.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state := loop.State()
	if state.Phase != domain.PhaseHalted {
		t.Fatalf("declined consent must end in HALTED, got %s", state.Phase)
	}
	if !auditor.has(audit.StatusHalted) {
		t.Error("terminal halt must be audited")
	}
	// Терминальность: после HALTED детектор больше не дергается
	if detector.callCount() != 1 {
		t.Errorf("no detection after halt, detect called %d times", detector.callCount())
	}
}

func TestLoopSurvivesDetectorErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	detector := &seqDetector{results: []detectResult{
		{err: errors.New("db down")},
		{err: errors.New("db still down")},
		{snap: testSnap("UE2")},
	}}
	actor := &fakeActor{apply: func(state reconfigure.ControlStateHandle) (reconfigure.Outcome, error) {
		state.Update(func(s *domain.ControlState) error {
			s.Reconfigs++
			return nil
		})
		return reconfigure.Outcome{Applied: true}, nil
	}}
	// Две ошибки дают два засыпания; третьего хватает, чтобы остановиться
	clock := &scriptedClock{maxSleeps: 3, cancel: cancel}

	loop := newTestLoop(detector, actor, clock, &loopAuditor{})
	if err := loop.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if detector.callCount() < 3 {
		t.Errorf("loop must retry after query errors, detect called %d times", detector.callCount())
	}
	if actor.callCount() != 1 {
		t.Errorf("anomaly after recovery must still be escalated, actor called %d times", actor.callCount())
	}
}

func TestLoopAbsorbsReconfigurationFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	detector := &seqDetector{results: []detectResult{{snap: testSnap("UE1")}}}
	actor := &fakeActor{apply: func(state reconfigure.ControlStateHandle) (reconfigure.Outcome, error) {
		return reconfigure.Outcome{}, domain.ErrReconfigurationFailed
	}}
	clock := &scriptedClock{maxSleeps: 2, cancel: cancel}

	loop := newTestLoop(detector, actor, clock, &loopAuditor{})
	if err := loop.Run(ctx); err != nil {
		t.Fatalf("reconfiguration failure must be absorbed: %v", err)
	}

	state := loop.State()
	if state.Phase != domain.PhaseMonitoring {
		t.Errorf("loop must keep monitoring after a failed cycle, got %s", state.Phase)
	}
	if state.Reconfigs != 0 || state.Config != domain.DefaultSliceConfig() {
		t.Errorf("failed cycle must not mutate state: %d %s", state.Reconfigs, state.Config)
	}
}

func TestLoopHonorsHaltRequestAtBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	detector := &seqDetector{results: []detectResult{{snap: testSnap("UE1")}}}
	actor := &fakeActor{apply: func(state reconfigure.ControlStateHandle) (reconfigure.Outcome, error) {
		return reconfigure.Outcome{Applied: true}, nil
	}}
	clock := &scriptedClock{maxSleeps: 10, cancel: cancel}
	auditor := &loopAuditor{}

	loop := newTestLoop(detector, actor, clock, auditor)
	loop.RequestHalt("operator api")

	if err := loop.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Halt принят на границе итерации: ни детекции, ни реконфигурации
	if detector.callCount() != 0 || actor.callCount() != 0 {
		t.Errorf("halted loop must not run a cycle: detect=%d actor=%d",
			detector.callCount(), actor.callCount())
	}
	if loop.State().Phase != domain.PhaseHalted {
		t.Errorf("phase = %s, want HALTED", loop.State().Phase)
	}
	if !auditor.has(audit.StatusHalted) {
		t.Error("halt must be audited")
	}
}

// Статусный API читает состояние из HTTP-горутины, пока актор его мутирует.
// Тест умышленно гоняет State() параллельно реконфигурации: под -race
// любой несинхронизированный доступ к ControlState здесь всплывает.
func TestStateReadsConcurrentWithReconfiguration(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	detector := &seqDetector{results: []detectResult{{snap: testSnap("UE1")}}}
	actor := &fakeActor{apply: func(state reconfigure.ControlStateHandle) (reconfigure.Outcome, error) {
		for i := 0; i < 200; i++ {
			state.Update(func(s *domain.ControlState) error {
				s.Append("reconfigure", "step %d", i)
				return nil
			})
		}
		return reconfigure.Outcome{Applied: true}, nil
	}}
	clock := &scriptedClock{maxSleeps: 2, cancel: cancel}
	loop := newTestLoop(detector, actor, clock, &loopAuditor{})

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				_ = loop.State()
			}
		}
	}()

	if err := loop.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	close(done)
	wg.Wait()

	if got := loop.State(); len(got.Log) < 200 {
		t.Errorf("log entries lost: %d", len(got.Log))
	}
}

func TestOutcomeLabel(t *testing.T) {
	if got := outcomeLabel(nil); got != "applied" {
		t.Errorf("nil error → applied, got %s", got)
	}
	if got := outcomeLabel(domain.ErrValidationFailed); got != "validation_failed" {
		t.Errorf("validation error label wrong: %s", got)
	}
	if got := outcomeLabel(errors.New("boom")); got != "failed" {
		t.Errorf("generic error label wrong: %s", got)
	}
}
