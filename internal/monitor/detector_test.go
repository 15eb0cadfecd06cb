package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xela07ax/slicepilot/internal/domain"
	"github.com/xela07ax/slicepilot/internal/infra"
	"go.uber.org/zap"
)

type stubStore struct {
	stats []domain.UEStat
	err   error

	gotSince time.Time
}

func (s *stubStore) AggregateWindow(ctx context.Context, since time.Time) ([]domain.UEStat, error) {
	s.gotSince = since
	return s.stats, s.err
}

func newTestDetector(store *stubStore) *Detector {
	return NewDetector(store, infra.MonitorConfig{
		LossThreshold: 1.5,
		Window:        30 * time.Second,
	}, zap.NewNop())
}

func TestDetectNoTelemetry(t *testing.T) {
	d := newTestDetector(&stubStore{})
	snap, err := d.Detect(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap != nil {
		t.Fatalf("empty window must yield no anomaly, got %+v", snap)
	}
}

func TestDetectBelowThreshold(t *testing.T) {
	d := newTestDetector(&stubStore{stats: []domain.UEStat{
		{UE: "UE1", AvgLoss: 0.2, MaxLoss: 0.9, Samples: 12},
		{UE: "UE2", AvgLoss: 0.1, MaxLoss: 1.5, Samples: 10}, // ровно порог — не превышение
	}})

	snap, err := d.Detect(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap != nil {
		t.Fatalf("loss at or below threshold must not trigger, got %+v", snap)
	}
}

func TestDetectSingleAnomaly(t *testing.T) {
	now := time.Now()
	store := &stubStore{stats: []domain.UEStat{
		{UE: "UE1", AvgLoss: 0.8, MaxLoss: 2.4, Samples: 15},
		{UE: "UE2", AvgLoss: 0.1, MaxLoss: 0.5, Samples: 14},
	}}
	d := newTestDetector(store)

	snap, err := d.Detect(context.Background(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap == nil {
		t.Fatal("expected anomaly")
	}
	if snap.UE != "UE1" || snap.MaxLoss != 2.4 || snap.AvgLoss != 0.8 || snap.Samples != 15 {
		t.Errorf("snapshot carries wrong aggregate: %+v", snap)
	}
	if !snap.DetectedAt.Equal(now) {
		t.Errorf("DetectedAt = %v, want %v", snap.DetectedAt, now)
	}
	if len(snap.Exceeded) != 1 {
		t.Errorf("only UE1 exceeded, got %v", snap.Exceeded)
	}

	// Окно — хвостовые 30 секунд от now
	wantSince := now.Add(-30 * time.Second)
	if !store.gotSince.Equal(wantSince) {
		t.Errorf("window since = %v, want %v", store.gotSince, wantSince)
	}
}

func TestDetectPicksWorstOfMany(t *testing.T) {
	d := newTestDetector(&stubStore{stats: []domain.UEStat{
		{UE: "UE1", MaxLoss: 2.0},
		{UE: "UE2", MaxLoss: 3.0},
		{UE: "UE3", MaxLoss: 2.5},
	}})

	snap, err := d.Detect(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap == nil || snap.UE != "UE2" {
		t.Fatalf("worst UE must win, got %+v", snap)
	}
	if len(snap.Exceeded) != 3 {
		t.Errorf("all three exceeded the threshold, got %v", snap.Exceeded)
	}
}

func TestDetectTieBreakKeepsInputOrder(t *testing.T) {
	d := newTestDetector(&stubStore{stats: []domain.UEStat{
		{UE: "UE1", MaxLoss: 3.0},
		{UE: "UE2", MaxLoss: 3.0},
	}})

	snap, err := d.Detect(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// При равных max_loss побеждает первый во входном порядке
	if snap == nil || snap.UE != "UE1" {
		t.Fatalf("tie must go to the first UE in input order, got %+v", snap)
	}
}

func TestDetectStoreError(t *testing.T) {
	wantErr := errors.New("connection refused")
	d := newTestDetector(&stubStore{err: wantErr})

	snap, err := d.Detect(context.Background(), time.Now())
	if snap != nil {
		t.Errorf("no snapshot on query error, got %+v", snap)
	}
	if !errors.Is(err, wantErr) {
		t.Errorf("query error must propagate, got %v", err)
	}
}
