package reconfigure

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xela07ax/slicepilot/internal/domain"
	"go.uber.org/zap"
)

func TestScriptRunnerSuccess(t *testing.T) {
	r := NewScriptRunner("true", 5*time.Second, zap.NewNop())
	if err := r.Apply(context.Background(), 80, 20); err != nil {
		t.Fatalf("zero exit code must succeed: %v", err)
	}
}

func TestScriptRunnerNonZeroExit(t *testing.T) {
	r := NewScriptRunner("false", 5*time.Second, zap.NewNop())
	err := r.Apply(context.Background(), 80, 20)
	if !errors.Is(err, domain.ErrReconfigurationFailed) {
		t.Fatalf("want ErrReconfigurationFailed, got %v", err)
	}
}

func TestScriptRunnerMissingBinary(t *testing.T) {
	r := NewScriptRunner("/nonexistent/reconfigure.sh", 5*time.Second, zap.NewNop())
	err := r.Apply(context.Background(), 80, 20)
	if !errors.Is(err, domain.ErrReconfigurationFailed) {
		t.Fatalf("want ErrReconfigurationFailed, got %v", err)
	}
}

func TestScriptRunnerTimeout(t *testing.T) {
	// sleep трактует аргументы как секунды и заведомо переживает таймаут
	r := NewScriptRunner("sleep", 100*time.Millisecond, zap.NewNop())
	err := r.Apply(context.Background(), 20, 20)
	if !errors.Is(err, domain.ErrReconfigurationFailed) {
		t.Fatalf("want ErrReconfigurationFailed on timeout, got %v", err)
	}
}
