package monitor

import (
	"context"
	"time"
)

// Clock абстрагирует время контура: в тестах подставляется фейковый тик
// вместо реальных sleep-ов.
type Clock interface {
	Now() time.Time
	// Sleep ждет d или отмену контекста; при отмене возвращает ctx.Err().
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

// RealClock системное время.
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
