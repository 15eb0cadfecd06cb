package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/slicepilot/internal/domain"
	"github.com/xela07ax/slicepilot/internal/infra"
	"go.uber.org/zap"
)

// TelemetryStore — то, что детектору нужно от хранилища телеметрии.
type TelemetryStore interface {
	AggregateWindow(ctx context.Context, since time.Time) ([]domain.UEStat, error)
}

// Detector опрашивает хранилище телеметрии и отбирает UE, превысившие
// порог потерь. Состояние не мутирует: результат возвращается вызывающему.
type Detector struct {
	store     TelemetryStore
	threshold float64       // Порог по max_loss, %
	window    time.Duration // Хвостовое окно агрегации
	logger    *zap.Logger
}

func NewDetector(store TelemetryStore, cfg infra.MonitorConfig, logger *zap.Logger) *Detector {
	return &Detector{
		store:     store,
		threshold: cfg.LossThreshold,
		window:    cfg.Window,
		logger:    logger.Named("monitor"),
	}
}

// Detect выполняет один проход: агрегат по окну, сравнение с порогом,
// выбор худшего UE. Возвращает nil, если аномалий нет. Ошибка запроса
// отдается вызывающему: контур логирует ее и повторяет через poll interval,
// без ограничения числа попыток.
func (d *Detector) Detect(ctx context.Context, now time.Time) (*domain.AnomalySnapshot, error) {
	stats, err := d.store.AggregateWindow(ctx, now.Add(-d.window))
	if err != nil {
		return nil, fmt.Errorf("monitor: window query: %w", err)
	}
	if len(stats) == 0 {
		d.logger.Debug("no recent telemetry yet")
		return nil, nil
	}

	// Отбираем превысивших порог, сохраняя стабильный входной порядок —
	// на нем держится детерминированный tie-break.
	var exceeded []domain.UEStat
	for _, s := range stats {
		if s.MaxLoss > d.threshold {
			exceeded = append(exceeded, s)
		}
	}
	if len(exceeded) == 0 {
		return nil, nil
	}

	// Худший UE эскалируется; при равенстве max_loss побеждает первый
	// во входном порядке. Остальные не встают в очередь — если проблема
	// жива, следующий цикл их передетектирует.
	worst := exceeded[0]
	for _, s := range exceeded[1:] {
		if s.MaxLoss > worst.MaxLoss {
			worst = s
		}
	}

	if len(exceeded) > 1 {
		d.logger.Warn("multiple UEs above loss threshold, escalating the worst one",
			zap.Int("count", len(exceeded)),
			zap.String("ue", worst.UE),
			zap.Float64("max_loss", worst.MaxLoss),
		)
	}

	for _, s := range stats {
		d.logger.Info("window metrics",
			zap.String("ue", s.UE),
			zap.Float64("avg_loss", s.AvgLoss),
			zap.Float64("max_loss", s.MaxLoss),
			zap.Int64("samples", s.Samples),
		)
	}
	d.logger.Warn("HIGH PACKET LOSS DETECTED",
		zap.String("ue", worst.UE),
		zap.Float64("max_loss", worst.MaxLoss),
		zap.Float64("threshold", d.threshold),
	)

	return &domain.AnomalySnapshot{
		UE:         worst.UE,
		AvgLoss:    worst.AvgLoss,
		MaxLoss:    worst.MaxLoss,
		Samples:    worst.Samples,
		DetectedAt: now,
		Exceeded:   exceeded,
	}, nil
}

// Threshold отдает настроенный порог (для статусного API).
func (d *Detector) Threshold() float64 { return d.threshold }

// Window отдает размер хвостового окна.
func (d *Detector) Window() time.Duration { return d.window }
