package trafficgen

import (
	"math/rand/v2"

	"github.com/xela07ax/slicepilot/internal/domain"
)

// PerturbSample делает из сэмпла первичного UE наблюдение статистического
// "двойника": та же форма трафика, но с флуктуациями, имитирующими
// независимого абонента. Диапазоны возмущений — из исходной лабы.
func PerturbSample(s domain.Sample, twinName string) domain.Sample {
	twin := s
	twin.UE = twinName
	twin.Bitrate = s.Bitrate * uniform(0.85, 1.15)    // ±15%
	twin.Jitter = s.Jitter * uniform(0.8, 1.3)        // −20%..+30%
	twin.LossPercentage = s.LossPercentage + uniform(-0.5, 1.5)
	if twin.LossPercentage < 0 {
		twin.LossPercentage = 0
	}
	// Пересчитываем потерянные пакеты под новый процент
	if s.TotalPackets > 0 {
		twin.LostPackets = int64(float64(s.TotalPackets) * twin.LossPercentage / 100)
	}
	return twin
}

func uniform(lo, hi float64) float64 {
	return lo + rand.Float64()*(hi-lo)
}
