package domain

import "time"

// UEStat агрегат по одному UE за хвостовое окно детекции.
type UEStat struct {
	UE      string  `json:"ue"`
	AvgLoss float64 `json:"avg_loss"`
	MaxLoss float64 `json:"max_loss"`
	Samples int64   `json:"samples"`
}

// AnomalySnapshot — результат одного прохода детектора, когда порог
// потерь превышен. Создается детектором, потребляется ровно один раз
// актором реконфигурации и дальше нигде не персистится.
type AnomalySnapshot struct {
	UE         string    `json:"ue"`       // UE с наибольшим max_loss
	AvgLoss    float64   `json:"avg_loss"` // Средние потери за окно, %
	MaxLoss    float64   `json:"max_loss"` // Пиковые потери за окно, %
	Samples    int64     `json:"samples"`  // Сколько наблюдений попало в окно
	DetectedAt time.Time `json:"detected_at"`

	// Все UE, превысившие порог в этом цикле (для лога/аудита).
	// Эскалируется только первый; остальные не встают в очередь,
	// а передетектируются на следующем цикле, если проблема жива.
	Exceeded []UEStat `json:"exceeded,omitempty"`
}
