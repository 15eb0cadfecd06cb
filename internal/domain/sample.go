package domain

import "time"

// Sample — одно наблюдение производительности сети (одна интервальная
// строка iperf3). Запись иммутабельна: генератор трафика пишет, детектор
// только читает агрегаты по временному окну.
type Sample struct {
	UE              string    `json:"ue"`         // ID мониторимого абонента (UE1, UE2, ...)
	Stream          int       `json:"stream"`     // Номер потока iperf3
	Timestamp       time.Time `json:"timestamp"`  // Момент записи наблюдения
	IntervalStart   float64   `json:"interval_start"`
	IntervalEnd     float64   `json:"interval_end"`
	DataTransferred float64   `json:"data_transferred"` // MBytes
	Bitrate         float64   `json:"bitrate"`          // Mbits/sec
	Jitter          float64   `json:"jitter"`           // ms
	LostPackets     int64     `json:"lost_packets"`
	TotalPackets    int64     `json:"total_packets"`
	LossPercentage  float64   `json:"loss_percentage"`
}
