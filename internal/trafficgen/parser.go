package trafficgen

import (
	"regexp"
	"strconv"
	"time"

	"github.com/xela07ax/slicepilot/internal/domain"
)

// intervalLine матчит интервальную строку вывода iperf3 -u:
// "[  5]   0.00-1.00   sec  3.57 MBytes  30.0 Mbits/sec  0.053 ms  12/2606 (0.46%)"
var intervalLine = regexp.MustCompile(
	`^\[ *([0-9]+)\] +([0-9]+\.[0-9]+)-([0-9]+\.[0-9]+) +sec +` +
		`([0-9.]+) +MBytes +([0-9.]+) +Mbits/sec +([0-9.]+) +ms +` +
		`([0-9]+)/([0-9]+) +\(([0-9.]+)%\)$`)

// ParseIntervalLine разбирает одну строку вывода iperf3 в Sample.
// Возвращает false для строк, не являющихся интервальными (заголовки,
// итоговые отчеты, мусор).
func ParseIntervalLine(ue, line string, now time.Time) (domain.Sample, bool) {
	m := intervalLine.FindStringSubmatch(line)
	if m == nil {
		return domain.Sample{}, false
	}

	// Регулярка гарантирует числовые группы, ошибки разбора невозможны
	stream, _ := strconv.Atoi(m[1])
	intervalStart, _ := strconv.ParseFloat(m[2], 64)
	intervalEnd, _ := strconv.ParseFloat(m[3], 64)
	transferred, _ := strconv.ParseFloat(m[4], 64)
	bitrate, _ := strconv.ParseFloat(m[5], 64)
	jitter, _ := strconv.ParseFloat(m[6], 64)
	lost, _ := strconv.ParseInt(m[7], 10, 64)
	total, _ := strconv.ParseInt(m[8], 10, 64)
	loss, _ := strconv.ParseFloat(m[9], 64)

	return domain.Sample{
		UE:              ue,
		Stream:          stream,
		Timestamp:       now,
		IntervalStart:   intervalStart,
		IntervalEnd:     intervalEnd,
		DataTransferred: transferred,
		Bitrate:         bitrate,
		Jitter:          jitter,
		LostPackets:     lost,
		TotalPackets:    total,
		LossPercentage:  loss,
	}, true
}
