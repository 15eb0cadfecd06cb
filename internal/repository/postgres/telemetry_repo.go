package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/xela07ax/slicepilot/internal/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
)

// TelemetryRepo — доступ к append-only таблице сэмплов iperf3.
// Генератор трафика пишет пачками, детектор читает агрегаты по окну.
type TelemetryRepo struct {
	db    *sql.DB
	table string
}

func NewTelemetryRepo(connString, table string, maxConns int) (*TelemetryRepo, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 15
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &TelemetryRepo{db: db, table: table}, nil
}

// Ping проверяет доступность базы при старте
func (r *TelemetryRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *TelemetryRepo) Close() error {
	return r.db.Close()
}

// AggregateWindow возвращает mean/max/count потерь по каждому UE за
// хвостовое окно [since, now]. Порядок строк стабилен (ORDER BY ue) —
// на нем держится детерминированный tie-break детектора.
func (r *TelemetryRepo) AggregateWindow(ctx context.Context, since time.Time) ([]domain.UEStat, error) {
	query := fmt.Sprintf(`
		SELECT ue, AVG(loss_percentage), MAX(loss_percentage), COUNT(*)
		FROM %s
		WHERE timestamp > $1
		GROUP BY ue
		ORDER BY ue`, r.table)

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: window aggregate query: %w", err)
	}
	defer rows.Close()

	stats := make([]domain.UEStat, 0)
	for rows.Next() {
		var s domain.UEStat
		if err := rows.Scan(&s.UE, &s.AvgLoss, &s.MaxLoss, &s.Samples); err != nil {
			return nil, fmt.Errorf("postgres: scan ue stat: %w", err)
		}
		stats = append(stats, s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}

	return stats, nil
}

// RecentRows — детальная выборка сырых сэмплов за окно, свежие сверху,
// не больше limit строк. Идет в промпт оракула для верификации.
func (r *TelemetryRepo) RecentRows(ctx context.Context, since time.Time, limit int) ([]domain.Sample, error) {
	query := fmt.Sprintf(`
		SELECT ue, lost_packets, loss_percentage, timestamp
		FROM %s
		WHERE timestamp > $1
		ORDER BY timestamp DESC
		LIMIT $2`, r.table)

	rows, err := r.db.QueryContext(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent rows query: %w", err)
	}
	defer rows.Close()

	samples := make([]domain.Sample, 0)
	for rows.Next() {
		var s domain.Sample
		if err := rows.Scan(&s.UE, &s.LostPackets, &s.LossPercentage, &s.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan sample: %w", err)
		}
		samples = append(samples, s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}

	return samples, nil
}

// WriteBatch вставляет пачку сэмплов одним INSERT.
// Дубликаты внутри окна не реконсилируются — детектор просто включит их в агрегат.
func (r *TelemetryRepo) WriteBatch(ctx context.Context, samples []domain.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	// Количество колонок в таблице телеметрии
	numFields := 11
	var b strings.Builder
	vals := make([]interface{}, 0, len(samples)*numFields)

	for i, s := range samples {
		if i > 0 {
			b.WriteString(",")
		}
		p := i * numFields
		b.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11))

		vals = append(vals,
			s.UE, s.Stream, s.Timestamp, s.IntervalStart, s.IntervalEnd,
			s.DataTransferred, s.Bitrate, s.Jitter,
			s.LostPackets, s.TotalPackets, s.LossPercentage,
		)
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (ue, stream, timestamp, interval_start, interval_end, data_transferred, bitrate, jitter, lost_packets, total_packets, loss_percentage) VALUES %s",
		r.table, b.String(),
	)

	_, err := r.db.ExecContext(ctx, query, vals...)
	if err != nil {
		return fmt.Errorf("postgres: telemetry batch insert: %w", err)
	}
	return nil
}
