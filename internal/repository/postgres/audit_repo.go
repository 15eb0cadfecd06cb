package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/xela07ax/slicepilot/internal/audit"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
)

// AuditRepo — персистентность событий контура в таблице cycle_events.
type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(connString string) (*AuditRepo, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: open audit: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &AuditRepo{db: db}, nil
}

func (r *AuditRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *AuditRepo) Close() error {
	return r.db.Close()
}

func (r *AuditRepo) WriteBatch(ctx context.Context, events []audit.CycleEvent) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице cycle_events
	numFields := 12
	placeholderStr := ""
	vals := make([]interface{}, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11, p+12)

		vals = append(vals,
			e.ID, e.TraceID, e.Cycle, e.UE,
			e.AvgLoss, e.MaxLoss, e.Samples,
			e.Status, e.ConfigBefore, e.ConfigAfter, e.Error, e.Timestamp,
		)
	}

	// Убираем лишнюю запятую в конце
	query := fmt.Sprintf(
		"INSERT INTO cycle_events (id, trace_id, cycle, ue, avg_loss, max_loss, samples, status, config_before, config_after, error, timestamp) VALUES %s",
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := r.db.ExecContext(ctx, query, vals...)
	return err
}

// FetchRecent возвращает последние события контура, свежие сверху.
// Лимит валидируется guardrail-слоем до вызова.
func (r *AuditRepo) FetchRecent(ctx context.Context, limit int) ([]audit.CycleEvent, error) {
	query := `
		SELECT id, trace_id, cycle, ue, avg_loss, max_loss, samples,
		       status, config_before, config_after, error, timestamp
		FROM cycle_events
		ORDER BY timestamp DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch cycle events: %w", err)
	}
	defer rows.Close()

	events := make([]audit.CycleEvent, 0)
	for rows.Next() {
		var e audit.CycleEvent
		var errMsg sql.NullString
		if err := rows.Scan(
			&e.ID, &e.TraceID, &e.Cycle, &e.UE,
			&e.AvgLoss, &e.MaxLoss, &e.Samples,
			&e.Status, &e.ConfigBefore, &e.ConfigAfter, &errMsg, &e.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan cycle event: %w", err)
		}
		if errMsg.Valid {
			e.Error = errMsg.String
		}
		events = append(events, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}

	return events, nil
}
