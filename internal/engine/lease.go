package engine

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/slicepilot/internal/infra"
	"go.uber.org/zap"
)

// ReconfigLease — распределенная single-flight лиза на реконфигурацию.
// Пока лиза жива в Redis, второй инстанс агента не начнет свою
// реконфигурацию: конфликтующие команды к одному ресурсу исключены.
// Без Redis (rdb == nil) лиза вырождается в no-op — одиночный инстанс
// и так single-flight за счет однопоточного контура.
type ReconfigLease struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewReconfigLease(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *ReconfigLease {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &ReconfigLease{rdb: rdb, ttl: ttl, logger: logger.Named("lease")}
}

// Acquire пытается взять лизу через SetNX. false — реконфигурация уже
// идет где-то еще, этот цикл детекции надо пропустить.
func (l *ReconfigLease) Acquire(ctx context.Context, holder string) (bool, error) {
	if l.rdb == nil {
		return true, nil
	}
	ok, err := l.rdb.SetNX(ctx, infra.RedisKeyReconfigLease, holder, l.ttl).Result()
	if err != nil {
		// Redis недоступен — не блокируем лабу, но предупреждаем
		l.logger.Warn("lease acquire failed, proceeding without distributed lock", zap.Error(err))
		return true, nil
	}
	return ok, nil
}

// Release снимает лизу. TTL подчистит ключ и без нас, если инстанс умер.
func (l *ReconfigLease) Release(ctx context.Context) {
	if l.rdb == nil {
		return
	}
	if err := l.rdb.Del(ctx, infra.RedisKeyReconfigLease).Err(); err != nil {
		l.logger.Warn("lease release failed, TTL will expire it", zap.Error(err))
	}
}
