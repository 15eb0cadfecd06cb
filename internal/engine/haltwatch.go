package engine

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/slicepilot/internal/infra"
	"go.uber.org/zap"
)

// WatchHaltSignal — "живучая" подписка на операторский halt-канал Redis.
// Обрабатывает переподключения; onHalt вызывается по сигналу "off"/"halt".
// Остановка срабатывает на ближайшей границе итерации контура, а не
// посреди команды реконфигурации.
func WatchHaltSignal(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	onHalt func(reason string),
) {
	if rdb == nil {
		return
	}

	for {
		pubsub := rdb.Subscribe(ctx, infra.RedisChanHalt)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			if ctx.Err() != nil {
				pubsub.Close()
				return
			}
			logger.Error("failed to subscribe", zap.String("chan", infra.RedisChanHalt), zap.Error(err))
			time.Sleep(5 * time.Second)
			continue
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}

				// Разбор формата "command[:reason]"
				parts := strings.SplitN(msg.Payload, ":", 2)
				cmd := strings.ToLower(strings.TrimSpace(parts[0]))
				if cmd != "off" && cmd != "halt" {
					logger.Warn("ignoring unknown halt-channel command", zap.String("payload", msg.Payload))
					continue
				}

				reason := "operator signal"
				if len(parts) == 2 && parts[1] != "" {
					reason = parts[1]
				}
				onHalt(reason)
			}
		}

		pubsub.Close()
		time.Sleep(1 * time.Second)
	}
}
