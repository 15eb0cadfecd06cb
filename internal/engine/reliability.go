package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xela07ax/slicepilot/internal/connectors"
	"github.com/xela07ax/slicepilot/internal/infra"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ReliableOracle оборачивает вызов оракула в Retries, Circuit Breaker
// и Rate Limiter. Реализует тот же интерфейс connectors.Oracle.
type ReliableOracle struct {
	next        connectors.Oracle
	cb          *gobreaker.CircuitBreaker
	limiter     *rate.Limiter
	attempts    uint
	callTimeout time.Duration
	metrics     *Metrics // nil = без наблюдения длительности
}

func NewReliableOracle(next connectors.Oracle, cfg infra.EngineConfig, callTimeout time.Duration, metrics *Metrics) *ReliableOracle {
	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "decision-oracle",
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Более 5 ошибок подряд — открываемся (блокируем трафик к оракулу)
			return counts.ConsecutiveFailures > 5
		},
	})

	// LLM endpoint — не место для шквала запросов; единицы RPS достаточно
	rps := cfg.OracleRPS
	if rps <= 0 {
		rps = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), 2)

	attempts := cfg.RetryAttempts
	if attempts == 0 {
		attempts = 3
	}
	if callTimeout <= 0 {
		callTimeout = 60 * time.Second
	}

	return &ReliableOracle{
		next:        next,
		cb:          cb,
		limiter:     limiter,
		attempts:    attempts,
		callTimeout: callTimeout,
		metrics:     metrics,
	}
}

func (w *ReliableOracle) Confirm(ctx context.Context, prompt string) (res string, err error) {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit exceeded: %w", err)
	}

	if w.metrics != nil {
		started := time.Now()
		defer func() {
			w.metrics.OracleDuration.Observe(time.Since(started).Seconds())
		}()
	}

	var finalText string

	// 2. Circuit Breaker
	cbResult, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.attempts),
			// Умный расчет задержки
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Если оракул вернул ThrottleError (считали Retry-After заголовок)
				var tErr *connectors.ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}

				// В остальных случаях (сетевой лаг, 500-ка) — стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, w.callTimeout)
			defer cancel()

			var callErr error
			finalText, callErr = w.next.Confirm(tCtx, prompt)
			return callErr
		})

		return finalText, retryErr
	})

	if err != nil {
		return "", err
	}

	return cbResult.(string), nil
}
