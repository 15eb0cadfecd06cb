package connectors

import (
	"context"
	"math/rand/v2" // Используем v2 для Go 1.25
	"regexp"
	"time"
)

// ueToken вытаскивает первый упомянутый в промпте UE — мок просто
// "соглашается" с детектором, как сговорчивый оракул.
var ueToken = regexp.MustCompile(`UE[0-9]+`)

// MockOracle — офлайн-режим лабы: отвечает без внешнего LLM API.
type MockOracle struct{}

func (m *MockOracle) Confirm(ctx context.Context, prompt string) (string, error) {
	// Имитируем задержку инференса 50-300мс
	latency := time.Duration(50+rand.IntN(250)) * time.Millisecond

	select {
	case <-time.After(latency):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	if tok := ueToken.FindString(prompt); tok != "" {
		return tok, nil
	}
	return "UE1", nil
}
