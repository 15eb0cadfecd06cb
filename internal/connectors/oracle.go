package connectors

import "context"

// Oracle — узкий синхронный контракт решающего оракула: текстовый промпт
// на входе, текст на выходе. Никакой привязки к агентским фреймворкам —
// ядру контура все равно, кто отвечает, LLM или заглушка.
type Oracle interface {
	Confirm(ctx context.Context, prompt string) (string, error)
}
