package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/xela07ax/slicepilot/internal/infra"
)

// NIMAdapter — клиент chat-completions endpoint (NVIDIA NIM и совместимые).
// Реализует интерфейс Oracle поверх обычного HTTP JSON API.
type NIMAdapter struct {
	baseURL     string
	model       string
	apiKey      string
	temperature float64
	client      *http.Client
}

func NewNIMAdapter(cfg infra.OracleConfig) *NIMAdapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &NIMAdapter{
		baseURL:     cfg.BaseURL,
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

const systemPrompt = "You are a Configuration agent for a 5G network lab. " +
	"You must reply to the questions asked concisely, and exactly in the format directed to you."

// Confirm реализует интерфейс Oracle
func (a *NIMAdapter) Confirm(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: a.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: a.temperature,
		MaxTokens:   4096,
	})
	if err != nil {
		return "", fmt.Errorf("oracle: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("oracle: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("oracle: call failed: %w", err)
	}
	defer resp.Body.Close()

	// 429 с Retry-After отдаем типизированно — ReliabilityWrapper знает, сколько ждать
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 5 * time.Second
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			retryAfter = time.Duration(secs) * time.Second
		}
		return "", &ThrottleError{
			RetryAfter: retryAfter,
			Cause:      fmt.Errorf("oracle returned status %d", resp.StatusCode),
		}
	}

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("oracle: unexpected status %d: %s", resp.StatusCode, string(data))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("oracle: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("oracle: empty choices in response")
	}

	return parsed.Choices[0].Message.Content, nil
}
