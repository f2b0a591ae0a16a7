// Package provider is the reasoning capability: language-model calls
// behind a common interface, with per-agent routing and fallbacks.
package provider

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// ErrRateLimited marks an upstream 429. Callers treat it as transient.
var ErrRateLimited = errors.New("upstream rate limited")

// ErrUpstreamUnavailable marks transport failures and upstream 5xx
// responses. Callers treat it as transient.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// Provider is a single reasoning backend.
type Provider interface {
	ID() string
	Name() string
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// ChatRequest is a request to a reasoning backend.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is a reasoning backend's reply.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Config holds configuration for a provider instance.
type Config struct {
	ID       string        `json:"id"`
	Type     string        `json:"type"` // openai|anthropic
	Name     string        `json:"name"`
	Endpoint string        `json:"endpoint"`
	APIKey   string        `json:"api_key"`
	Model    string        `json:"model"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

// classifyStatus maps an HTTP status to the error taxonomy: 429 is rate
// limiting, 5xx is unavailability, anything else is a permanent error
// left unwrapped for the caller to inspect.
func classifyStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status >= 500:
		return ErrUpstreamUnavailable
	default:
		return nil
	}
}
