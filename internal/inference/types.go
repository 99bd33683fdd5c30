// Package inference is the boundary to the external chat-completion engine.
// Two HTTP backends are provided: an OpenAI-compatible client (llama.cpp's
// llama-server speaks this protocol) and an Ollama client.
package inference

import (
	"context"
	"errors"
	"fmt"

	"github.com/23skdu/quarrel-chat/internal/chat"
)

// Request is one chat-completion call.
type Request struct {
	Model       string
	Messages    []chat.Message
	MaxTokens   int
	Temperature float64
	// TopP of 0 leaves nucleus sampling at the engine default.
	TopP float64
	Stop []string
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type Choice struct {
	Index        int          `json:"index"`
	Message      chat.Message `json:"message"`
	FinishReason string       `json:"finish_reason,omitempty"`
}

type Completion struct {
	ID      string   `json:"id,omitempty"`
	Model   string   `json:"model,omitempty"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

var ErrNoChoices = errors.New("completion returned no choices")

// Text returns the content of the first choice.
func (c *Completion) Text() (string, error) {
	if c == nil || len(c.Choices) == 0 {
		return "", ErrNoChoices
	}
	return c.Choices[0].Message.Content, nil
}

// Engine is a long-lived handle to an inference engine.
type Engine interface {
	ChatCompletion(ctx context.Context, req Request) (*Completion, error)
	// Health reports whether the engine can accept requests.
	Health(ctx context.Context) error
	// Name identifies the backend in logs and metrics.
	Name() string
}

// StatusError is returned when the engine answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("engine request to %s failed with status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("engine request to %s failed with status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
