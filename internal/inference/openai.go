package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/23skdu/quarrel-chat/internal/chat"
)

const maxResponseBytes = 16 << 20

// OpenAIClient talks to an OpenAI-compatible chat completions endpoint, such
// as the one llama-server exposes.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAIClient creates a client for baseURL (without the /v1 suffix).
func NewOpenAIClient(baseURL, apiKey, model string, timeout time.Duration) *OpenAIClient {
	return &OpenAIClient{
		baseURL: strings.TrimSuffix(strings.TrimSuffix(baseURL, "/"), "/v1"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *OpenAIClient) Name() string { return "openai" }

type openAIRequest struct {
	Model       string         `json:"model,omitempty"`
	Messages    []chat.Message `json:"messages"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
	Temperature float64        `json:"temperature"`
	TopP        float64        `json:"top_p,omitempty"`
	Stop        []string       `json:"stop,omitempty"`
	Stream      bool           `json:"stream"`
}

// ChatCompletion posts req to /v1/chat/completions.
func (c *OpenAIClient) ChatCompletion(ctx context.Context, req Request) (comp *Completion, err error) {
	if req.Model == "" {
		req.Model = c.model
	}
	ctx, span := startSpan(ctx, c.Name(), req)
	defer func() { finishSpan(span, comp, err) }()

	payload, err := json.Marshal(openAIRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completion request: %w", err)
	}

	endpoint := c.baseURL + "/v1/chat/completions"
	body, err := c.do(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return nil, err
	}
	return parseOpenAICompletion(body)
}

// Health lists the served models, which fails while the server is loading.
func (c *OpenAIClient) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	return err
}

func (c *OpenAIClient) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine request: %w", err)
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("engine request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed reading engine response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Endpoint:   endpoint,
			Body:       truncate(strings.TrimSpace(string(body)), 400),
		}
	}
	return body, nil
}

func parseOpenAICompletion(body []byte) (*Completion, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid completion response: %s", truncate(string(body), 400))
	}
	parsed := gjson.ParseBytes(body)

	comp := &Completion{
		ID:    parsed.Get("id").String(),
		Model: parsed.Get("model").String(),
		Usage: Usage{
			PromptTokens:     int(parsed.Get("usage.prompt_tokens").Int()),
			CompletionTokens: int(parsed.Get("usage.completion_tokens").Int()),
		},
	}
	parsed.Get("choices").ForEach(func(_, c gjson.Result) bool {
		role := chat.Role(c.Get("message.role").String())
		if role == "" {
			role = chat.RoleAssistant
		}
		comp.Choices = append(comp.Choices, Choice{
			Index:        int(c.Get("index").Int()),
			Message:      chat.Message{Role: role, Content: c.Get("message.content").String()},
			FinishReason: c.Get("finish_reason").String(),
		})
		return true
	})
	return comp, nil
}
