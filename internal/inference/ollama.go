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

	"github.com/23skdu/quarrel-chat/internal/chat"
)

// OllamaOptions are engine-side settings sent with every Ollama request.
type OllamaOptions struct {
	NumCtx    int
	NumThread int
	NumGPU    int
}

type OllamaClient struct {
	host       string
	model      string
	opts       OllamaOptions
	httpClient *http.Client
}

func NewOllamaClient(host, model string, opts OllamaOptions, timeout time.Duration) *OllamaClient {
	return &OllamaClient{
		host:  strings.TrimSuffix(host, "/"),
		model: model,
		opts:  opts,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *OllamaClient) Name() string { return "ollama" }

type ollamaOptions struct {
	NumPredict  int      `json:"num_predict,omitempty"`
	Temperature float64  `json:"temperature"`
	TopP        float64  `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	NumCtx      int      `json:"num_ctx,omitempty"`
	NumThread   int      `json:"num_thread,omitempty"`
	NumGPU      *int     `json:"num_gpu,omitempty"`
}

type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []chat.Message `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  ollamaOptions  `json:"options"`
}

type ollamaResponse struct {
	Model           string       `json:"model"`
	CreatedAt       string       `json:"created_at"`
	Message         chat.Message `json:"message"`
	DoneReason      string       `json:"done_reason"`
	PromptEvalCount int          `json:"prompt_eval_count"`
	EvalCount       int          `json:"eval_count"`
}

// ChatCompletion posts req to /api/chat with streaming disabled. Ollama
// returns a single message, which becomes choice 0.
func (c *OllamaClient) ChatCompletion(ctx context.Context, req Request) (comp *Completion, err error) {
	if req.Model == "" {
		req.Model = c.model
	}
	ctx, span := startSpan(ctx, c.Name(), req)
	defer func() { finishSpan(span, comp, err) }()

	opts := ollamaOptions{
		NumPredict:  req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		NumCtx:      c.opts.NumCtx,
		NumThread:   c.opts.NumThread,
	}
	// num_gpu 0 forces CPU; a negative value leaves offload to Ollama.
	if c.opts.NumGPU >= 0 {
		n := c.opts.NumGPU
		opts.NumGPU = &n
	}

	body, err := json.Marshal(ollamaRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   false,
		Options:  opts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := c.host + "/api/chat"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Endpoint:   endpoint,
			Body:       truncate(strings.TrimSpace(string(body)), 400),
		}
	}

	var ollamaResp ollamaResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&ollamaResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	msg := ollamaResp.Message
	if msg.Role == "" {
		msg.Role = chat.RoleAssistant
	}
	return &Completion{
		ID:    ollamaResp.CreatedAt,
		Model: ollamaResp.Model,
		Choices: []Choice{{
			Index:        0,
			Message:      msg,
			FinishReason: ollamaResp.DoneReason,
		}},
		Usage: Usage{
			PromptTokens:     ollamaResp.PromptEvalCount,
			CompletionTokens: ollamaResp.EvalCount,
		},
	}, nil
}

// Health queries /api/version.
func (c *OllamaClient) Health(ctx context.Context) error {
	endpoint := c.host + "/api/version"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to connect to Ollama: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode, Endpoint: endpoint}
	}
	return nil
}
