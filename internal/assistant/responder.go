// Package assistant turns a user message and the visible chat history into a
// single assistant reply using an inference engine.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/23skdu/quarrel-chat/internal/chat"
	"github.com/23skdu/quarrel-chat/internal/inference"
	"github.com/23skdu/quarrel-chat/internal/logger"
	"github.com/23skdu/quarrel-chat/internal/metrics"
)

type Sampling struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
	Stop        []string
}

type Options struct {
	// Profile labels metrics and logs.
	Profile string
	// Model is sent as the request model name; llama-server ignores it.
	Model        string
	SystemPrompt string
	Sampling     Sampling
	// Concurrency bounds in-flight engine calls. Values below 1 mean 1.
	Concurrency int64
}

type Responder struct {
	engine inference.Engine
	opts   Options
	sem    *semaphore.Weighted
	log    *logger.Logger
}

func New(engine inference.Engine, opts Options) *Responder {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Responder{
		engine: engine,
		opts:   opts,
		sem:    semaphore.NewWeighted(opts.Concurrency),
		log:    logger.Log.With("component", "responder", "profile", opts.Profile),
	}
}

// Engine returns the handle the responder calls.
func (r *Responder) Engine() inference.Engine { return r.engine }

// Request builds the engine request for message following history.
func (r *Responder) Request(message string, history []chat.Turn) inference.Request {
	return inference.Request{
		Model:       r.opts.Model,
		Messages:    chat.Format(r.opts.SystemPrompt, history, message),
		MaxTokens:   r.opts.Sampling.MaxTokens,
		Temperature: r.opts.Sampling.Temperature,
		TopP:        r.opts.Sampling.TopP,
		Stop:        r.opts.Sampling.Stop,
	}
}

// Respond has the chat.RespondFunc shape. Engine errors are returned
// wrapped, never retried.
func (r *Responder) Respond(ctx context.Context, message string, history []chat.Turn) (string, error) {
	req := r.Request(message, history)
	metrics.RecordHistory(len(history))

	queued := time.Now()
	if err := r.sem.Acquire(ctx, 1); err != nil {
		metrics.RecordError("cancelled")
		return "", fmt.Errorf("waiting for engine: %w", err)
	}
	defer r.sem.Release(1)
	wait := time.Since(queued)
	metrics.RecordQueueWait(wait)

	start := time.Now()
	comp, err := r.engine.ChatCompletion(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		metrics.RecordError(errorType(err))
		r.log.Error("Chat completion failed",
			"backend", r.engine.Name(),
			"history_turns", len(history),
			"duration", elapsed.String(),
			"error", err)
		return "", fmt.Errorf("chat completion: %w", err)
	}

	metrics.RecordCompletion(r.engine.Name(), elapsed, comp.Usage.PromptTokens, comp.Usage.CompletionTokens)

	text, err := comp.Text()
	if err != nil {
		metrics.RecordError(errorType(err))
		r.log.Warn("Engine returned no choices", "backend", r.engine.Name())
		return "", err
	}

	r.log.Info("Chat completion",
		"backend", r.engine.Name(),
		"history_turns", len(history),
		"messages", len(req.Messages),
		"queue_wait", wait.String(),
		"duration", elapsed.String(),
		"prompt_tokens", comp.Usage.PromptTokens,
		"completion_tokens", comp.Usage.CompletionTokens)
	return text, nil
}

func errorType(err error) string {
	var statusErr *inference.StatusError
	switch {
	case errors.Is(err, inference.ErrNoChoices):
		return "no_choices"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.As(err, &statusErr):
		return "engine_status"
	default:
		return "engine"
	}
}
