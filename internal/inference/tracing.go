package inference

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("quarrel-chat.internal.inference")

func startSpan(ctx context.Context, backend string, req Request) (context.Context, trace.Span) {
	return tracer.Start(ctx, "inference.chat_completion", trace.WithAttributes(
		attribute.String("inference.backend", backend),
		attribute.String("inference.model", req.Model),
		attribute.Int("inference.messages", len(req.Messages)),
		attribute.Int("inference.max_tokens", req.MaxTokens),
		attribute.Float64("inference.temperature", req.Temperature),
	))
}

func finishSpan(span trace.Span, comp *Completion, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if comp != nil {
		span.SetAttributes(
			attribute.Int("inference.choices", len(comp.Choices)),
			attribute.Int("inference.prompt_tokens", comp.Usage.PromptTokens),
			attribute.Int("inference.completion_tokens", comp.Usage.CompletionTokens),
		)
	}
	span.End()
}
