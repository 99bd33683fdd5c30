package commands

import (
	"context"
	"fmt"

	"github.com/23skdu/quarrel-chat/internal/config"
	"github.com/23skdu/quarrel-chat/internal/gguf"
	"github.com/23skdu/quarrel-chat/internal/inference"
	"github.com/23skdu/quarrel-chat/internal/llamaserver"
	"github.com/23skdu/quarrel-chat/internal/logger"
	"github.com/23skdu/quarrel-chat/internal/ollama"
)

// engineHandle is the engine a command talks to, plus the llama-server
// process behind it when quarrel-chat started one.
type engineHandle struct {
	inference.Engine
	server *llamaserver.Server
	model  *gguf.Summary
}

// Close stops the supervised process, if any.
func (h *engineHandle) Close() error {
	if h.server == nil {
		return nil
	}
	return h.server.Close()
}

// openEngine builds the engine for the configured backend. For llama-server
// the model file must be a readable GGUF and the process is started and
// waited on until it reports healthy.
func openEngine(ctx context.Context, cfg *config.Config, p config.Profile) (*engineHandle, error) {
	h := &engineHandle{}
	log := logger.Log.With("backend", cfg.Engine.Backend, "profile", cfg.Profile)

	switch cfg.Engine.Backend {
	case config.BackendLlamaServer:
		path, err := ollama.ResolveModelPath(p.ModelPath)
		if err != nil {
			return nil, err
		}
		summary, err := inspectModel(path, p)
		if err != nil {
			return nil, err
		}
		h.model = summary

		log.Info("Starting llama-server", "model", path, "threads", p.Threads, "context_size", p.ContextSize)
		srv, err := llamaserver.Start(ctx, llamaserver.Options{
			Binary:         cfg.Engine.Binary,
			ModelPath:      path,
			Threads:        p.Threads,
			ContextSize:    p.ContextSize,
			GPULayers:      p.GPULayers,
			ExtraArgs:      cfg.Engine.ExtraArgs,
			StartupTimeout: cfg.Engine.StartupTimeout,
		})
		if err != nil {
			return nil, err
		}
		h.server = srv
		h.Engine = inference.NewOpenAIClient(srv.URL(), "", p.Model, cfg.Engine.Timeout)
		log.Info("llama-server ready", "url", srv.URL())

	case config.BackendOpenAI:
		if p.ModelPath != "" {
			if path, err := ollama.ResolveModelPath(p.ModelPath); err != nil {
				log.Debug("Model path not resolvable, skipping inspection", "error", err)
			} else if summary, err := inspectModel(path, p); err != nil {
				log.Debug("Model not inspectable, skipping", "error", err)
			} else {
				h.model = summary
			}
		}
		h.Engine = inference.NewOpenAIClient(cfg.Engine.URL, cfg.Engine.APIKey, p.Model, cfg.Engine.Timeout)

	case config.BackendOllama:
		h.Engine = inference.NewOllamaClient(cfg.Engine.URL, p.Model, inference.OllamaOptions{
			NumCtx:    p.ContextSize,
			NumThread: p.Threads,
			NumGPU:    p.GPULayers,
		}, cfg.Engine.Timeout)

	default:
		return nil, fmt.Errorf("unknown engine backend %q", cfg.Engine.Backend)
	}
	return h, nil
}

// inspectModel reads the GGUF header of path and warns when the profile asks
// for more context than the model was trained with.
func inspectModel(path string, p config.Profile) (*gguf.Summary, error) {
	meta, err := gguf.ReadMetadata(path)
	if err != nil {
		return nil, fmt.Errorf("inspect model: %w", err)
	}
	s := meta.Summary()
	logger.Log.Info("Model loaded",
		"path", path,
		"architecture", s.Architecture,
		"name", s.Name,
		"file_type", s.FileType,
		"context_length", s.ContextLength)
	if s.ContextLength > 0 && p.ContextSize > s.ContextLength {
		logger.Log.Warn("Context size exceeds the model's trained context",
			"context_size", p.ContextSize,
			"trained", s.ContextLength)
	}
	return &s, nil
}
