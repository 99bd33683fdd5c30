package commands

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/23skdu/quarrel-chat/internal/assistant"
	"github.com/23skdu/quarrel-chat/internal/config"
	"github.com/23skdu/quarrel-chat/internal/logger"
	"github.com/23skdu/quarrel-chat/internal/webui"
)

type serveFlags struct {
	host      string
	port      int
	noBrowser bool
	apiKey    string
}

func (f *serveFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.host, "host", "", "Address to bind the widget to")
	fl.IntVar(&f.port, "port", 0, "Widget port (0 picks a free port when set explicitly)")
	fl.BoolVar(&f.noBrowser, "no-browser", false, "Do not open the widget in a browser")
	fl.StringVar(&f.apiKey, "api-key", "", "Require this API key on /api and /ws")
}

func (f *serveFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	fl := cmd.Flags()
	if fl.Changed("host") {
		cfg.Server.Host = f.host
	}
	if fl.Changed("port") {
		cfg.Server.Port = f.port
	}
	if fl.Changed("no-browser") {
		cfg.Server.OpenBrowser = !f.noBrowser
	}
	if fl.Changed("api-key") {
		cfg.Server.APIKey = f.apiKey
	}
}

func newServeCmd(g *globalFlags) *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the engine and serve the chat widget (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd, f.apply)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	f.register(cmd)
	return cmd
}

// runServe starts the engine, then serves the widget until ctx is cancelled
// or the engine process exits. The server stops before the engine.
func runServe(ctx context.Context, cfg *config.Config) error {
	profile, err := cfg.Active()
	if err != nil {
		return err
	}

	eng, err := openEngine(ctx, cfg, profile)
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Log.Warn("Engine shutdown failed", "error", err)
		}
	}()

	responder := newResponder(cfg, profile, eng)
	srv, err := webui.New(webui.ChatInterface{
		Title:       profile.Title,
		Description: profile.Description,
		Respond:     responder.Respond,
	}, webui.Options{
		Profile:        cfg.Profile,
		Backend:        cfg.Engine.Backend,
		Model:          eng.model,
		APIKey:         cfg.Server.APIKey,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Ready:          eng.Health,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Launch(gctx, webui.LaunchOptions{
			Host:      cfg.Server.Host,
			Port:      cfg.Server.Port,
			InBrowser: cfg.Server.OpenBrowser,
		})
	})
	if eng.server != nil {
		g.Go(func() error {
			return eng.server.Wait(gctx)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newResponder(cfg *config.Config, profile config.Profile, eng *engineHandle) *assistant.Responder {
	return assistant.New(eng, assistant.Options{
		Profile:      cfg.Profile,
		Model:        profile.Model,
		SystemPrompt: profile.SystemPrompt,
		Sampling: assistant.Sampling{
			MaxTokens:   profile.Sampling.MaxTokens,
			Temperature: profile.Sampling.Temperature,
			TopP:        profile.Sampling.TopP,
			Stop:        profile.Sampling.Stop,
		},
		Concurrency: cfg.Engine.Concurrency,
	})
}
