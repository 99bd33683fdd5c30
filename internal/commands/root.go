// Package commands provides the quarrel-chat CLI.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/23skdu/quarrel-chat/internal/config"
	"github.com/23skdu/quarrel-chat/internal/logger"
	"github.com/23skdu/quarrel-chat/internal/webui"
)

// globalFlags are the persistent flags shared by every subcommand. Set flags
// win over the environment, which wins over the config file.
type globalFlags struct {
	configPath string
	profile    string
	modelPath  string
	backend    string
	engineURL  string
	logLevel   string
	logFormat  string
}

// NewRootCmd builds the command tree. Running the root command without a
// subcommand serves the chat widget.
func NewRootCmd() *cobra.Command {
	g := &globalFlags{}
	serve := &serveFlags{}

	root := &cobra.Command{
		Use:   "quarrel-chat",
		Short: "Local chat widget for small quantized models",
		Long: `quarrel-chat serves a browser chat widget backed by a local GGUF model.
The model runs in llama-server (started and supervised by quarrel-chat), in an
already running OpenAI-compatible server, or in Ollama.

Examples:
  quarrel-chat                               Serve the default profile
  quarrel-chat --profile phi-3 --no-browser  Serve Phi-3 without opening a browser
  quarrel-chat ask "What is a GGUF file?"    One-shot question
  quarrel-chat chat                          Terminal chat
  quarrel-chat inspect ollama:qwen2.5:1.5b   Show model metadata`,
		Version:       webui.Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd, serve.apply)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	root.SetVersionTemplate("quarrel-chat {{.Version}}\n")

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "Config file (default: user config dir/quarrel-chat/config.yaml)")
	pf.StringVarP(&g.profile, "profile", "p", "", "Model profile to use")
	pf.StringVarP(&g.modelPath, "model-path", "m", "", "GGUF file or ollama:<name>[:tag], overrides the profile")
	pf.StringVar(&g.backend, "backend", "", "Inference backend: llama-server, openai or ollama")
	pf.StringVar(&g.engineURL, "engine-url", "", "Engine base URL for the openai and ollama backends")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&g.logFormat, "log-format", "", "Log format: console or json")

	serve.register(root)

	root.AddCommand(newServeCmd(g))
	root.AddCommand(newAskCmd(g))
	root.AddCommand(newChatCmd(g))
	root.AddCommand(newProfilesCmd(g))
	root.AddCommand(newInspectCmd())

	return root
}

// Execute runs the CLI until it finishes or the process is interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, formatError(err))
		stop()
		os.Exit(1)
	}
}

// load reads .env and the config file, applies the set flags (global ones
// first, then any command-specific appliers), configures the global logger
// and validates the result.
func (g *globalFlags) load(cmd *cobra.Command, extra ...func(*cobra.Command, *config.Config)) (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	g.apply(cmd, cfg)
	for _, apply := range extra {
		apply(cmd, cfg)
	}

	logger.Setup(cfg.Log.Level, cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (g *globalFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("profile") {
		cfg.Profile = g.profile
	}
	if flags.Changed("model-path") {
		cfg.ModelPath = g.modelPath
	}
	if flags.Changed("backend") {
		cfg.Engine.Backend = g.backend
	}
	if flags.Changed("engine-url") {
		cfg.Engine.URL = g.engineURL
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = g.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = g.logFormat
	}
}
