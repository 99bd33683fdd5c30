package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/23skdu/quarrel-chat/internal/logger"
)

func newAskCmd(g *globalFlags) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Ask a single question with no history",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			profile, err := cfg.Active()
			if err != nil {
				return err
			}

			eng, err := openEngine(cmd.Context(), cfg, profile)
			if err != nil {
				return err
			}
			defer func() {
				if err := eng.Close(); err != nil {
					logger.Log.Warn("Engine shutdown failed", "error", err)
				}
			}()

			reply, err := newResponder(cfg, profile, eng).Respond(cmd.Context(), strings.Join(args, " "), nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, err = fmt.Fprint(out, newRenderer(out, raw).Render(reply))
			return err
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Print the reply without markdown rendering")
	return cmd
}
