package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/23skdu/quarrel-chat/internal/chat"
	"github.com/23skdu/quarrel-chat/internal/logger"
)

func newChatCmd(g *globalFlags) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the model in the terminal",
		Long: `Start a terminal chat. History is kept for the session only.

Commands:
  /reset   Forget the conversation so far
  /exit    Leave (also /quit or Ctrl-D)`,
		Args: cobra.NoArgs,
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

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, titleStyle.Render(profile.Title))
			if profile.Description != "" {
				fmt.Fprintln(out, dimStyle.Render(profile.Description))
			}
			fmt.Fprintln(out, dimStyle.Render("/reset clears the conversation, /exit leaves."))

			s := &replSession{
				respond: newResponder(cfg, profile, eng).Respond,
				in:      cmd.InOrStdin(),
				out:     out,
				render:  newRenderer(out, raw),
			}
			return s.run(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Print replies without markdown rendering")
	return cmd
}

type replSession struct {
	respond chat.RespondFunc
	in      io.Reader
	out     io.Writer
	render  *renderer
	history []chat.Turn
}

// run reads one message per line until EOF, /exit or ctx cancellation.
// Failed replies are reported and left out of the history.
func (s *replSession) run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		fmt.Fprint(s.out, promptStyle.Render("you> "))
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/reset":
			s.history = nil
			fmt.Fprintln(s.out, dimStyle.Render("Conversation cleared."))
			continue
		}

		reply, err := s.respond(ctx, line, s.history)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(s.out, formatError(err))
			continue
		}
		s.history = append(s.history, chat.Turn{User: line, Assistant: reply})
		fmt.Fprint(s.out, s.render.Render(reply))
	}
}
