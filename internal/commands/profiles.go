package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newProfilesCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List the available model profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "\tPROFILE\tTITLE\tTHREADS\tCONTEXT\tMODEL")
			for _, name := range cfg.ProfileNames() {
				p := cfg.Profiles[name]
				marker := ""
				if name == cfg.Profile {
					marker = "*"
				}
				model := p.ModelPath
				if p.Model != "" {
					model = fmt.Sprintf("%s (%s)", p.ModelPath, p.Model)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n", marker, name, p.Title, p.Threads, p.ContextSize, model)
			}
			return w.Flush()
		},
	}
}
