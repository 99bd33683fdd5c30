package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/23skdu/quarrel-chat/internal/gguf"
	"github.com/23skdu/quarrel-chat/internal/ollama"
)

func newInspectCmd() *cobra.Command {
	var (
		asJSON bool
		allKV  bool
	)
	cmd := &cobra.Command{
		Use:   "inspect <model.gguf|ollama:name[:tag]>",
		Short: "Print a GGUF model's metadata summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := ollama.ResolveModelPath(args[0])
			if err != nil {
				return err
			}
			meta, err := gguf.ReadMetadata(path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if allKV {
					return enc.Encode(meta)
				}
				return enc.Encode(meta.Summary())
			}

			fmt.Fprint(out, meta.Summary().String())
			if allKV {
				fmt.Fprintln(out)
				for _, key := range meta.Keys() {
					fmt.Fprintf(out, "%-40s %v\n", key, meta.KV[key])
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	cmd.Flags().BoolVar(&allKV, "all", false, "Include every metadata key")
	return cmd
}
