package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/topic-cli/internal/resolver"
	"github.com/sells-group/topic-cli/pkg/gemini"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models available to the configured API key",
	Long:  "Runs model discovery and shows which models can generate content, their fallback rank, and the working model a run would use.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initPipeline("models")
		if err != nil {
			return err
		}

		models, err := env.Client.ListModels(cmd.Context(), cfg.Gemini.Key)
		if err != nil {
			return eris.Wrap(err, "models: discovery")
		}

		ranked, selErr := resolver.Select(models)
		formatModels(cmd.OutOrStdout(), models, ranked, cfg.Gemini.Model)
		return selErr
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}

// formatModels prints one line per discovered model. Eligible models carry
// their fallback rank; the working model is starred.
func formatModels(w io.Writer, models []gemini.Model, ranked []string, pinned string) {
	rank := make(map[string]int, len(ranked))
	for i, id := range ranked {
		rank[id] = i + 1
	}

	working := strings.TrimPrefix(pinned, "models/")
	if working == "" && len(ranked) > 0 {
		working = ranked[0]
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tMODEL\tDISPLAY NAME\tRANK")
	for _, m := range models {
		mark := ""
		if working != "" && m.ID() == working {
			mark = "*"
		}
		r := "-"
		if n, ok := rank[m.ID()]; ok {
			r = fmt.Sprintf("%d", n)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", mark, m.ID(), m.DisplayName, r)
	}
	_ = tw.Flush()

	switch {
	case pinned != "":
		fmt.Fprintf(w, "\nWorking model pinned by config: %s\n", pinned)
	case len(ranked) == 0:
		fmt.Fprintln(w, "\nNo model supports generateContent for this key.")
	default:
		fmt.Fprintf(w, "\nWorking model: %s (%d eligible of %d)\n", ranked[0], len(ranked), len(models))
	}
}
