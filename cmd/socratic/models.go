package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/socratic-dev/socratic/internal/llm/provider"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Probe the configured models and report which ones answer",
	Long: `Models sends one tiny completion to every model in the fallback
chain and reports which ones currently answer. On Bedrock it also lists
the foundation models available in the configured region, so a model id
that never answers can be told apart from one that does not exist there.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		stack, err := buildModelStack(cfg)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		available := map[string]bool{}
		if br, ok := stack.prov.(*provider.BedrockProvider); ok {
			ids, listErr := br.ListModels(ctx)
			if listErr != nil {
				log.Printf("[models] list foundation models: %v", listErr)
			}
			for _, id := range ids {
				available[id] = true
			}
		}

		working, err := stack.inv.Probe(ctx, stack.candidates)
		if err != nil {
			return err
		}
		answers := map[string]bool{}
		for _, c := range working {
			answers[c.Model] = true
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "MODEL\tSTATUS")
		for _, c := range stack.candidates {
			fmt.Fprintf(w, "%s\t%s\n", c.Model, modelStatus(c.Model, answers, available))
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if len(working) == 0 {
			return errors.New("no configured model answered the probe")
		}
		return nil
	},
}

// modelStatus resolves one candidate's probe outcome. available is only
// populated on providers that can enumerate their models; empty means the
// region check does not apply.
func modelStatus(model string, answered, available map[string]bool) string {
	switch {
	case answered[model]:
		return "ok"
	case len(available) > 0 && !available[model]:
		return "not available in region"
	default:
		return "no answer"
	}
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}
