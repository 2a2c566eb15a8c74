package invoker

import (
	"context"

	"github.com/socratic-dev/socratic/internal/llm/provider"
)

// probePrompt is intentionally tiny: the probe only cares whether the model
// answers at all, not what it says.
const probePrompt = "Reply with the single word: ok"

// Probe sends one minimal completion to each candidate and returns the subset
// that currently answers, in the original order. Each probe is a single
// unretried attempt through the paced slot. An authentication failure aborts
// the whole probe, since no candidate can work with a bad credential.
func (in *Invoker) Probe(ctx context.Context, candidates []Candidate) ([]Candidate, error) {
	working := make([]Candidate, 0, len(candidates))
	first := true
	for _, c := range candidates {
		if err := in.pace(ctx, &first); err != nil {
			return working, err
		}
		req := provider.CompletionRequest{
			Messages:  []provider.Message{{Role: "user", Content: probePrompt}},
			Model:     c.Model,
			MaxTokens: 8,
		}
		_, err := c.Provider.CreateCompletion(ctx, req)
		if err != nil {
			if classify(err) == classConfig {
				return nil, &ConfigError{Reason: "credential rejected during model probe", Err: err}
			}
			continue
		}
		working = append(working, c)
	}
	return working, nil
}

// PromoteFront moves the candidate matching model to the front, preserving
// the relative order of the rest. Unknown models leave the list unchanged.
func PromoteFront(candidates []Candidate, model string) []Candidate {
	for i, c := range candidates {
		if c.Model == model {
			out := make([]Candidate, 0, len(candidates))
			out = append(out, c)
			out = append(out, candidates[:i]...)
			out = append(out, candidates[i+1:]...)
			return out
		}
	}
	return candidates
}
