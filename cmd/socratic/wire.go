package main

import (
	"context"
	"fmt"
	"log"

	"github.com/socratic-dev/socratic/internal/llm/invoker"
	"github.com/socratic-dev/socratic/internal/llm/provider"
	"github.com/socratic-dev/socratic/internal/llm/scheduler"
	"github.com/socratic-dev/socratic/internal/tutor"
	"github.com/socratic-dev/socratic/pkg/config"
	metrics "github.com/socratic-dev/socratic/pkg/observability"
	"github.com/socratic-dev/socratic/pkg/session"
)

// modelStack is the provider-facing half of the wiring: one provider, the
// candidate order, and the paced invoker in front of it.
type modelStack struct {
	prov       provider.Provider
	candidates []invoker.Candidate
	sched      *scheduler.Scheduler
	inv        *invoker.Invoker
}

// buildModelStack wires the configured provider, scheduler and invoker.
func buildModelStack(cfg *config.Config) (*modelStack, error) {
	cred, err := cfg.Credential()
	if err != nil {
		return nil, err
	}

	provCfg := map[string]any{}
	if cfg.Provider == "bedrock" {
		provCfg["region"] = cfg.AWSRegion
	} else {
		provCfg["api_key"] = cred
	}

	prov, err := provider.CreateProvider(cfg.Provider, provCfg)
	if err != nil {
		return nil, fmt.Errorf("create provider %q: %w", cfg.Provider, err)
	}

	candidates := make([]invoker.Candidate, 0, len(cfg.Models()))
	for _, model := range cfg.Models() {
		candidates = append(candidates, invoker.Candidate{Provider: prov, Model: model})
	}

	sched := scheduler.New(cfg.MinCallGap, scheduler.RealClock())

	policy := invoker.PolicyBackoff
	if cfg.RetryPolicy == "skip" {
		policy = invoker.PolicySkip
	}

	inv := invoker.New(invoker.Options{
		Policy:      policy,
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		Pacer:       sched,
		Notify: func(ev invoker.RetryEvent) {
			metrics.RecordModelRetry(ev.Model)
			log.Printf("[invoker] retrying %s (attempt %d) after %s: %v", ev.Model, ev.Attempt, ev.Wait, ev.Err)
		},
	})

	return &modelStack{prov: prov, candidates: candidates, sched: sched, inv: inv}, nil
}

// buildTutor wires the model stack and store into a tutoring service.
func buildTutor(ctx context.Context, cfg *config.Config) (*tutor.Service, session.Store, *modelStack, error) {
	stack, err := buildModelStack(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	svc := tutor.New(store, stack.sched, stack.inv, stack.candidates,
		tutor.WithSampling(cfg.Temperature, cfg.MaxTokens))
	return svc, store, stack, nil
}

// ping returns a cheap liveness call against the provider's control plane,
// or nil when the provider has none that does not burn tokens.
func (m *modelStack) ping() func(ctx context.Context) error {
	br, ok := m.prov.(*provider.BedrockProvider)
	if !ok {
		return nil
	}
	return func(ctx context.Context) error {
		_, err := br.ListModels(ctx)
		return err
	}
}

// openStore opens the configured session backend. It needs no model
// credentials, so read-only commands can use it directly.
func openStore(ctx context.Context, cfg *config.Config) (session.Store, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return session.NewMemoryBackend(), nil
	case "file":
		return session.NewFileBackend(cfg.Storage.Path)
	case "", "sqlite":
		return session.NewSQLiteBackend(cfg.Storage.Path)
	case "redis":
		return session.NewRedisBackend(session.RedisConfig{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
		})
	case "firestore":
		opts := []session.FirestoreOption{session.WithProjectID(cfg.Storage.GCPProject)}
		if cfg.Storage.GCPCredentials != "" {
			opts = append(opts, session.WithCredentialsFile(cfg.Storage.GCPCredentials))
		}
		return session.NewFirestoreBackend(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
