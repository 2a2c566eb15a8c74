package invoker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/socratic-dev/socratic/internal/llm/parser"
	"github.com/socratic-dev/socratic/internal/llm/provider"
)

// scriptedProvider pops one outcome per call and records the models asked for.
type scriptedProvider struct {
	mu       sync.Mutex
	outcomes []outcome
	calls    []string
}

type outcome struct {
	content string
	err     error
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) CreateCompletion(ctx context.Context, req provider.CompletionRequest) (*provider.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req.Model)
	if len(p.outcomes) == 0 {
		return nil, errors.New("script exhausted")
	}
	o := p.outcomes[0]
	p.outcomes = p.outcomes[1:]
	if o.err != nil {
		return nil, o.err
	}
	return &provider.CompletionResponse{Content: o.content, FinishReason: "stop"}, nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// recordClock never waits in real time, it just records requested sleeps.
type recordClock struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (c *recordClock) Now() time.Time { return time.Unix(0, 0) }

func (c *recordClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return ctx.Err()
}

// countPacer counts paced slots granted.
type countPacer struct {
	mu sync.Mutex
	n  int
}

func (p *countPacer) Pace(ctx context.Context) error {
	p.mu.Lock()
	p.n++
	p.mu.Unlock()
	return nil
}

func throttleErr(model string) error {
	return provider.NewProviderError("scripted", provider.ErrorCodeRateLimit, "quota exceeded for "+model, nil)
}

func TestInvoke_FirstModelSuccess(t *testing.T) {
	p := &scriptedProvider{outcomes: []outcome{{content: `{"question":"why?"}`}}}
	inv := New(Options{Clock: &recordClock{}})

	parsed, model, err := inv.Invoke(context.Background(), []Candidate{
		{Provider: p, Model: "model-a"},
		{Provider: p, Model: "model-b"},
	}, provider.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model != "model-a" {
		t.Errorf("expected model-a, got %s", model)
	}
	if string(parsed) != `{"question":"why?"}` {
		t.Errorf("unexpected payload: %s", parsed)
	}
	if p.callCount() != 1 {
		t.Errorf("expected 1 call, got %d: %v", p.callCount(), p.calls)
	}
}

func TestInvoke_TriesModelsInOrder(t *testing.T) {
	p := &scriptedProvider{outcomes: []outcome{
		{err: throttleErr("model-a")},
		{content: `{"ok":true}`},
	}}
	inv := New(Options{Policy: PolicySkip, Clock: &recordClock{}})

	_, model, err := inv.Invoke(context.Background(), []Candidate{
		{Provider: p, Model: "model-a"},
		{Provider: p, Model: "model-b"},
		{Provider: p, Model: "model-c"},
	}, provider.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model != "model-b" {
		t.Errorf("expected model-b, got %s", model)
	}
	want := []string{"model-a", "model-b"}
	if len(p.calls) != len(want) || p.calls[0] != want[0] || p.calls[1] != want[1] {
		t.Errorf("expected calls %v, got %v", want, p.calls)
	}
}

func TestInvoke_BackoffDoublesPerAttempt(t *testing.T) {
	p := &scriptedProvider{outcomes: []outcome{
		{err: throttleErr("model-a")},
		{err: throttleErr("model-a")},
		{content: `{"ok":true}`},
	}}
	clock := &recordClock{}
	pacer := &countPacer{}
	inv := New(Options{Policy: PolicyBackoff, MaxAttempts: 3, BaseDelay: time.Second, Clock: clock, Pacer: pacer})

	_, model, err := inv.Invoke(context.Background(), []Candidate{{Provider: p, Model: "model-a"}}, provider.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model != "model-a" {
		t.Errorf("expected model-a, got %s", model)
	}
	if len(clock.sleeps) != 2 || clock.sleeps[0] != time.Second || clock.sleeps[1] != 2*time.Second {
		t.Errorf("expected backoff waits [1s 2s], got %v", clock.sleeps)
	}
	// the first attempt rides the scheduler slot, the two retries pace
	if pacer.n != 2 {
		t.Errorf("expected 2 paced retries, got %d", pacer.n)
	}
}

func TestInvoke_AuthFailureIsFatal(t *testing.T) {
	p := &scriptedProvider{outcomes: []outcome{
		{err: provider.NewProviderError("scripted", provider.ErrorCodeAuthentication, "bad key", nil)},
	}}
	inv := New(Options{Clock: &recordClock{}})

	_, _, err := inv.Invoke(context.Background(), []Candidate{
		{Provider: p, Model: "model-a"},
		{Provider: p, Model: "model-b"},
	}, provider.CompletionRequest{})

	var cfg *ConfigError
	if !errors.As(err, &cfg) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if !strings.Contains(cfg.Error(), "API key") {
		t.Errorf("expected remediation hint in message, got %q", cfg.Error())
	}
	if p.callCount() != 1 {
		t.Errorf("auth failure must not fall back, got calls %v", p.calls)
	}
}

func TestInvoke_ProviderErrorNoFallback(t *testing.T) {
	p := &scriptedProvider{outcomes: []outcome{
		{err: provider.NewProviderError("scripted", provider.ErrorCodeInvalidRequest, "bad request", nil)},
	}}
	inv := New(Options{Clock: &recordClock{}})

	_, _, err := inv.Invoke(context.Background(), []Candidate{
		{Provider: p, Model: "model-a"},
		{Provider: p, Model: "model-b"},
	}, provider.CompletionRequest{})

	var pe *provider.ProviderError
	if !errors.As(err, &pe) || pe.Code != provider.ErrorCodeInvalidRequest {
		t.Fatalf("expected non-retryable provider error, got %v", err)
	}
	if p.callCount() != 1 {
		t.Errorf("provider error must not fall back, got calls %v", p.calls)
	}
}

func TestInvoke_ParseFailureAdvancesToNextModel(t *testing.T) {
	p := &scriptedProvider{outcomes: []outcome{
		{content: "I cannot answer in JSON, sorry"},
		{content: `{"ok":true}`},
	}}
	inv := New(Options{Clock: &recordClock{}})

	_, model, err := inv.Invoke(context.Background(), []Candidate{
		{Provider: p, Model: "model-a"},
		{Provider: p, Model: "model-b"},
	}, provider.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model != "model-b" {
		t.Errorf("expected fallback to model-b, got %s", model)
	}
}

func TestInvoke_ParseFailureOnLastModelSurfacesParseError(t *testing.T) {
	p := &scriptedProvider{outcomes: []outcome{{content: "not json"}}}
	inv := New(Options{Clock: &recordClock{}})

	_, _, err := inv.Invoke(context.Background(), []Candidate{{Provider: p, Model: "model-a"}}, provider.CompletionRequest{})

	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	var perr *parser.ParseError
	if !errors.As(err, &perr) {
		t.Errorf("expected underlying ParseError, got %v", ex.Last)
	}
}

func TestInvoke_ExhaustionAggregatesLastError(t *testing.T) {
	p := &scriptedProvider{outcomes: []outcome{
		{err: throttleErr("model-a")},
		{err: throttleErr("model-b")},
	}}
	inv := New(Options{Policy: PolicySkip, Clock: &recordClock{}})

	_, _, err := inv.Invoke(context.Background(), []Candidate{
		{Provider: p, Model: "model-a"},
		{Provider: p, Model: "model-b"},
	}, provider.CompletionRequest{})

	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	msg := ex.Error()
	for _, want := range []string{"model-a", "model-b", "model-b", "quota", "rotate the API key"} {
		if !strings.Contains(msg, want) {
			t.Errorf("exhaustion message missing %q: %s", want, msg)
		}
	}
}

func TestInvoke_EmptyCandidatesIsConfigError(t *testing.T) {
	inv := New(Options{Clock: &recordClock{}})
	_, _, err := inv.Invoke(context.Background(), nil, provider.CompletionRequest{})
	var cfg *ConfigError
	if !errors.As(err, &cfg) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestInvoke_RetryEventsEmitted(t *testing.T) {
	p := &scriptedProvider{outcomes: []outcome{
		{err: throttleErr("model-a")},
		{err: throttleErr("model-a")},
		{content: `{"ok":true}`},
	}}
	events := make(chan RetryEvent, 8)
	inv := New(Options{
		Policy:      PolicyBackoff,
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Clock:       &recordClock{},
		Notify:      func(ev RetryEvent) { events <- ev },
	})

	_, _, err := inv.Invoke(context.Background(), []Candidate{{Provider: p, Model: "model-a"}}, provider.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := make([]RetryEvent, 0, 2)
	for len(got) < 2 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for retry events, got %d", len(got))
		}
	}
	for _, ev := range got {
		if ev.Model != "model-a" {
			t.Errorf("unexpected model in event: %s", ev.Model)
		}
		if ev.Wait <= 0 {
			t.Errorf("expected positive wait in event, got %v", ev.Wait)
		}
		if ev.Err == nil {
			t.Error("expected event to carry the triggering error")
		}
	}
}

func TestInvoke_SlowNotifierDoesNotBlockRetry(t *testing.T) {
	p := &scriptedProvider{outcomes: []outcome{
		{err: throttleErr("model-a")},
		{content: `{"ok":true}`},
	}}
	block := make(chan struct{})
	inv := New(Options{
		Policy:    PolicyBackoff,
		BaseDelay: time.Millisecond,
		Clock:     &recordClock{},
		Notify:    func(RetryEvent) { <-block },
	})

	done := make(chan error, 1)
	go func() {
		_, _, err := inv.Invoke(context.Background(), []Candidate{{Provider: p, Model: "model-a"}}, provider.CompletionRequest{})
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("invoke blocked on notifier")
	}
	close(block)
}

func TestPromoteFront(t *testing.T) {
	p := &scriptedProvider{}
	cands := []Candidate{
		{Provider: p, Model: "a"},
		{Provider: p, Model: "b"},
		{Provider: p, Model: "c"},
	}

	got := PromoteFront(cands, "b")
	if got[0].Model != "b" || got[1].Model != "a" || got[2].Model != "c" {
		t.Errorf("unexpected order: %s %s %s", got[0].Model, got[1].Model, got[2].Model)
	}

	got = PromoteFront(cands, "missing")
	if got[0].Model != "a" {
		t.Errorf("unknown model should leave order unchanged, got %s first", got[0].Model)
	}
}

func TestProbe_KeepsOnlyAnsweringModels(t *testing.T) {
	p := &scriptedProvider{outcomes: []outcome{
		{content: "ok"},
		{err: throttleErr("b")},
		{content: "ok"},
	}}
	inv := New(Options{Clock: &recordClock{}})

	working, err := inv.Probe(context.Background(), []Candidate{
		{Provider: p, Model: "a"},
		{Provider: p, Model: "b"},
		{Provider: p, Model: "c"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(working) != 2 || working[0].Model != "a" || working[1].Model != "c" {
		t.Errorf("unexpected working set: %+v", working)
	}
}

func TestProbe_AuthFailureAborts(t *testing.T) {
	p := &scriptedProvider{outcomes: []outcome{
		{err: provider.NewProviderError("scripted", provider.ErrorCodeAuthentication, "bad key", nil)},
	}}
	inv := New(Options{Clock: &recordClock{}})

	_, err := inv.Probe(context.Background(), []Candidate{
		{Provider: p, Model: "a"},
		{Provider: p, Model: "b"},
	})
	var cfg *ConfigError
	if !errors.As(err, &cfg) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if p.callCount() != 1 {
		t.Errorf("probe should abort after auth failure, got calls %v", p.calls)
	}
}
