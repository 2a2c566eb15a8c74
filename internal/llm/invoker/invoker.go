// Package invoker implements model fallback: it walks an ordered list of
// candidate models, retries throttle and transport failures with exponential
// backoff, and aggregates total exhaustion into a single user-facing error.
// All retry decisions live here; providers perform single attempts and the
// scheduler only paces.
package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/socratic-dev/socratic/internal/llm/parser"
	"github.com/socratic-dev/socratic/internal/llm/provider"
	"github.com/socratic-dev/socratic/internal/llm/scheduler"
)

// Candidate pairs a provider with one of its model identifiers.
type Candidate struct {
	Provider provider.Provider
	Model    string
}

// Policy selects how a retryable failure is handled for the current model.
type Policy int

const (
	// PolicyBackoff retries the same model up to MaxAttempts with the base
	// delay doubling per attempt before moving to the next model.
	PolicyBackoff Policy = iota
	// PolicySkip moves to the next model immediately with zero wait.
	PolicySkip
)

func (p Policy) String() string {
	if p == PolicySkip {
		return "skip"
	}
	return "backoff"
}

// RetryEvent is emitted on every retry and model skip so a caller can show a
// live countdown. Delivery is fire-and-forget and never blocks the retry.
type RetryEvent struct {
	Model   string
	Attempt int
	Wait    time.Duration
	Err     error
}

// Pacer grants one paced call slot. *scheduler.Scheduler satisfies it.
type Pacer interface {
	Pace(ctx context.Context) error
}

// ConfigError is fatal: a missing or rejected credential that no amount of
// retry or fallback can fix. The message is shown to the user verbatim.
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v (check that the API key is set and valid)", e.Reason, e.Err)
	}
	return fmt.Sprintf("configuration error: %s (check that the API key is set and valid)", e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ExhaustedError reports that every candidate model failed. It names the
// last underlying error and suggests remediation; the message is user-facing.
type ExhaustedError struct {
	Models []string
	Last   error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all models exhausted (%s): %v — wait for the quota to reset, rotate the API key, or check billing",
		strings.Join(e.Models, ", "), e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Options configures an Invoker. Zero values get sensible defaults.
type Options struct {
	Policy      Policy
	MaxAttempts int           // attempts per model on retryable errors, default 3
	BaseDelay   time.Duration // first backoff wait, doubles per attempt, default 2s
	Notify      func(RetryEvent)
	Clock       scheduler.Clock
	Pacer       Pacer
}

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 2 * time.Second
)

// Invoker tries candidate models in order until one returns parseable JSON.
type Invoker struct {
	policy      Policy
	maxAttempts int
	baseDelay   time.Duration
	notify      func(RetryEvent)
	clock       scheduler.Clock
	pacer       Pacer
}

func New(opts Options) *Invoker {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.Clock == nil {
		opts.Clock = scheduler.RealClock()
	}
	return &Invoker{
		policy:      opts.Policy,
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
		notify:      opts.Notify,
		clock:       opts.Clock,
		pacer:       opts.Pacer,
	}
}

// Invoke walks candidates in order and returns the first parseable JSON
// object together with the model that produced it.
//
// Classification per attempt:
//   - success + valid JSON: returned immediately, no further models tried
//   - success + invalid JSON: non-retryable for that model, next model
//   - authentication failure: *ConfigError, returned immediately
//   - throttle or transport failure: retried per policy, then next model
//   - any other provider failure: returned immediately, no fallback
func (in *Invoker) Invoke(ctx context.Context, candidates []Candidate, req provider.CompletionRequest) (json.RawMessage, string, error) {
	if len(candidates) == 0 {
		return nil, "", &ConfigError{Reason: "no candidate models configured"}
	}

	var last error
	tried := make([]string, 0, len(candidates))

	// The scheduler slot already paid the pacing gap for the first call;
	// every later attempt or model pays its own through Pace.
	first := true

	for _, c := range candidates {
		tried = append(tried, c.Model)
		req.Model = c.Model

		content, err := in.tryModel(ctx, c, req, &first)
		if err != nil {
			switch classify(err) {
			case classConfig:
				return nil, "", &ConfigError{Reason: fmt.Sprintf("model %s rejected the credential", c.Model), Err: err}
			case classProvider:
				return nil, "", err
			}
			// throttle or transport, exhausted for this model
			last = err
			continue
		}

		parsed, perr := parser.Parse(content)
		if perr != nil {
			last = perr
			continue
		}
		return parsed, c.Model, nil
	}

	return nil, "", &ExhaustedError{Models: tried, Last: last}
}

// tryModel runs up to maxAttempts single calls against one model. It returns
// the raw completion text, or the last error once attempts are spent. Only
// throttle and transport errors are retried; everything else returns on the
// first occurrence.
func (in *Invoker) tryModel(ctx context.Context, c Candidate, req provider.CompletionRequest, first *bool) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= in.maxAttempts; attempt++ {
		if err := in.pace(ctx, first); err != nil {
			return "", err
		}

		resp, err := c.Provider.CreateCompletion(ctx, req)
		if err == nil {
			return resp.Content, nil
		}
		lastErr = err

		switch classify(err) {
		case classThrottle, classTransport:
		default:
			return "", err
		}

		if in.policy == PolicySkip {
			in.emit(RetryEvent{Model: c.Model, Attempt: attempt, Wait: 0, Err: err})
			return "", err
		}
		if attempt == in.maxAttempts {
			break
		}

		wait := in.baseDelay << (attempt - 1)
		in.emit(RetryEvent{Model: c.Model, Attempt: attempt, Wait: wait, Err: err})
		if serr := in.clock.Sleep(ctx, wait); serr != nil {
			return "", serr
		}
	}
	return "", lastErr
}

// pace waits for the inter-call gap, except for the first call of an invoke,
// whose gap the surrounding scheduler slot has already enforced.
func (in *Invoker) pace(ctx context.Context, first *bool) error {
	if *first {
		*first = false
		return nil
	}
	if in.pacer == nil {
		return nil
	}
	return in.pacer.Pace(ctx)
}

func (in *Invoker) emit(ev RetryEvent) {
	if in.notify == nil {
		return
	}
	go in.notify(ev)
}

type errClass int

const (
	classProvider errClass = iota
	classConfig
	classThrottle
	classTransport
)

func classify(err error) errClass {
	var pe *provider.ProviderError
	if !errors.As(err, &pe) {
		// no response at all, treat as transport
		return classTransport
	}
	switch pe.Code {
	case provider.ErrorCodeAuthentication:
		return classConfig
	case provider.ErrorCodeRateLimit, provider.ErrorCodeQuotaExceeded:
		return classThrottle
	case provider.ErrorCodeTimeout:
		return classTransport
	default:
		return classProvider
	}
}
