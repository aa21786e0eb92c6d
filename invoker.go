package enigma

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/pipz"
)

// Invoker defaults, mirroring the tuning of the dataset's collection runs.
const (
	DefaultMaxCallAttempts = 8
	DefaultBaseDelay       = time.Second
	DefaultMaxDelay        = time.Minute
)

// callState flows through the invoker's pipz pipeline.
type callState struct {
	req  Request
	resp *Response
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithMaxCallAttempts bounds provider retries, counting the first call.
func WithMaxCallAttempts(n int) InvokerOption {
	return func(inv *Invoker) {
		if n > 0 {
			inv.maxAttempts = n
		}
	}
}

// WithBackoffDelays sets the exponential backoff window. The delay starts at
// base, doubles per failed attempt, and is capped at max before jitter.
func WithBackoffDelays(base, max time.Duration) InvokerOption {
	return func(inv *Invoker) {
		if base > 0 {
			inv.baseDelay = base
		}
		if max > 0 {
			inv.maxDelay = max
		}
	}
}

// WithCallTimeout bounds each individual provider call.
func WithCallTimeout(d time.Duration) InvokerOption {
	return func(inv *Invoker) {
		if d > 0 {
			inv.pipeline = pipz.NewTimeout(pipz.NewIdentity("call-timeout", "Bounds each provider call"), inv.pipeline, d)
		}
	}
}

// WithRateLimit throttles provider calls across all workers.
// rps = requests per second, burst = burst capacity.
func WithRateLimit(rps float64, burst int) InvokerOption {
	return func(inv *Invoker) {
		inv.pipeline = pipz.NewRateLimiter(pipz.NewIdentity("rate-limit", "Throttles provider calls"), rps, burst, inv.pipeline)
	}
}

// WithRequestDelay sleeps before each call with up to 50% random jitter,
// smoothing request bursts against provider rate limits.
func WithRequestDelay(d time.Duration) InvokerOption {
	return func(inv *Invoker) {
		inv.requestDelay = d
	}
}

// Invoker sends rendered prompts to a provider and retries transient
// failures with exponential backoff and jitter. Fatal provider errors and
// cancellation are never retried; timeouts are retried within the attempt
// bound. Calls have no side effects on the dataset, so retrying is safe.
type Invoker struct {
	provider     Provider
	pipeline     pipz.Chainable[*callState]
	maxAttempts  int
	baseDelay    time.Duration
	maxDelay     time.Duration
	requestDelay time.Duration

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewInvoker creates an Invoker for the given provider.
func NewInvoker(provider Provider, opts ...InvokerOption) *Invoker {
	inv := &Invoker{
		provider:    provider,
		maxAttempts: DefaultMaxCallAttempts,
		baseDelay:   DefaultBaseDelay,
		maxDelay:    DefaultMaxDelay,
		sleep:       sleepCtx,
	}
	inv.pipeline = pipz.Apply(pipz.NewIdentity("provider-call", "Sends the request to the provider"), func(ctx context.Context, state *callState) (*callState, error) {
		resp, err := provider.Call(ctx, state.req)
		if err != nil {
			return state, err
		}
		state.resp = resp
		return state, nil
	})
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Provider returns the wrapped provider.
func (inv *Invoker) Provider() Provider {
	return inv.provider
}

// Call sends the request, retrying transient failures. It returns the
// response, the number of provider calls made, and the classified error of
// the final attempt when all retries are exhausted.
func (inv *Invoker) Call(ctx context.Context, req Request) (*Response, int, error) {
	if req.Temperature == 0 {
		req.Temperature = DefaultTemperature
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = DefaultMaxTokens
	}

	var lastErr error
	for attempt := 1; attempt <= inv.maxAttempts; attempt++ {
		if inv.requestDelay > 0 {
			if err := inv.sleep(ctx, jitter(inv.requestDelay)); err != nil {
				return nil, attempt - 1, &Error{Kind: KindCancelled, Err: err}
			}
		}

		capitan.Info(ctx, ProviderCallStarted,
			ProviderKey.Field(inv.provider.Name()),
			AttemptKey.Field(attempt),
		)
		start := time.Now()

		state := &callState{req: req}
		processed, err := inv.pipeline.Process(ctx, state)
		if err == nil && processed.resp != nil {
			capitan.Info(ctx, ProviderCallCompleted,
				ProviderKey.Field(inv.provider.Name()),
				AttemptKey.Field(attempt),
				DurationMsKey.Field(int(time.Since(start).Milliseconds())),
				PromptTokensKey.Field(processed.resp.Usage.Prompt),
				CompletionTokensKey.Field(processed.resp.Usage.Completion),
				TotalTokensKey.Field(processed.resp.Usage.Total),
			)
			return processed.resp, attempt, nil
		}
		if err == nil {
			err = &Error{Kind: KindProviderFatal, Err: errEmptyResponse}
		}

		kind := KindOf(err)
		capitan.Error(ctx, ProviderCallFailed,
			ProviderKey.Field(inv.provider.Name()),
			AttemptKey.Field(attempt),
			KindKey.Field(kind.String()),
			ErrorKey.Field(err.Error()),
			DurationMsKey.Field(int(time.Since(start).Milliseconds())),
		)
		lastErr = &Error{Kind: kind, Err: err}

		if kind != KindProviderTransient && kind != KindTimeout {
			return nil, attempt, lastErr
		}
		if attempt == inv.maxAttempts {
			break
		}
		if err := inv.sleep(ctx, jitter(inv.backoff(attempt))); err != nil {
			return nil, attempt, &Error{Kind: KindCancelled, Err: err}
		}
	}
	return nil, inv.maxAttempts, lastErr
}

// backoff returns the capped exponential delay after the given attempt.
func (inv *Invoker) backoff(attempt int) time.Duration {
	d := inv.baseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= inv.maxDelay {
			return inv.maxDelay
		}
	}
	return d
}

// jitter adds up to 50% random spread to a delay.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(d/2+1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
