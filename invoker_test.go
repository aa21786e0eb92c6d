package enigma

import (
	"context"
	"errors"
	"testing"
	"time"
)

// noSleep replaces the invoker's backoff sleep, recording requested delays.
func noSleep(inv *Invoker) *[]time.Duration {
	var delays []time.Duration
	inv.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return &delays
}

func TestInvokerCall(t *testing.T) {
	t.Run("first attempt success", func(t *testing.T) {
		inv := NewInvoker(NewProviderWithResponse("hello"))
		noSleep(inv)

		resp, attempts, err := inv.Call(context.Background(), Request{Prompt: "hi"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
		if resp.Content != "hello" {
			t.Errorf("content = %q", resp.Content)
		}
	})

	t.Run("transient failures are retried", func(t *testing.T) {
		provider := NewFailingProvider(3, NewProviderWithResponse("ok"))
		inv := NewInvoker(provider)
		noSleep(inv)

		resp, attempts, err := inv.Call(context.Background(), Request{Prompt: "hi"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attempts != 4 {
			t.Errorf("attempts = %d, want 4", attempts)
		}
		if resp.Content != "ok" {
			t.Errorf("content = %q", resp.Content)
		}
		if provider.CallCount() != 4 {
			t.Errorf("provider calls = %d, want 4", provider.CallCount())
		}
	})

	t.Run("exhausted retries return the last error", func(t *testing.T) {
		provider := NewFailingProvider(100, NewProviderWithResponse("never"))
		inv := NewInvoker(provider, WithMaxCallAttempts(3))
		noSleep(inv)

		_, attempts, err := inv.Call(context.Background(), Request{Prompt: "hi"})
		if err == nil {
			t.Fatal("expected error")
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
		if KindOf(err) != KindProviderTransient {
			t.Errorf("kind = %v, want transient", KindOf(err))
		}
		if provider.CallCount() != 3 {
			t.Errorf("provider calls = %d, want 3", provider.CallCount())
		}
	})

	t.Run("fatal errors are not retried", func(t *testing.T) {
		provider := NewFailingProvider(100, NewProviderWithResponse("never")).
			WithError(FatalProvider(errors.New("bad api key")))
		inv := NewInvoker(provider)
		noSleep(inv)

		_, attempts, err := inv.Call(context.Background(), Request{Prompt: "hi"})
		if err == nil {
			t.Fatal("expected error")
		}
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
		if KindOf(err) != KindProviderFatal {
			t.Errorf("kind = %v, want fatal", KindOf(err))
		}
	})

	t.Run("untyped provider errors count as transient", func(t *testing.T) {
		provider := NewFailingProvider(1, NewProviderWithResponse("ok")).
			WithError(errors.New("connection reset by peer"))
		inv := NewInvoker(provider)
		noSleep(inv)

		_, attempts, err := inv.Call(context.Background(), Request{Prompt: "hi"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attempts != 2 {
			t.Errorf("attempts = %d, want 2", attempts)
		}
	})

	t.Run("defaults fill temperature and max tokens", func(t *testing.T) {
		recorder := NewCallRecorder(NewProviderWithResponse("ok"))
		inv := NewInvoker(recorder)
		noSleep(inv)

		if _, _, err := inv.Call(context.Background(), Request{Prompt: "hi"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		call := recorder.LastCall()
		if call == nil {
			t.Fatal("no call recorded")
		}
		if call.Temperature != DefaultTemperature {
			t.Errorf("temperature = %v, want default", call.Temperature)
		}
	})

	t.Run("cancellation during backoff", func(t *testing.T) {
		provider := NewFailingProvider(100, NewProviderWithResponse("never"))
		inv := NewInvoker(provider)
		ctx, cancel := context.WithCancel(context.Background())
		inv.sleep = func(context.Context, time.Duration) error {
			cancel()
			return ctx.Err()
		}

		_, _, err := inv.Call(ctx, Request{Prompt: "hi"})
		if err == nil {
			t.Fatal("expected error")
		}
		if KindOf(err) != KindCancelled {
			t.Errorf("kind = %v, want cancelled", KindOf(err))
		}
	})

	t.Run("request delay sleeps before every call", func(t *testing.T) {
		inv := NewInvoker(NewProviderWithResponse("ok"), WithRequestDelay(100*time.Millisecond))
		delays := noSleep(inv)

		if _, _, err := inv.Call(context.Background(), Request{Prompt: "hi"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(*delays) != 1 {
			t.Fatalf("sleeps = %d, want 1", len(*delays))
		}
		d := (*delays)[0]
		if d < 100*time.Millisecond || d > 150*time.Millisecond {
			t.Errorf("delay %v outside jitter window [100ms, 150ms]", d)
		}
	})
}

func TestInvokerBackoff(t *testing.T) {
	inv := NewInvoker(NewProviderWithResponse("ok"),
		WithBackoffDelays(time.Second, 10*time.Second))

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // capped
		{9, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := inv.backoff(tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestJitter(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		d := jitter(base)
		if d < base || d > base+base/2 {
			t.Fatalf("jitter(%v) = %v outside [d, 1.5d]", base, d)
		}
	}
	if jitter(0) != 0 {
		t.Error("jitter(0) should be 0")
	}
}

func TestInvokerCallTimeout(t *testing.T) {
	slow := NewProviderWithCallback(func(Request) (*Response, error) {
		time.Sleep(200 * time.Millisecond)
		return &Response{Content: "late"}, nil
	})
	inv := NewInvoker(slow,
		WithCallTimeout(20*time.Millisecond),
		WithMaxCallAttempts(2))
	noSleep(inv)

	_, attempts, err := inv.Call(context.Background(), Request{Prompt: "hi"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2 (timeouts are retried)", attempts)
	}
}
