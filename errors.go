package enigma

import (
	"context"
	"errors"
	"fmt"
)

var errEmptyResponse = errors.New("no response from provider")

// Kind classifies a pipeline failure. The orchestrator converts every
// per-stage error into a retry decision or a terminal failure based on it.
type Kind int

const (
	// KindRender marks a template rendering failure (missing variable or
	// malformed template). Configuration bug: aborts the instance.
	KindRender Kind = iota

	// KindProviderTransient marks a provider failure worth retrying with
	// backoff (rate limits, 5xx, network hiccups).
	KindProviderTransient

	// KindProviderFatal marks a provider failure that retrying cannot fix
	// (malformed request, authentication failure).
	KindProviderFatal

	// KindTimeout marks a provider call that exceeded its per-call timeout.
	// Retried like a transient failure, within the attempt bound.
	KindTimeout

	// KindParse marks a response that does not satisfy the stage's
	// tagged-section grammar.
	KindParse

	// KindPolicy marks content that violates a stage rule (out-of-enum tag,
	// oversized regularity list, forbidden phrase). Carries a repair hint.
	KindPolicy

	// KindDuplicate marks a record rejected by the aggregator because its
	// fingerprint was already accepted. An outcome, not a failure.
	KindDuplicate

	// KindCancelled marks an instance abandoned by scheduler cancellation.
	KindCancelled

	// KindMismatch marks a completed instance whose final answer disagrees
	// with the ground-truth label.
	KindMismatch
)

// String returns the failure kind label used in logs and failure entries.
func (k Kind) String() string {
	switch k {
	case KindRender:
		return "render"
	case KindProviderTransient:
		return "provider_transient"
	case KindProviderFatal:
		return "provider_fatal"
	case KindTimeout:
		return "timeout"
	case KindParse:
		return "parse"
	case KindPolicy:
		return "policy"
	case KindDuplicate:
		return "duplicate"
	case KindCancelled:
		return "cancelled"
	case KindMismatch:
		return "answer_mismatch"
	default:
		return "unknown"
	}
}

// Retryable reports whether a failure of this kind may be retried.
func (k Kind) Retryable() bool {
	switch k {
	case KindProviderTransient, KindTimeout, KindParse, KindPolicy:
		return true
	default:
		return false
	}
}

// Error is the typed error flowing through the pipeline.
// Stage and Section narrow the failure location; Hint, when present, is a
// repair instruction appended to the prompt on the next retry attempt.
type Error struct {
	Kind    Kind
	Stage   string
	Section string
	Hint    string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Stage != "" {
		msg += " [" + e.Stage
		if e.Section != "" {
			msg += "/" + e.Section
		}
		msg += "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the failure kind from an error chain.
// Untyped errors from a provider default to transient so that one-off
// network failures get retried; context errors map to timeout/cancelled.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindProviderTransient
}

// HintOf extracts the repair hint from an error chain, if any.
func HintOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Hint
	}
	return ""
}

// TransientProvider wraps a provider error as retryable.
// Providers use this for rate limits, 5xx responses, and network failures.
func TransientProvider(err error) error {
	return &Error{Kind: KindProviderTransient, Err: err}
}

// FatalProvider wraps a provider error as non-retryable.
// Providers use this for 4xx responses other than rate limiting.
func FatalProvider(err error) error {
	return &Error{Kind: KindProviderFatal, Err: err}
}

func renderError(stage string, err error) error {
	return &Error{Kind: KindRender, Stage: stage, Err: err}
}

func parseError(stage, section, format string, args ...any) error {
	return &Error{
		Kind:    KindParse,
		Stage:   stage,
		Section: section,
		Hint:    fmt.Sprintf("the %s section was missing or malformed; reply with every required tag, balanced and in order", section),
		Err:     fmt.Errorf(format, args...),
	}
}

func policyError(stage, section, hint, format string, args ...any) error {
	return &Error{
		Kind:    KindPolicy,
		Stage:   stage,
		Section: section,
		Hint:    hint,
		Err:     fmt.Errorf(format, args...),
	}
}
