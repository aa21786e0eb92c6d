package enigma

import "github.com/zoobzio/capitan"

// Signals for hook events.
var (
	ProviderCallStarted   = capitan.NewSignal("puzzle.provider.call.started", "Provider call started")
	ProviderCallCompleted = capitan.NewSignal("puzzle.provider.call.completed", "Provider call completed")
	ProviderCallFailed    = capitan.NewSignal("puzzle.provider.call.failed", "Provider call failed")
	StageStarted          = capitan.NewSignal("puzzle.stage.started", "Stage started")
	StageCompleted        = capitan.NewSignal("puzzle.stage.completed", "Stage completed")
	StageRetried          = capitan.NewSignal("puzzle.stage.retried", "Stage retried")
	StageFailed           = capitan.NewSignal("puzzle.stage.failed", "Stage failed")
	InstanceStarted       = capitan.NewSignal("puzzle.instance.started", "Instance started")
	InstanceCompleted     = capitan.NewSignal("puzzle.instance.completed", "Instance completed")
	InstanceFailed        = capitan.NewSignal("puzzle.instance.failed", "Instance failed")
	RecordAccepted        = capitan.NewSignal("puzzle.record.accepted", "Record accepted")
	RecordDuplicate       = capitan.NewSignal("puzzle.record.duplicate", "Record duplicate")
	BatchStarted          = capitan.NewSignal("puzzle.batch.started", "Batch started")
	BatchCompleted        = capitan.NewSignal("puzzle.batch.completed", "Batch completed")
)

// Keys for hook event fields.
var (
	// Identification.
	PuzzleIDKey  = capitan.NewStringKey("puzzle.id")
	StageKey     = capitan.NewStringKey("puzzle.stage")
	BatchIDKey   = capitan.NewStringKey("puzzle.batch.id")
	RequestIDKey = capitan.NewStringKey("puzzle.request.id")

	// Attempt accounting.
	AttemptKey      = capitan.NewIntKey("puzzle.attempt")
	CallAttemptsKey = capitan.NewIntKey("puzzle.call.attempts")

	// Provider information.
	ProviderKey = capitan.NewStringKey("puzzle.provider")
	ModelKey    = capitan.NewStringKey("puzzle.model")

	// Outcome data.
	KindKey        = capitan.NewStringKey("puzzle.failure.kind")
	ErrorKey       = capitan.NewStringKey("puzzle.error")
	ResponseKey    = capitan.NewStringKey("puzzle.response")
	HintKey        = capitan.NewStringKey("puzzle.repair.hint")
	FingerprintKey = capitan.NewStringKey("puzzle.fingerprint")

	// Provider metrics.
	PromptTokensKey     = capitan.NewIntKey("puzzle.tokens.prompt")
	CompletionTokensKey = capitan.NewIntKey("puzzle.tokens.completion")
	TotalTokensKey      = capitan.NewIntKey("puzzle.tokens.total")
	DurationMsKey       = capitan.NewIntKey("puzzle.duration.ms")
	HTTPStatusCodeKey   = capitan.NewIntKey("puzzle.http.status.code")

	// Batch counters.
	TotalCountKey     = capitan.NewIntKey("puzzle.batch.total")
	CompleteCountKey  = capitan.NewIntKey("puzzle.batch.complete")
	FailedCountKey    = capitan.NewIntKey("puzzle.batch.failed")
	DuplicateCountKey = capitan.NewIntKey("puzzle.batch.duplicate")
	SkippedCountKey   = capitan.NewIntKey("puzzle.batch.skipped")
)
