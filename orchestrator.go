package enigma

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zoobzio/capitan"
)

// DefaultMaxStageAttempts bounds stage-level retries (parse and policy
// failures), counting the first attempt. Provider retries are accounted
// separately by the Invoker.
const DefaultMaxStageAttempts = 3

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithMaxStageAttempts bounds retries of a stage whose output failed
// parsing or validation.
func WithMaxStageAttempts(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxStageAttempts = n
		}
	}
}

// WithAnswerCheck toggles the final answer-agreement filter. When enabled
// (the default), a completed instance whose final answer disagrees with the
// ground-truth label is failed with an answer_mismatch reason instead of
// entering the dataset.
func WithAnswerCheck(enabled bool) OrchestratorOption {
	return func(o *Orchestrator) {
		o.checkAnswer = enabled
	}
}

// Orchestrator drives one puzzle instance through the fixed stage sequence:
// Pending -> Stage_i_Running -> Stage_i_Valid/Failed -> ... -> Complete | Failed.
//
// On a retryable stage failure it re-invokes the model for that stage up to
// the attempt bound, appending the validator's repair hint to the next
// prompt rendering. Exhausted retries or fatal errors transition the
// instance to Failed with the last reason recorded; instances are never
// silently dropped. No stage is skipped and stage order is fixed.
type Orchestrator struct {
	stages           []StageSpec
	invoker          *Invoker
	maxStageAttempts int
	checkAnswer      bool
}

// NewOrchestrator creates an Orchestrator over the given stage sequence.
// Stage names must be unique and every stage needs a template and a grammar.
func NewOrchestrator(stages []StageSpec, invoker *Invoker, opts ...OrchestratorOption) (*Orchestrator, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("no stages configured")
	}
	if invoker == nil {
		return nil, fmt.Errorf("invoker required")
	}
	seen := make(map[string]bool, len(stages))
	for _, st := range stages {
		if st.Name == "" {
			return nil, fmt.Errorf("stage with empty name")
		}
		if seen[st.Name] {
			return nil, fmt.Errorf("duplicate stage name %q", st.Name)
		}
		seen[st.Name] = true
		if st.Template == "" {
			return nil, fmt.Errorf("stage %s: empty template", st.Name)
		}
		if len(st.Grammar.Sections) == 0 {
			return nil, fmt.Errorf("stage %s: empty grammar", st.Name)
		}
	}

	o := &Orchestrator{
		stages:           stages,
		invoker:          invoker,
		maxStageAttempts: DefaultMaxStageAttempts,
		checkAnswer:      true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run executes all stages for one instance and returns the finalized record.
// Errors never escape: every failure is folded into the record's terminal
// state so the scheduler can report it.
func (o *Orchestrator) Run(ctx context.Context, inst PuzzleInstance) *PuzzleRecord {
	rec := NewRecord(inst)

	if err := inst.Validate(); err != nil {
		rec.fail("", KindRender, err)
		return rec
	}

	rec.State = StateRunning
	capitan.Info(ctx, InstanceStarted, PuzzleIDKey.Field(inst.ID))

	vars := baseVars(inst)
	for _, st := range o.stages {
		res, err := o.runStage(ctx, st, inst, vars)
		rec.Stages = append(rec.Stages, res)
		if err != nil {
			rec.fail(st.Name, KindOf(err), err)
			capitan.Error(ctx, InstanceFailed,
				PuzzleIDKey.Field(inst.ID),
				StageKey.Field(st.Name),
				KindKey.Field(rec.FailureKind.String()),
				ErrorKey.Field(rec.FailureErr),
			)
			return rec
		}
		if st.Carry != nil {
			st.Carry(rec, vars, res.Sections)
		}
	}

	if o.checkAnswer && !answersAgree(inst.Answer, rec.Answer) {
		last := o.stages[len(o.stages)-1].Name
		rec.fail(last, KindMismatch,
			fmt.Errorf("final answer %q disagrees with ground truth %q", rec.Answer, inst.Answer))
		capitan.Error(ctx, InstanceFailed,
			PuzzleIDKey.Field(inst.ID),
			StageKey.Field(last),
			KindKey.Field(KindMismatch.String()),
		)
		return rec
	}

	rec.State = StateComplete
	capitan.Info(ctx, InstanceCompleted, PuzzleIDKey.Field(inst.ID))
	return rec
}

// runStage executes one stage with stage-level retry. The returned result
// reflects the final attempt; a non-nil error means the stage is terminal
// for this instance.
func (o *Orchestrator) runStage(ctx context.Context, st StageSpec, inst PuzzleInstance, vars map[string]string) (StageResult, error) {
	res := StageResult{Stage: st.Name, Status: StageFatal}

	hint := ""
	var lastErr error

	for attempt := 1; attempt <= o.maxStageAttempts; attempt++ {
		res.Attempts = attempt

		if ctx.Err() != nil {
			lastErr = &Error{Kind: KindCancelled, Stage: st.Name, Err: ctx.Err()}
			break
		}

		capitan.Info(ctx, StageStarted,
			PuzzleIDKey.Field(inst.ID),
			StageKey.Field(st.Name),
			AttemptKey.Field(attempt),
		)

		for _, name := range st.Required {
			if _, ok := vars[name]; !ok {
				err := &Error{Kind: KindRender, Stage: st.Name, Err: fmt.Errorf("missing template variable %q", name)}
				res.Err = err.Error()
				return res, err
			}
		}

		prompt, err := RenderTemplate(st.Name, st.Template, vars)
		if err != nil {
			stageErr := attribute(err, st.Name)
			res.Err = stageErr.Error()
			return res, stageErr
		}
		if hint != "" {
			prompt += "\n\nNote: " + hint
		}

		req := Request{Prompt: prompt, Temperature: st.Temperature, MaxTokens: st.MaxTokens}
		if st.Image {
			req.Image = inst.Image
		}

		resp, calls, err := o.invoker.Call(ctx, req)
		res.CallAttempts += calls
		if err != nil {
			// The invoker already exhausted transient retries; whatever
			// comes back is terminal for the instance.
			lastErr = attribute(err, st.Name)
			break
		}
		res.Raw = resp.Content

		sections, err := st.Grammar.Extract(resp.Content)
		if err == nil && st.Validate != nil {
			err = st.Validate(inst, sections)
		}
		if err == nil {
			res.Sections = sections
			res.Status = StageValid
			res.Err = ""
			capitan.Info(ctx, StageCompleted,
				PuzzleIDKey.Field(inst.ID),
				StageKey.Field(st.Name),
				AttemptKey.Field(attempt),
				CallAttemptsKey.Field(res.CallAttempts),
			)
			return res, nil
		}

		lastErr = attribute(err, st.Name)
		res.Err = lastErr.Error()
		if !KindOf(lastErr).Retryable() {
			break
		}

		hint = HintOf(lastErr)
		if hint == "" {
			hint = "follow the required response format exactly:\n" + st.Grammar.Instructions()
		}
		capitan.Info(ctx, StageRetried,
			PuzzleIDKey.Field(inst.ID),
			StageKey.Field(st.Name),
			AttemptKey.Field(attempt),
			KindKey.Field(KindOf(lastErr).String()),
			HintKey.Field(hint),
		)
	}

	if lastErr == nil {
		lastErr = &Error{Kind: KindPolicy, Stage: st.Name, Err: fmt.Errorf("stage attempts exhausted")}
	}
	if KindOf(lastErr).Retryable() {
		res.Status = StageRetryable
	} else {
		res.Status = StageFatal
	}
	res.Err = lastErr.Error()
	capitan.Error(ctx, StageFailed,
		PuzzleIDKey.Field(inst.ID),
		StageKey.Field(st.Name),
		AttemptKey.Field(res.Attempts),
		KindKey.Field(KindOf(lastErr).String()),
		ErrorKey.Field(res.Err),
	)
	return res, lastErr
}

// attribute stamps the stage name onto a pipeline error that lacks one.
func attribute(err error, stage string) error {
	var pe *Error
	if errors.As(err, &pe) {
		if pe.Stage == "" {
			pe.Stage = stage
		}
		return pe
	}
	return &Error{Kind: KindOf(err), Stage: stage, Err: err}
}

// answersAgree compares answer labels the way the dataset filter does:
// trimmed, case-insensitive.
func answersAgree(want, got string) bool {
	return strings.EqualFold(strings.TrimSpace(want), strings.TrimSpace(got))
}
