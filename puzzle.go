package enigma

import (
	"encoding/base64"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// AnswerProblematic is the sentinel answer label for puzzles whose published
// answer key is wrong or ambiguous.
const AnswerProblematic = "Problematic"

// Option is one answer choice of a puzzle.
type Option struct {
	Label   string `json:"label"`   // e.g. "A"
	Content string `json:"content"` // choice text
}

// ImageRef references the puzzle image attached to multimodal stage calls.
// Data holds the raw bytes; providers base64-encode on the wire.
type ImageRef struct {
	Path string
	MIME string
	Data []byte
}

// LoadImage reads an image file and guesses its MIME type from the
// extension, defaulting to PNG/JPEG like the dataset tooling expects.
func LoadImage(path string) (*ImageRef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	mt := mime.TypeByExtension(filepath.Ext(path))
	if mt == "" {
		if strings.HasSuffix(strings.ToLower(path), ".png") {
			mt = "image/png"
		} else {
			mt = "image/jpeg"
		}
	}
	return &ImageRef{Path: path, MIME: mt, Data: data}, nil
}

// Base64 returns the image bytes encoded for JSON transport.
func (r *ImageRef) Base64() string {
	return base64.StdEncoding.EncodeToString(r.Data)
}

// PuzzleInstance is the immutable input to one orchestrator run.
type PuzzleInstance struct {
	ID          string    // stable identifier within the source dataset
	Question    string    // puzzle question text
	Options     []Option  // ordered answer choices, labels unique
	Image       *ImageRef // optional puzzle image
	Answer      string    // ground-truth label, or AnswerProblematic
	Explanation string    // source explanation to clean up and abstract
}

// Validate checks the structural invariants of an instance.
// A violation is a configuration bug in the input dataset, not something a
// retry can fix.
func (p PuzzleInstance) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("instance missing id")
	}
	if strings.TrimSpace(p.Question) == "" {
		return fmt.Errorf("instance %s: empty question", p.ID)
	}
	if len(p.Options) == 0 {
		return fmt.Errorf("instance %s: no options", p.ID)
	}
	seen := make(map[string]bool, len(p.Options))
	for _, o := range p.Options {
		if o.Label == "" {
			return fmt.Errorf("instance %s: option with empty label", p.ID)
		}
		if seen[o.Label] {
			return fmt.Errorf("instance %s: duplicate option label %q", p.ID, o.Label)
		}
		seen[o.Label] = true
	}
	if p.Answer != AnswerProblematic && !seen[p.Answer] {
		return fmt.Errorf("instance %s: answer %q is not an option label", p.ID, p.Answer)
	}
	return nil
}

// Labels returns the option labels in declaration order.
func (p PuzzleInstance) Labels() []string {
	labels := make([]string, len(p.Options))
	for i, o := range p.Options {
		labels[i] = o.Label
	}
	return labels
}

// OptionsBlock renders the choices as "label: content" lines, the form all
// stage templates embed.
func (p PuzzleInstance) OptionsBlock() string {
	var b strings.Builder
	for i, o := range p.Options {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(o.Label)
		b.WriteString(": ")
		b.WriteString(o.Content)
	}
	return b.String()
}

// State tracks an instance through the orchestrator's state machine.
type State int

const (
	// StatePending precedes the first stage call.
	StatePending State = iota
	// StateRunning covers all stage execution.
	StateRunning
	// StateComplete means every required stage reported valid.
	StateComplete
	// StateFailed means retries were exhausted or a fatal error occurred.
	StateFailed
)

// String returns the state label.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StageStatus is the validation outcome recorded on a StageResult.
type StageStatus int

const (
	// StageValid means the parsed output passed all stage rules.
	StageValid StageStatus = iota
	// StageRetryable means the attempt failed in a way worth retrying.
	StageRetryable
	// StageFatal means the attempt failed terminally.
	StageFatal
)

// String returns the status label.
func (s StageStatus) String() string {
	switch s {
	case StageValid:
		return "valid"
	case StageRetryable:
		return "retryable-invalid"
	case StageFatal:
		return "fatal-invalid"
	default:
		return "unknown"
	}
}

// StageResult is the outcome of one stage for one instance.
// It reflects the final attempt; Attempts counts stage-level retries and
// CallAttempts sums provider calls across them.
type StageResult struct {
	Stage        string
	Raw          string
	Sections     map[string]string
	Status       StageStatus
	Attempts     int
	CallAttempts int
	Err          string
}

// PuzzleRecord aggregates all stage results for one instance plus the
// derived dataset fields. It is owned by exactly one orchestrator run until
// finalized; the aggregator is the only component that reads it afterwards.
type PuzzleRecord struct {
	Instance PuzzleInstance
	State    State
	Stages   []StageResult

	// Derived fields, populated by successive stage completions.
	Explanation    string   // cleaned explanation
	Regularities   []string // at most MaxRegularities entries
	QuestionType   string
	KnowledgePoint string
	Reasoning      string
	Answer         string

	// Failure details, populated on terminal failure.
	FailureStage string
	FailureKind  Kind
	FailureErr   string
}

// NewRecord creates the empty record that tracks one instance.
func NewRecord(inst PuzzleInstance) *PuzzleRecord {
	return &PuzzleRecord{Instance: inst, State: StatePending}
}

// AttemptCounts returns per-stage provider call counts for provenance.
func (r *PuzzleRecord) AttemptCounts() map[string]int {
	counts := make(map[string]int, len(r.Stages))
	for _, s := range r.Stages {
		counts[s.Stage] = s.CallAttempts
	}
	return counts
}

// LastRaw returns the raw model text of the most recent stage attempt,
// for failure log entries.
func (r *PuzzleRecord) LastRaw() string {
	if len(r.Stages) == 0 {
		return ""
	}
	return r.Stages[len(r.Stages)-1].Raw
}

func (r *PuzzleRecord) fail(stage string, kind Kind, err error) {
	r.State = StateFailed
	r.FailureStage = stage
	r.FailureKind = kind
	if err != nil {
		r.FailureErr = err.Error()
	}
}

// PersistedRecord is the JSONL line written for each accepted record.
type PersistedRecord struct {
	ID             string         `json:"id"`
	Explanation    string         `json:"explanation"`
	Regularities   []string       `json:"regularities"`
	QuestionType   string         `json:"question_type"`
	KnowledgePoint string         `json:"knowledge_point"`
	Reasoning      string         `json:"reasoning"`
	Answer         string         `json:"answer"`
	Attempts       map[string]int `json:"attempts"`
	Fingerprint    string         `json:"fingerprint"`
}

// FailureEntry is the JSONL line written for each failed instance so it can
// be inspected or re-queued offline.
type FailureEntry struct {
	ID       string `json:"id"`
	Stage    string `json:"stage"`
	Raw      string `json:"raw_response"`
	Kind     string `json:"kind"`
	Attempts int    `json:"attempts"`
	Err      string `json:"error,omitempty"`
}
