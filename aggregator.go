package enigma

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/zoobzio/capitan"
)

// FingerprintPolicy selects which fields feed the duplicate-detection
// fingerprint. The default covers question + options + answer; explanations
// vary freely between otherwise identical puzzles and are excluded unless
// requested.
type FingerprintPolicy struct {
	Question    bool `yaml:"question"`
	Options     bool `yaml:"options"`
	Answer      bool `yaml:"answer"`
	Explanation bool `yaml:"explanation"`
}

// DefaultFingerprintPolicy returns the stock policy.
func DefaultFingerprintPolicy() FingerprintPolicy {
	return FingerprintPolicy{Question: true, Options: true, Answer: true}
}

var wsRE = regexp.MustCompile(`\s+`)

// normalize lowercases and collapses all whitespace so trivially reformatted
// duplicates still collide.
func normalize(s string) string {
	return strings.TrimSpace(wsRE.ReplaceAllString(strings.ToLower(s), " "))
}

// Fingerprint derives the duplicate-detection key for a record under the
// policy: a sha256 over the selected normalized fields.
func (p FingerprintPolicy) Fingerprint(rec *PuzzleRecord) string {
	h := sha256.New()
	if p.Question {
		h.Write([]byte(normalize(rec.Instance.Question)))
		h.Write([]byte{0})
	}
	if p.Options {
		for _, o := range rec.Instance.Options {
			h.Write([]byte(normalize(o.Label)))
			h.Write([]byte{':'})
			h.Write([]byte(normalize(o.Content)))
			h.Write([]byte{0})
		}
	}
	if p.Answer {
		h.Write([]byte(normalize(rec.Answer)))
		h.Write([]byte{0})
	}
	if p.Explanation {
		h.Write([]byte(normalize(rec.Explanation)))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Aggregator is the single serialization point for dataset writes. It keeps
// the fingerprint index, rejects duplicates (first-seen wins), appends
// accepted records to the dataset file one JSON line at a time, and routes
// failed instances to the failure log. All mutation goes through one mutex;
// workers never touch the files directly.
//
// Both files are opened append-only and re-scanned on construction, so an
// interrupted batch resumes without re-processing or re-emitting records.
type Aggregator struct {
	mu     sync.Mutex
	policy FingerprintPolicy
	seen   map[string]string // fingerprint -> first-seen record id
	done   map[string]bool   // ids already persisted (accepted or failed)
	out    *os.File
	fail   *os.File
}

// NewAggregator opens (creating if needed) the dataset and failure-log files
// and rebuilds the fingerprint index and completed-id set from them.
func NewAggregator(datasetPath, failurePath string, policy FingerprintPolicy) (*Aggregator, error) {
	a := &Aggregator{
		policy: policy,
		seen:   make(map[string]string),
		done:   make(map[string]bool),
	}

	var err error
	if a.out, err = openAppend(datasetPath); err != nil {
		return nil, err
	}
	if a.fail, err = openAppend(failurePath); err != nil {
		a.out.Close()
		return nil, err
	}

	if err := a.loadDataset(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func openAppend(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

func (a *Aggregator) loadDataset() error {
	scanner := bufio.NewScanner(a.out)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec PersistedRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return fmt.Errorf("corrupt dataset line: %w", err)
		}
		if rec.Fingerprint != "" {
			a.seen[rec.Fingerprint] = rec.ID
		}
		a.done[rec.ID] = true
	}
	return scanner.Err()
}

// SeenID reports whether a record with this id is already in the dataset,
// so the scheduler can skip it on resume.
func (a *Aggregator) SeenID(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done[id]
}

// Len returns the number of accepted records.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.done)
}

// Accept persists a completed record unless its fingerprint duplicates an
// earlier one. Duplicates return a KindDuplicate error carrying the
// first-seen id; the record is reported, not retried.
func (a *Aggregator) Accept(ctx context.Context, rec *PuzzleRecord) error {
	if rec.State != StateComplete {
		return fmt.Errorf("record %s is %s, not complete", rec.Instance.ID, rec.State)
	}

	fp := a.policy.Fingerprint(rec)

	a.mu.Lock()
	defer a.mu.Unlock()

	if firstID, ok := a.seen[fp]; ok {
		capitan.Info(ctx, RecordDuplicate,
			PuzzleIDKey.Field(rec.Instance.ID),
			FingerprintKey.Field(fp),
		)
		return &Error{
			Kind: KindDuplicate,
			Err:  fmt.Errorf("record %s duplicates %s", rec.Instance.ID, firstID),
		}
	}

	line, err := json.Marshal(PersistedRecord{
		ID:             rec.Instance.ID,
		Explanation:    rec.Explanation,
		Regularities:   rec.Regularities,
		QuestionType:   rec.QuestionType,
		KnowledgePoint: rec.KnowledgePoint,
		Reasoning:      rec.Reasoning,
		Answer:         rec.Answer,
		Attempts:       rec.AttemptCounts(),
		Fingerprint:    fp,
	})
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.Instance.ID, err)
	}
	if _, err := a.out.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write record %s: %w", rec.Instance.ID, err)
	}

	a.seen[fp] = rec.Instance.ID
	a.done[rec.Instance.ID] = true

	capitan.Info(ctx, RecordAccepted,
		PuzzleIDKey.Field(rec.Instance.ID),
		FingerprintKey.Field(fp),
	)
	return nil
}

// RecordFailure appends a failure-log entry for a failed instance with
// enough detail for manual inspection or re-queueing.
func (a *Aggregator) RecordFailure(rec *PuzzleRecord) error {
	entry := FailureEntry{
		ID:    rec.Instance.ID,
		Stage: rec.FailureStage,
		Raw:   rec.LastRaw(),
		Kind:  rec.FailureKind.String(),
		Err:   rec.FailureErr,
	}
	for _, s := range rec.Stages {
		entry.Attempts += s.CallAttempts
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal failure %s: %w", entry.ID, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.fail.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write failure %s: %w", entry.ID, err)
	}
	return nil
}

// Close releases the underlying files.
func (a *Aggregator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var first error
	if a.out != nil {
		if err := a.out.Close(); err != nil {
			first = err
		}
		a.out = nil
	}
	if a.fail != nil {
		if err := a.fail.Close(); err != nil && first == nil {
			first = err
		}
		a.fail = nil
	}
	return first
}
