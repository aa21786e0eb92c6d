// Command enigma runs the puzzle dataset pipeline over a JSON file of
// puzzle instances, writing accepted records and a failure log as JSONL.
//
//	enigma -input puzzles.json -config run.yaml
//
// Interrupting a run is safe: progress is persisted incrementally and a
// rerun with the same output files skips already-completed instances.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/quietfold/enigma"
	"github.com/quietfold/enigma/anthropic"
	"github.com/quietfold/enigma/gemini"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to YAML config (optional)")
		inputPath   = flag.String("input", "", "path to puzzle instances JSON (required)")
		concurrency = flag.Int("concurrency", 0, "override batch concurrency")
		devLog      = flag.Bool("dev", false, "development (human-readable) logging")
	)
	flag.Parse()

	logger := newLogger(*devLog)
	defer logger.Sync() //nolint:errcheck
	sugar := logger.Sugar()

	if *inputPath == "" {
		sugar.Fatal("missing required -input flag")
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		sugar.Fatalw("config load failed", "error", err)
	}
	if *concurrency > 0 {
		cfg.Batch.Concurrency = *concurrency
	}

	instances, err := loadInstances(*inputPath)
	if err != nil {
		sugar.Fatalw("instance load failed", "input", *inputPath, "error", err)
	}
	sugar.Infow("instances loaded", "input", *inputPath, "count", len(instances))

	provider, err := buildProvider(cfg)
	if err != nil {
		sugar.Fatalw("provider setup failed", "provider", cfg.Provider.Name, "error", err)
	}

	invokerOpts := []enigma.InvokerOption{
		enigma.WithMaxCallAttempts(cfg.Invoker.MaxCallAttempts),
		enigma.WithBackoffDelays(time.Duration(cfg.Invoker.BaseDelay), time.Duration(cfg.Invoker.MaxDelay)),
		enigma.WithCallTimeout(time.Duration(cfg.Invoker.CallTimeout)),
		enigma.WithRequestDelay(time.Duration(cfg.Invoker.RequestDelay)),
	}
	if cfg.Invoker.RateLimit.RPS > 0 {
		invokerOpts = append(invokerOpts, enigma.WithRateLimit(cfg.Invoker.RateLimit.RPS, cfg.Invoker.RateLimit.Burst))
	}
	invoker := enigma.NewInvoker(provider, invokerOpts...)

	stages := enigma.DefaultStages(enigma.StageConfig{
		FigurePhrases: cfg.Pipeline.FigurePhrases,
		Temperature:   cfg.Pipeline.Temperature,
		MaxTokens:     cfg.Pipeline.MaxTokens,
	})
	orch, err := enigma.NewOrchestrator(stages, invoker,
		enigma.WithMaxStageAttempts(cfg.Pipeline.MaxStageAttempts),
		enigma.WithAnswerCheck(!cfg.Pipeline.SkipAnswerCheck),
	)
	if err != nil {
		sugar.Fatalw("orchestrator setup failed", "error", err)
	}

	agg, err := enigma.NewAggregator(cfg.Output.Dataset, cfg.Output.Failures, cfg.Policy())
	if err != nil {
		sugar.Fatalw("aggregator setup failed", "error", err)
	}
	defer agg.Close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sugar.Infow("batch starting",
		"provider", provider.Name(),
		"model", cfg.Provider.Model,
		"concurrency", cfg.Batch.Concurrency,
		"dataset", cfg.Output.Dataset,
	)

	report, runErr := enigma.NewScheduler(orch, agg, cfg.Batch.Concurrency).Run(ctx, instances)

	sugar.Infow("batch finished",
		"batch_id", report.BatchID,
		"total", report.Total,
		"complete", report.Complete,
		"failed", report.Failed,
		"duplicate", report.Duplicate,
		"skipped", report.Skipped,
	)
	for kind, n := range report.ByKind {
		sugar.Infow("failure breakdown", "kind", kind, "count", n)
	}
	if runErr != nil {
		sugar.Errorw("batch aborted", "error", runErr)
		os.Exit(1)
	}
}

func newLogger(dev bool) *zap.Logger {
	var logger *zap.Logger
	var err error
	if dev {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger setup failed: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func buildProvider(cfg Config) (enigma.Provider, error) {
	switch strings.ToLower(cfg.Provider.Name) {
	case "", "mock":
		return enigma.NewMockProvider(), nil
	case "anthropic":
		key := os.Getenv(cfg.Provider.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("env var %s is empty", cfg.Provider.APIKeyEnv)
		}
		return anthropic.New(anthropic.Config{
			APIKey:  key,
			Model:   cfg.Provider.Model,
			BaseURL: cfg.Provider.BaseURL,
			Timeout: time.Duration(cfg.Provider.Timeout),
		}), nil
	case "gemini":
		key := os.Getenv(cfg.Provider.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("env var %s is empty", cfg.Provider.APIKeyEnv)
		}
		return gemini.New(gemini.Config{
			APIKey:  key,
			Model:   cfg.Provider.Model,
			BaseURL: cfg.Provider.BaseURL,
			Timeout: time.Duration(cfg.Provider.Timeout),
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider.Name)
	}
}

// instanceJSON is the on-disk shape of one puzzle, matching the source
// dataset exports: numeric or string ids, options as a label map, and the
// explanation as either a string or a list of lines.
type instanceJSON struct {
	ID            flexibleID        `json:"id"`
	Prompt        string            `json:"prompt"`
	Options       map[string]string `json:"options"`
	Image         string            `json:"image"`
	CorrectAnswer string            `json:"correct_answer"`
	Explanation   json.RawMessage   `json:"explanation"`
}

// flexibleID accepts both numeric and string ids.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %s", data)
	}
	*f = flexibleID(n.String())
	return nil
}

func loadInstances(path string) ([]enigma.PuzzleInstance, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw []instanceJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse instances: %w", err)
	}

	instances := make([]enigma.PuzzleInstance, 0, len(raw))
	for _, r := range raw {
		inst := enigma.PuzzleInstance{
			ID:          string(r.ID),
			Question:    r.Prompt,
			Answer:      strings.TrimSpace(r.CorrectAnswer),
			Explanation: explanationText(r.Explanation),
		}

		labels := make([]string, 0, len(r.Options))
		for label := range r.Options {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			inst.Options = append(inst.Options, enigma.Option{Label: label, Content: r.Options[label]})
		}

		if r.Image != "" {
			img, err := enigma.LoadImage(r.Image)
			if err != nil {
				return nil, fmt.Errorf("instance %s: %w", inst.ID, err)
			}
			inst.Image = img
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// explanationText accepts both string and list-of-lines encodings.
func explanationText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var lines []string
	if err := json.Unmarshal(raw, &lines); err == nil {
		return strings.Join(lines, "\n")
	}
	return ""
}
