package enigma

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/zoobzio/capitan"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the stock in-flight bound, matching the worker
// counts the dataset was originally collected with.
const DefaultConcurrency = 5

// Report summarizes one batch run.
type Report struct {
	BatchID   string
	Total     int
	Complete  int
	Failed    int
	Duplicate int
	Skipped   int // already in the dataset from a previous run
	ByKind    map[string]int
}

// Scheduler fans the orchestrator out across many puzzle instances with a
// bounded worker pool. One instance's failure never aborts the others; only
// aggregator write errors (which would corrupt resumability) cancel the
// batch. Cancellation is cooperative: in-flight calls finish or hit their
// own timeout, no partial record is committed, and remaining instances are
// failed with a cancelled reason.
type Scheduler struct {
	orch  *Orchestrator
	agg   *Aggregator
	limit int
}

// NewScheduler creates a Scheduler with the given concurrency bound.
func NewScheduler(orch *Orchestrator, agg *Aggregator, limit int) *Scheduler {
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	return &Scheduler{orch: orch, agg: agg, limit: limit}
}

// Run processes all instances and returns the batch report. Instances whose
// ids are already persisted are skipped, so an interrupted batch can be
// rerun against the same output files.
func (s *Scheduler) Run(ctx context.Context, instances []PuzzleInstance) (Report, error) {
	report := Report{
		BatchID: uuid.New().String(),
		Total:   len(instances),
		ByKind:  make(map[string]int),
	}
	var mu sync.Mutex

	capitan.Info(ctx, BatchStarted,
		BatchIDKey.Field(report.BatchID),
		TotalCountKey.Field(report.Total),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limit)

	for _, inst := range instances {
		if s.agg.SeenID(inst.ID) {
			mu.Lock()
			report.Skipped++
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			// Parent cancellation: mark without running. gctx also trips
			// when another worker hit an aggregator write error.
			if gctx.Err() != nil {
				rec := NewRecord(inst)
				rec.fail("", KindCancelled, gctx.Err())
				if err := s.agg.RecordFailure(rec); err != nil {
					return err
				}
				mu.Lock()
				report.Failed++
				report.ByKind[KindCancelled.String()]++
				mu.Unlock()
				return nil
			}

			rec := s.orch.Run(gctx, inst)

			switch rec.State {
			case StateComplete:
				err := s.agg.Accept(gctx, rec)
				switch {
				case err == nil:
					mu.Lock()
					report.Complete++
					mu.Unlock()
				case KindOf(err) == KindDuplicate && isPipelineErr(err):
					mu.Lock()
					report.Duplicate++
					mu.Unlock()
				default:
					// Dataset write failure: resumability is gone, stop
					// the batch.
					return err
				}
			default:
				if err := s.agg.RecordFailure(rec); err != nil {
					return err
				}
				mu.Lock()
				report.Failed++
				report.ByKind[rec.FailureKind.String()]++
				mu.Unlock()
			}
			return nil
		})
	}

	err := g.Wait()

	capitan.Info(ctx, BatchCompleted,
		BatchIDKey.Field(report.BatchID),
		CompleteCountKey.Field(report.Complete),
		FailedCountKey.Field(report.Failed),
		DuplicateCountKey.Field(report.Duplicate),
		SkippedCountKey.Field(report.Skipped),
	)
	return report, err
}

// isPipelineErr reports whether err carries a typed pipeline error, as
// opposed to KindOf's transient default for untyped errors.
func isPipelineErr(err error) bool {
	var pe *Error
	return errors.As(err, &pe)
}
