package resilience

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Outcome tags the result of processing one item in an isolated iteration.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// ItemResult is the tagged result for a single item.
type ItemResult[T any] struct {
	Item    T
	Outcome Outcome
	Err     error
}

// Tally is the reduction of a tagged-result list.
type Tally struct {
	Created int
	Updated int
	Skipped int
	Failed  int
	Total   int
}

// ForEachIsolated applies fn to each item sequentially, isolating per-item
// failure: an error or panic in fn is captured as OutcomeFailed and
// iteration continues with the next item. One bad item cannot sink the
// batch. Context cancellation stops the iteration; items already processed
// keep their results and the remainder is not attempted.
func ForEachIsolated[T any](ctx context.Context, items []T, fn func(ctx context.Context, item T) (Outcome, error)) []ItemResult[T] {
	results := make([]ItemResult[T], 0, len(items))

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}

		outcome, err := runIsolated(ctx, item, fn)
		if err != nil {
			outcome = OutcomeFailed
		}
		results = append(results, ItemResult[T]{Item: item, Outcome: outcome, Err: err})
	}

	return results
}

// runIsolated invokes fn with panic recovery so a malformed item surfaces as
// an error instead of crashing the run.
func runIsolated[T any](ctx context.Context, item T, fn func(ctx context.Context, item T) (Outcome, error)) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("panic processing item: %v", r)
			zap.L().Error("recovered panic in isolated iteration", zap.Any("panic", r))
		}
	}()
	return fn(ctx, item)
}

// Reduce folds a tagged-result list into counters.
func Reduce[T any](results []ItemResult[T]) Tally {
	t := Tally{Total: len(results)}
	for _, r := range results {
		switch r.Outcome {
		case OutcomeCreated:
			t.Created++
		case OutcomeUpdated:
			t.Updated++
		case OutcomeSkipped:
			t.Skipped++
		default:
			t.Failed++
		}
	}
	return t
}
