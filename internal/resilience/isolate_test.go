package resilience

import (
	"context"
	"errors"
	"testing"
)

func TestForEachIsolated_AllOutcomes(t *testing.T) {
	items := []string{"a", "b", "c", "d"}

	results := ForEachIsolated(context.Background(), items, func(_ context.Context, item string) (Outcome, error) {
		switch item {
		case "a":
			return OutcomeCreated, nil
		case "b":
			return OutcomeUpdated, nil
		case "c":
			return OutcomeSkipped, nil
		default:
			return OutcomeFailed, errors.New("bad item")
		}
	})

	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}

	tally := Reduce(results)
	if tally.Created != 1 || tally.Updated != 1 || tally.Skipped != 1 || tally.Failed != 1 {
		t.Errorf("unexpected tally: %+v", tally)
	}
	if tally.Total != 4 {
		t.Errorf("expected total 4, got %d", tally.Total)
	}
}

func TestForEachIsolated_ErrorDoesNotStopIteration(t *testing.T) {
	items := []int{1, 2, 3}

	var processed []int
	results := ForEachIsolated(context.Background(), items, func(_ context.Context, item int) (Outcome, error) {
		processed = append(processed, item)
		if item == 2 {
			return OutcomeCreated, errors.New("boom")
		}
		return OutcomeCreated, nil
	})

	if len(processed) != 3 {
		t.Fatalf("expected all items processed, got %v", processed)
	}
	// An error forces the outcome to failed regardless of what fn returned.
	if results[1].Outcome != OutcomeFailed {
		t.Errorf("expected failed outcome, got %s", results[1].Outcome)
	}
	if results[1].Err == nil {
		t.Error("expected error preserved on result")
	}
}

func TestForEachIsolated_PanicRecovered(t *testing.T) {
	items := []int{1, 2, 3}

	results := ForEachIsolated(context.Background(), items, func(_ context.Context, item int) (Outcome, error) {
		if item == 2 {
			panic("malformed item")
		}
		return OutcomeCreated, nil
	})

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[1].Outcome != OutcomeFailed {
		t.Errorf("expected panic to surface as failure, got %s", results[1].Outcome)
	}
	if results[1].Err == nil {
		t.Error("expected panic converted to error")
	}
}

func TestForEachIsolated_ContextCancelStopsEarly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	items := []int{1, 2, 3, 4, 5}

	results := ForEachIsolated(ctx, items, func(_ context.Context, item int) (Outcome, error) {
		if item == 2 {
			cancel()
		}
		return OutcomeUpdated, nil
	})

	// Items processed before cancellation keep their results.
	if len(results) != 2 {
		t.Fatalf("expected 2 results before cancellation, got %d", len(results))
	}
	for _, r := range results {
		if r.Outcome != OutcomeUpdated {
			t.Errorf("unexpected outcome %s", r.Outcome)
		}
	}
}

func TestReduce_Empty(t *testing.T) {
	tally := Reduce[string](nil)
	if tally.Total != 0 {
		t.Errorf("expected empty tally, got %+v", tally)
	}
}
