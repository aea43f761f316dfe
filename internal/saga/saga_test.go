package saga

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

func step(name string, calls *[]string, runErr error) Step {
	return Step{
		Name: name,
		Run: func(ctx context.Context) error {
			if runErr != nil {
				return runErr
			}
			*calls = append(*calls, "run:"+name)
			return nil
		},
		Compensate: func(ctx context.Context) error {
			*calls = append(*calls, "undo:"+name)
			return nil
		},
	}
}

func TestExecuteRunsStepsInOrder(t *testing.T) {
	runner := NewRunner(zap.NewNop())

	var calls []string
	err := runner.Execute(context.Background(), "test", []Step{
		step("a", &calls, nil),
		step("b", &calls, nil),
		step("c", &calls, nil),
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	want := []string{"run:a", "run:b", "run:c"}
	if len(calls) != len(want) {
		t.Fatalf("expected %v, got %v", want, calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, calls)
		}
	}
}

func TestExecuteCompensatesInReverse(t *testing.T) {
	runner := NewRunner(zap.NewNop())

	boom := errors.New("boom")
	var calls []string
	err := runner.Execute(context.Background(), "test", []Step{
		step("a", &calls, nil),
		step("b", &calls, nil),
		step("c", &calls, boom),
	})

	var aborted *AbortedError
	if !errors.As(err, &aborted) {
		t.Fatalf("expected AbortedError, got %v", err)
	}
	if aborted.Step != "c" {
		t.Fatalf("expected failure at step c, got %s", aborted.Step)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected cause to unwrap")
	}

	want := []string{"run:a", "run:b", "undo:b", "undo:a"}
	if len(calls) != len(want) {
		t.Fatalf("expected %v, got %v", want, calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, calls)
		}
	}
}

func TestExecutePartialFailure(t *testing.T) {
	runner := NewRunner(zap.NewNop())

	boom := errors.New("boom")
	undoFailed := errors.New("undo failed")
	var calls []string

	steps := []Step{
		step("a", &calls, nil),
		{
			Name: "b",
			Run: func(ctx context.Context) error {
				calls = append(calls, "run:b")
				return nil
			},
			Compensate: func(ctx context.Context) error {
				calls = append(calls, "undo:b")
				return undoFailed
			},
		},
		step("c", &calls, boom),
	}

	err := runner.Execute(context.Background(), "test", steps)

	var partial *PartialFailureError
	if !errors.As(err, &partial) {
		t.Fatalf("expected PartialFailureError, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected cause to unwrap")
	}
	if len(partial.Failures) != 1 || partial.Failures[0].Step != "b" {
		t.Fatalf("expected failure recorded for step b, got %+v", partial.Failures)
	}

	// A failed compensation does not stop the pass: a still gets undone,
	// and b is attempted exactly once.
	want := []string{"run:a", "run:b", "undo:b", "undo:a"}
	if len(calls) != len(want) {
		t.Fatalf("expected %v, got %v", want, calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, calls)
		}
	}
}

func TestExecuteNilCompensateSkipped(t *testing.T) {
	runner := NewRunner(zap.NewNop())

	boom := errors.New("boom")
	var calls []string
	err := runner.Execute(context.Background(), "test", []Step{
		{
			Name: "a",
			Run: func(ctx context.Context) error {
				calls = append(calls, "run:a")
				return nil
			},
		},
		step("b", &calls, boom),
	})

	var aborted *AbortedError
	if !errors.As(err, &aborted) {
		t.Fatalf("expected AbortedError, got %v", err)
	}
	if len(calls) != 1 || calls[0] != "run:a" {
		t.Fatalf("expected only run:a, got %v", calls)
	}
}

func TestCompensationRunsAfterCancel(t *testing.T) {
	runner := NewRunner(zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	boom := errors.New("boom")

	compensated := false
	err := runner.Execute(ctx, "test", []Step{
		{
			Name: "a",
			Run:  func(ctx context.Context) error { return nil },
			Compensate: func(ctx context.Context) error {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				compensated = true
				return nil
			},
		},
		{
			Name: "b",
			Run: func(ctx context.Context) error {
				cancel()
				return boom
			},
		},
	})

	var aborted *AbortedError
	if !errors.As(err, &aborted) {
		t.Fatalf("expected AbortedError, got %v", err)
	}
	if !compensated {
		t.Fatal("expected compensation to run despite canceled context")
	}
}

func TestFirstStepFailureNoCompensation(t *testing.T) {
	runner := NewRunner(zap.NewNop())

	boom := errors.New("boom")
	var calls []string
	err := runner.Execute(context.Background(), "test", []Step{
		step("a", &calls, boom),
		step("b", &calls, nil),
	})

	var aborted *AbortedError
	if !errors.As(err, &aborted) {
		t.Fatalf("expected AbortedError, got %v", err)
	}
	if len(calls) != 0 {
		t.Fatalf("expected no calls, got %v", calls)
	}
}
