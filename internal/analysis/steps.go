// Package analysis chains the provider clients into a website profitability
// report. Unlike the clients it is fail-hard: the first step error aborts
// the run and is returned to the caller.
package analysis

import (
	"context"
	"fmt"
)

// ProgressFunc receives coarse progress in percent. Returning an error (for
// example because the job was cancelled) stops the run before the next step.
type ProgressFunc func(ctx context.Context, percent int, status string) error

// Step is one unit of work occupying the [Start, End] slice of overall progress.
type Step struct {
	Name   string
	Start  int
	End    int
	Status string
	Run    func(ctx context.Context) error
}

// StepError carries the name of the step that failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s step failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

const completeStatus = "Analysis complete"

// RunSteps runs steps in order. Progress is reported at each step start and
// once with 100 after the last step. A step that is already running is never
// interrupted by a progress error.
func RunSteps(ctx context.Context, steps []Step, progress ProgressFunc) error {
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return &StepError{Step: s.Name, Err: err}
		}
		if err := report(ctx, progress, s.Start, s.Status); err != nil {
			return &StepError{Step: s.Name, Err: err}
		}
		if err := s.Run(ctx); err != nil {
			return &StepError{Step: s.Name, Err: err}
		}
	}
	return report(ctx, progress, 100, completeStatus)
}

func report(ctx context.Context, progress ProgressFunc, percent int, status string) error {
	if progress == nil {
		return nil
	}
	return progress(ctx, max(0, min(100, percent)), status)
}

// rescale maps the steps' combined range onto 0-100.
func rescale(steps []Step) []Step {
	if len(steps) == 0 {
		return steps
	}
	lo, hi := steps[0].Start, steps[len(steps)-1].End
	if hi <= lo {
		return steps
	}
	out := make([]Step, len(steps))
	for i, s := range steps {
		s.Start = (s.Start - lo) * 100 / (hi - lo)
		s.End = (s.End - lo) * 100 / (hi - lo)
		out[i] = s
	}
	return out
}
