package billing

import "fmt"

// Step performs one remote call. A failed Outcome is an expected result;
// a non-nil error is a defect and aborts the chain.
type Step interface {
	Run() (Outcome, error)
}

// StepFunc adapts a function to Step.
type StepFunc func() (Outcome, error)

func (f StepFunc) Run() (Outcome, error) { return f() }

// StepError reports a defect raised by the step at Index.
type StepError struct {
	Index int
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d: %v", e.Index, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
