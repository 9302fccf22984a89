package billing

import "errors"

// ErrNilStep is returned when Process is handed a nil step.
var ErrNilStep = errors.New("nil step")

// Chain runs steps strictly in order and keeps every Outcome they produce.
//
// A Chain never decides on its own to stop: callers check CanContinue (or
// Success) after each Process call and return early when they choose to.
// It is not safe for concurrent use.
type Chain struct {
	outcomes []Outcome
	primary  int
	useFirst bool
	observer func(index int, o Outcome)
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// UseFirstOutcome makes the first recorded outcome the headline of the chain
// instead of the most recent one.
func UseFirstOutcome() ChainOption {
	return func(c *Chain) {
		c.useFirst = true
	}
}

// WithObserver registers a callback invoked after each outcome is recorded.
func WithObserver(fn func(index int, o Outcome)) ChainOption {
	return func(c *Chain) {
		c.observer = fn
	}
}

// NewChain constructs an empty Chain. The zero value is also ready to use.
func NewChain(opts ...ChainOption) *Chain {
	c := &Chain{primary: -1}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Process runs step now, records its Outcome and returns it.
// When the step reports a defect nothing is recorded and the error is
// returned as a *StepError.
func (c *Chain) Process(step Step) (Outcome, error) {
	return c.process(step, false)
}

// ProcessIgnoringResult runs step and records its Outcome in the history,
// but the outcome never becomes the chain's headline.
func (c *Chain) ProcessIgnoringResult(step Step) (Outcome, error) {
	return c.process(step, true)
}

func (c *Chain) process(step Step, ignore bool) (Outcome, error) {
	index := len(c.outcomes)
	if step == nil {
		return Outcome{}, &StepError{Index: index, Err: ErrNilStep}
	}
	o, err := step.Run()
	if err != nil {
		return Outcome{}, &StepError{Index: index, Err: err}
	}
	c.record(o, ignore)
	return o, nil
}

// Append records an Outcome produced outside the chain.
func (c *Chain) Append(o Outcome) {
	c.record(o, false)
}

func (c *Chain) record(o Outcome, ignore bool) {
	if len(c.outcomes) == 0 {
		c.primary = -1
	}
	c.outcomes = append(c.outcomes, o)
	index := len(c.outcomes) - 1
	if !ignore && (!c.useFirst || c.primary < 0) {
		c.primary = index
	}
	if c.observer != nil {
		c.observer(index, o)
	}
}

// Outcomes returns the history in execution order.
func (c *Chain) Outcomes() []Outcome {
	out := make([]Outcome, len(c.outcomes))
	copy(out, c.outcomes)
	return out
}

// Len reports how many outcomes have been recorded.
func (c *Chain) Len() int { return len(c.outcomes) }

// Last returns the most recently recorded outcome.
func (c *Chain) Last() (Outcome, bool) {
	if len(c.outcomes) == 0 {
		return Outcome{}, false
	}
	return c.outcomes[len(c.outcomes)-1], true
}

// Primary returns the headline outcome. Outcomes recorded with
// ProcessIgnoringResult are never primary.
func (c *Chain) Primary() (Outcome, bool) {
	if len(c.outcomes) == 0 || c.primary < 0 || c.primary >= len(c.outcomes) {
		return Outcome{}, false
	}
	return c.outcomes[c.primary], true
}

// Success is true when at least one outcome was recorded and all succeeded.
func (c *Chain) Success() bool {
	if len(c.outcomes) == 0 {
		return false
	}
	for _, o := range c.outcomes {
		if !o.Success() {
			return false
		}
	}
	return true
}

// CanContinue reports whether the last recorded outcome succeeded. An empty
// chain can always continue.
func (c *Chain) CanContinue() bool {
	last, ok := c.Last()
	return !ok || last.Success()
}

// FailedStep returns the index and outcome of the first failed step.
func (c *Chain) FailedStep() (int, Outcome, bool) {
	for i, o := range c.outcomes {
		if !o.Success() {
			return i, o, true
		}
	}
	return -1, Outcome{}, false
}

// Message returns the message of the headline outcome. Use FailedStep to
// find which step failed.
func (c *Chain) Message() string {
	p, _ := c.Primary()
	return p.Message()
}

// Params returns the data of the headline outcome.
func (c *Chain) Params() Params {
	p, _ := c.Primary()
	return p.Params()
}

// Authorization returns the identifier of the headline outcome.
func (c *Chain) Authorization() string {
	p, _ := c.Primary()
	return p.Authorization()
}

// Test reports the test-mode flag of the headline outcome.
func (c *Chain) Test() bool {
	p, _ := c.Primary()
	return p.Test()
}

// Run executes every step in order and returns the resulting chain. It
// applies no abort policy; it stops only when a step reports a defect, in
// which case the partial chain is returned with the error.
func Run(steps ...Step) (*Chain, error) {
	c := NewChain()
	for _, step := range steps {
		if _, err := c.Process(step); err != nil {
			return c, err
		}
	}
	return c, nil
}

// History returns the outcomes behind r: the chain's history for a *Chain,
// or the single outcome otherwise.
func History(r Result) []Outcome {
	switch v := r.(type) {
	case nil:
		return nil
	case *Chain:
		if v == nil {
			return nil
		}
		return v.Outcomes()
	case Outcome:
		return []Outcome{v}
	default:
		return []Outcome{NewOutcome(r.Success(), r.Message(), r.Params(), WithAuthorization(r.Authorization()))}
	}
}
