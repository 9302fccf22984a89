// Package billing holds the gateway-neutral result model: the Outcome of a
// single remote call and the Chain that sequences several of them into one
// logical operation.
package billing

// Result is the externally visible shape of a gateway operation. Both a
// single Outcome and a Chain satisfy it, so an adapter can return either.
type Result interface {
	Success() bool
	Message() string
	Params() Params
	Authorization() string
	Test() bool
}

// Outcome is the normalized result of one remote call. It is immutable once
// constructed.
type Outcome struct {
	success       bool
	message       string
	params        Params
	authorization string
	test          bool
	testKnown     bool
}

// OutcomeOption sets optional fields at construction time.
type OutcomeOption func(*Outcome)

// WithAuthorization sets the identifier later calls use to reference this result.
func WithAuthorization(id string) OutcomeOption {
	return func(o *Outcome) {
		o.authorization = id
	}
}

// WithTestMode records whether the gateway reported a test-mode transaction.
func WithTestMode(test bool) OutcomeOption {
	return func(o *Outcome) {
		o.test = test
		o.testKnown = true
	}
}

// NewOutcome constructs an Outcome. The message is taken as-is.
func NewOutcome(success bool, message string, params Params, opts ...OutcomeOption) Outcome {
	o := Outcome{
		success: success,
		message: message,
		params:  params.clone(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Succeeded is shorthand for NewOutcome(true, ...).
func Succeeded(message string, params Params, opts ...OutcomeOption) Outcome {
	return NewOutcome(true, message, params, opts...)
}

// Failed is shorthand for NewOutcome(false, ...).
func Failed(message string, params Params, opts ...OutcomeOption) Outcome {
	return NewOutcome(false, message, params, opts...)
}

func (o Outcome) Success() bool { return o.success }

func (o Outcome) Message() string { return o.message }

// Params returns a copy of the data bag.
func (o Outcome) Params() Params { return o.params.clone() }

// Authorization returns the identifier, or "" when none was supplied.
func (o Outcome) Authorization() string { return o.authorization }

// Test reports the test-mode flag; false when unknown.
func (o Outcome) Test() bool { return o.test }

// TestKnown reports whether the gateway supplied a test-mode flag at all.
func (o Outcome) TestKnown() bool { return o.testKnown }
