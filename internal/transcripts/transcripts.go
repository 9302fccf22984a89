// Package transcripts stores the wire transcripts of gateway exchanges.
// Transcripts are scrubbed before they reach a Sink that persists them.
package transcripts

import (
	"context"
	"errors"
	"sync"
	"time"

	"paychain/internal/billing/scrub"
)

// Transcript is one captured request/response exchange.
type Transcript struct {
	ChainID    string
	Gateway    string
	Body       string
	CapturedAt time.Time
}

// Sink receives transcripts.
type Sink interface {
	Record(ctx context.Context, t Transcript) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, t Transcript) error

func (f SinkFunc) Record(ctx context.Context, t Transcript) error { return f(ctx, t) }

// Discard drops every transcript.
var Discard Sink = SinkFunc(func(context.Context, Transcript) error { return nil })

type chainIDKey struct{}

// WithChainID tags ctx with the chain the outgoing requests belong to.
func WithChainID(ctx context.Context, chainID string) context.Context {
	return context.WithValue(ctx, chainIDKey{}, chainID)
}

// ChainIDFromContext returns the chain id set by WithChainID.
func ChainIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(chainIDKey{}).(string)
	return id
}

// MultiSink writes to multiple sinks in order.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink constructs a Sink that records to each sink in sequence.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Record forwards the transcript to each sink, collecting errors so all sinks get a chance to write.
func (m *MultiSink) Record(ctx context.Context, t Transcript) error {
	var errs []error
	for _, sink := range m.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ScrubbingSink applies rules to every transcript before delegating.
type ScrubbingSink struct {
	next  Sink
	rules scrub.RuleSet
}

// NewScrubbingSink wraps next so it only ever sees scrubbed transcripts.
func NewScrubbingSink(next Sink, rules scrub.RuleSet) *ScrubbingSink {
	return &ScrubbingSink{next: next, rules: rules}
}

func (s *ScrubbingSink) Record(ctx context.Context, t Transcript) error {
	if s.next == nil {
		return nil
	}
	t.Body = s.rules.Scrub(t.Body)
	return s.next.Record(ctx, t)
}

// MemorySink keeps transcripts in memory, for tests and local runs.
type MemorySink struct {
	mu          sync.Mutex
	transcripts []Transcript
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Record(ctx context.Context, t Transcript) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transcripts = append(m.transcripts, t)
	return nil
}

// All returns every recorded transcript in arrival order.
func (m *MemorySink) All() []Transcript {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transcript, len(m.transcripts))
	copy(out, m.transcripts)
	return out
}

// ForChain returns the transcripts recorded for chainID.
func (m *MemorySink) ForChain(chainID string) []Transcript {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Transcript
	for _, t := range m.transcripts {
		if t.ChainID == chainID {
			out = append(out, t)
		}
	}
	return out
}
