// Package runs defines the persisted record of a chain execution and the
// store contract shared by the Postgres and in-memory implementations.
package runs

import (
	"context"
	"errors"
	"sync"

	"paychain/internal/billing"
)

// Status captures the current state of a chain run.
type Status string

const (
	StatusStarted   Status = "started"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusErrored   Status = "errored"
)

// Finished reports whether the run reached a terminal status.
func (s Status) Finished() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusErrored
}

// Run represents a stored chain execution.
type Run struct {
	ChainID       string
	Gateway       string
	Operation     string
	Status        Status
	Authorization string
	Message       string
}

// StepRecord is one persisted outcome of a run.
type StepRecord struct {
	Index         int
	Success       bool
	Message       string
	Authorization string
	// TestKnown is false when the gateway did not say whether the call ran
	// in test mode; Test is meaningless then.
	Test      bool
	TestKnown bool
	Params    billing.Params
}

// Outcome rebuilds the billing outcome the record was made from.
func (r StepRecord) Outcome() billing.Outcome {
	var opts []billing.OutcomeOption
	if r.Authorization != "" {
		opts = append(opts, billing.WithAuthorization(r.Authorization))
	}
	if r.TestKnown {
		opts = append(opts, billing.WithTestMode(r.Test))
	}
	return billing.NewOutcome(r.Success, r.Message, r.Params, opts...)
}

// RecordOf converts the outcome at index into a StepRecord.
func RecordOf(index int, o billing.Outcome) StepRecord {
	return StepRecord{
		Index:         index,
		Success:       o.Success(),
		Message:       o.Message(),
		Authorization: o.Authorization(),
		Test:          o.Test(),
		TestKnown:     o.TestKnown(),
		Params:        o.Params(),
	}
}

// Store persists idempotency keys, runs and their steps.
type Store interface {
	Start(ctx context.Context, idempotencyKey, chainID, gateway, operation string) (Run, bool, error)
	AddStep(ctx context.Context, chainID string, step StepRecord) error
	Finish(ctx context.Context, chainID string, status Status, authorization, message string) error
	Steps(ctx context.Context, chainID string) ([]StepRecord, error)
}

var (
	ErrIdempotencyConflict = errors.New("idempotency key reused with different operation")
	ErrRunNotFound         = errors.New("chain run not found")
)

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	keys  map[string]string
	runs  map[string]Run
	steps map[string][]StepRecord
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys:  make(map[string]string),
		runs:  make(map[string]Run),
		steps: make(map[string][]StepRecord),
	}
}

func (m *MemoryStore) Start(ctx context.Context, idempotencyKey, chainID, gateway, operation string) (Run, bool, error) {
	if err := ctx.Err(); err != nil {
		return Run{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.keys[idempotencyKey]; ok {
		run := m.runs[existing]
		if run.Gateway != gateway || run.Operation != operation {
			return Run{}, false, ErrIdempotencyConflict
		}
		return run, false, nil
	}
	run := Run{ChainID: chainID, Gateway: gateway, Operation: operation, Status: StatusStarted}
	m.keys[idempotencyKey] = chainID
	m.runs[chainID] = run
	return run, true, nil
}

func (m *MemoryStore) AddStep(ctx context.Context, chainID string, step StepRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[chainID]; !ok {
		return ErrRunNotFound
	}
	m.steps[chainID] = append(m.steps[chainID], step)
	return nil
}

func (m *MemoryStore) Finish(ctx context.Context, chainID string, status Status, authorization, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[chainID]
	if !ok {
		return ErrRunNotFound
	}
	run.Status = status
	run.Authorization = authorization
	run.Message = message
	m.runs[chainID] = run
	return nil
}

func (m *MemoryStore) Steps(ctx context.Context, chainID string) ([]StepRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[chainID]; !ok {
		return nil, ErrRunNotFound
	}
	out := make([]StepRecord, len(m.steps[chainID]))
	copy(out, m.steps[chainID])
	return out, nil
}
