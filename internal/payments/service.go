// Package payments routes billing operations to registered gateways and
// keeps an idempotent, persisted record of every chain it runs.
package payments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"paychain/internal/billing"
	"paychain/internal/observability"
	"paychain/internal/payments/runs"
	"paychain/internal/transcripts"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	ErrUnknownGateway         = errors.New("unknown gateway")
	ErrIdempotencyConflict    = runs.ErrIdempotencyConflict
	ErrInProgress             = errors.New("chain run for this idempotency key is still in progress")
	ErrPreviousRunErrored     = errors.New("chain run for this idempotency key ended with an error")
	ErrInvalidRequest         = errors.New("invalid request")
	ErrUnsupported            = errors.New("operation not supported by gateway")
)

// Operation names, as stored with each run.
const (
	OpStore     = "store"
	OpPurchase  = "purchase"
	OpUnstore   = "unstore"
	OpAuthorize = "authorize"
	OpCapture   = "capture"
	OpVoid      = "void"
	OpRefund    = "refund"
	OpCredit    = "credit"
	OpVerify    = "verify"
	OpUpdate    = "update"
)

// persistTimeout bounds the writes that record a run once the gateway has
// answered. They run detached from the caller's context so a canceled
// request still leaves a terminal run behind.
const persistTimeout = 5 * time.Second

// Event types published to the Broadcaster.
const (
	EventChainStep     = "chain_step"
	EventChainFinished = "chain_finished"
)

// Broadcaster receives chain events. realtime.Hub implements it.
type Broadcaster interface {
	Publish(v any) error
}

// Event describes a recorded step or a finished chain.
type Event struct {
	Type          string    `json:"type"`
	ChainID       string    `json:"chain_id"`
	Gateway       string    `json:"gateway"`
	Operation     string    `json:"operation"`
	Index         *int      `json:"index,omitempty"`
	Success       bool      `json:"success"`
	Status        string    `json:"status,omitempty"`
	Message       string    `json:"message"`
	Authorization string    `json:"authorization,omitempty"`
	At            time.Time `json:"at"`
}

// Response is the result of one service call.
type Response struct {
	ChainID  string
	Result   billing.Result
	Replayed bool
}

// Service runs gateway operations.
type Service struct {
	processors  map[string]Processor
	store       runs.Store
	broadcaster Broadcaster
	metrics     *observability.Metrics
	logger      *zap.Logger
	newID       func() string
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithStore(store runs.Store) Option {
	return func(s *Service) { s.store = store }
}

func WithBroadcaster(b Broadcaster) Option {
	return func(s *Service) { s.broadcaster = b }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithIDGenerator replaces the uuid chain id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// NewService constructs a Service with the given processors.
func NewService(processors []Processor, opts ...Option) *Service {
	s := &Service{
		processors: make(map[string]Processor, len(processors)),
		store:      runs.NewMemoryStore(),
		logger:     zap.NewNop(),
		newID:      func() string { return uuid.NewString() },
		now:        time.Now,
	}
	for _, p := range processors {
		s.processors[p.Name()] = p
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Gateways lists the registered gateway names.
func (s *Service) Gateways() []string {
	names := make([]string, 0, len(s.processors))
	for name := range s.processors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Store vaults a payment method.
func (s *Service) Store(ctx context.Context, req StoreRequest) (Response, error) {
	return s.execute(ctx, req.IdempotencyKey, req.Gateway, OpStore, func(ctx context.Context, p Processor) (billing.Result, error) {
		return p.Store(ctx, req)
	})
}

// Purchase charges a payment method or fulfills an order.
func (s *Service) Purchase(ctx context.Context, req PurchaseRequest) (Response, error) {
	return s.execute(ctx, req.IdempotencyKey, req.Gateway, OpPurchase, func(ctx context.Context, p Processor) (billing.Result, error) {
		return p.Purchase(ctx, req)
	})
}

// Unstore removes a vaulted payment method.
func (s *Service) Unstore(ctx context.Context, req UnstoreRequest) (Response, error) {
	return s.execute(ctx, req.IdempotencyKey, req.Gateway, OpUnstore, func(ctx context.Context, p Processor) (billing.Result, error) {
		return p.Unstore(ctx, req)
	})
}

// Authorize places a hold on a payment method.
func (s *Service) Authorize(ctx context.Context, req ChargeRequest) (Response, error) {
	return s.executeCard(ctx, req.IdempotencyKey, req.Gateway, OpAuthorize, func(ctx context.Context, p CardProcessor) (billing.Result, error) {
		return p.Authorize(ctx, req)
	})
}

// Capture settles an earlier authorization.
func (s *Service) Capture(ctx context.Context, req SettleRequest) (Response, error) {
	return s.executeCard(ctx, req.IdempotencyKey, req.Gateway, OpCapture, func(ctx context.Context, p CardProcessor) (billing.Result, error) {
		return p.Capture(ctx, req)
	})
}

// Void cancels an earlier authorization or unsettled sale.
func (s *Service) Void(ctx context.Context, req SettleRequest) (Response, error) {
	return s.executeCard(ctx, req.IdempotencyKey, req.Gateway, OpVoid, func(ctx context.Context, p CardProcessor) (billing.Result, error) {
		return p.Void(ctx, req)
	})
}

// Refund returns part or all of a settled sale.
func (s *Service) Refund(ctx context.Context, req SettleRequest) (Response, error) {
	return s.executeCard(ctx, req.IdempotencyKey, req.Gateway, OpRefund, func(ctx context.Context, p CardProcessor) (billing.Result, error) {
		return p.Refund(ctx, req)
	})
}

// Credit pays out to a payment method without a prior transaction.
func (s *Service) Credit(ctx context.Context, req ChargeRequest) (Response, error) {
	return s.executeCard(ctx, req.IdempotencyKey, req.Gateway, OpCredit, func(ctx context.Context, p CardProcessor) (billing.Result, error) {
		return p.Credit(ctx, req)
	})
}

// Verify checks a payment method with an authorization that is voided again.
func (s *Service) Verify(ctx context.Context, req ChargeRequest) (Response, error) {
	return s.executeCard(ctx, req.IdempotencyKey, req.Gateway, OpVerify, func(ctx context.Context, p CardProcessor) (billing.Result, error) {
		return p.Verify(ctx, req)
	})
}

// Update adds a card to an existing vaulted customer.
func (s *Service) Update(ctx context.Context, req UpdateRequest) (Response, error) {
	return s.executeCard(ctx, req.IdempotencyKey, req.Gateway, OpUpdate, func(ctx context.Context, p CardProcessor) (billing.Result, error) {
		return p.Update(ctx, req)
	})
}

// Scrub runs the named gateway's scrubber over transcript.
func (s *Service) Scrub(gateway, transcript string) (string, error) {
	p, ok := s.processors[gateway]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownGateway, gateway)
	}
	if !p.SupportsScrubbing() {
		return "", fmt.Errorf("%w: %s does not scrub transcripts", ErrUnsupported, gateway)
	}
	return p.Scrub(transcript), nil
}

// executeCard runs a CardProcessor operation. The capability is checked
// before a run is started so an unsupported call does not use up the key.
func (s *Service) executeCard(ctx context.Context, key, gateway, operation string, fn func(context.Context, CardProcessor) (billing.Result, error)) (Response, error) {
	if p, ok := s.processors[gateway]; ok {
		if _, ok := p.(CardProcessor); !ok {
			return Response{}, fmt.Errorf("%w: %s does not %s", ErrUnsupported, gateway, operation)
		}
	}
	return s.execute(ctx, key, gateway, operation, func(ctx context.Context, p Processor) (billing.Result, error) {
		return fn(ctx, p.(CardProcessor))
	})
}

func (s *Service) execute(ctx context.Context, key, gateway, operation string, fn func(context.Context, Processor) (billing.Result, error)) (Response, error) {
	if key == "" {
		return Response{}, ErrIdempotencyKeyRequired
	}
	p, ok := s.processors[gateway]
	if !ok {
		return Response{}, fmt.Errorf("%w: %s", ErrUnknownGateway, gateway)
	}

	run, created, err := s.store.Start(ctx, key, s.newID(), gateway, operation)
	if err != nil {
		return Response{}, fmt.Errorf("start run: %w", err)
	}
	log := s.logger.With(
		zap.String("chain_id", run.ChainID),
		zap.String("gateway", gateway),
		zap.String("operation", operation),
	)
	if !created {
		return s.replay(ctx, run, log)
	}

	span := s.metrics.Start(gateway + "." + operation)
	result, runErr := fn(transcripts.WithChainID(ctx, run.ChainID), p)

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	history := billing.History(result)
	for i, o := range history {
		if err := s.store.AddStep(persistCtx, run.ChainID, runs.RecordOf(i, o)); err != nil {
			log.Error("persist step", zap.Int("index", i), zap.Error(err))
		}
		index := i
		s.publish(log, Event{
			Type:          EventChainStep,
			ChainID:       run.ChainID,
			Gateway:       gateway,
			Operation:     operation,
			Index:         &index,
			Success:       o.Success(),
			Message:       o.Message(),
			Authorization: o.Authorization(),
			At:            s.now(),
		})
	}

	status, message, authorization := finalState(result, runErr)
	if err := s.store.Finish(persistCtx, run.ChainID, status, authorization, message); err != nil {
		log.Error("persist run", zap.Error(err))
	}
	span.EndOutcome(status == runs.StatusSucceeded, runErr)
	s.publish(log, Event{
		Type:          EventChainFinished,
		ChainID:       run.ChainID,
		Gateway:       gateway,
		Operation:     operation,
		Success:       status == runs.StatusSucceeded,
		Status:        string(status),
		Message:       message,
		Authorization: authorization,
		At:            s.now(),
	})

	if runErr != nil {
		log.Error("chain errored", zap.Int("steps", len(history)), zap.Error(runErr))
		return Response{ChainID: run.ChainID, Result: result}, runErr
	}
	log.Info("chain finished", zap.String("status", string(status)), zap.Int("steps", len(history)))
	return Response{ChainID: run.ChainID, Result: result}, nil
}

func (s *Service) replay(ctx context.Context, run runs.Run, log *zap.Logger) (Response, error) {
	switch run.Status {
	case runs.StatusStarted:
		return Response{ChainID: run.ChainID}, ErrInProgress
	case runs.StatusErrored:
		return Response{ChainID: run.ChainID}, fmt.Errorf("%w: %s", ErrPreviousRunErrored, run.Message)
	}

	steps, err := s.store.Steps(ctx, run.ChainID)
	if err != nil {
		return Response{}, fmt.Errorf("load steps: %w", err)
	}
	chain := billing.NewChain()
	for _, step := range steps {
		chain.Append(step.Outcome())
	}
	log.Info("replayed finished chain", zap.Int("steps", len(steps)))
	return Response{ChainID: run.ChainID, Result: chain, Replayed: true}, nil
}

func (s *Service) publish(log *zap.Logger, e Event) {
	if s.broadcaster == nil {
		return
	}
	if err := s.broadcaster.Publish(e); err != nil {
		log.Warn("publish event", zap.String("type", e.Type), zap.Error(err))
	}
}

func finalState(result billing.Result, err error) (runs.Status, string, string) {
	if err != nil {
		return runs.StatusErrored, err.Error(), ""
	}
	if result == nil {
		return runs.StatusErrored, "no result", ""
	}
	if result.Success() {
		return runs.StatusSucceeded, result.Message(), result.Authorization()
	}
	return runs.StatusFailed, result.Message(), result.Authorization()
}
