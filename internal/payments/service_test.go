package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"paychain/internal/billing"
	"paychain/internal/gateways/digitalriver"
	"paychain/internal/gateways/forte"
	"paychain/internal/observability"
	"paychain/internal/payments/runs"
	"paychain/internal/transcripts"
	"paychain/internal/transport"

	"github.com/google/go-cmp/cmp"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []Event
}

func (b *recordingBroadcaster) Publish(v any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, v.(Event))
	return nil
}

func (b *recordingBroadcaster) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.Type)
	}
	return out
}

// stubProcessor answers every operation with the same canned result.
type stubProcessor struct {
	name   string
	result billing.Result
	err    error
	calls  int
	chains []string
	// do, when set, replaces the canned result.
	do func(ctx context.Context) (billing.Result, error)
}

func (s *stubProcessor) Name() string                  { return s.name }
func (s *stubProcessor) SupportsScrubbing() bool       { return false }
func (s *stubProcessor) Scrub(transcript string) string { return transcript }

func (s *stubProcessor) run(ctx context.Context) (billing.Result, error) {
	s.calls++
	s.chains = append(s.chains, transcripts.ChainIDFromContext(ctx))
	if s.do != nil {
		return s.do(ctx)
	}
	return s.result, s.err
}

func (s *stubProcessor) Store(ctx context.Context, _ StoreRequest) (billing.Result, error) {
	return s.run(ctx)
}

func (s *stubProcessor) Purchase(ctx context.Context, _ PurchaseRequest) (billing.Result, error) {
	return s.run(ctx)
}

func (s *stubProcessor) Unstore(ctx context.Context, _ UnstoreRequest) (billing.Result, error) {
	return s.run(ctx)
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("chain-%d", n)
	}
}

func newDigitalRiverService(t *testing.T, opts ...Option) (*Service, *digitalriver.InMemoryAPI, *runs.MemoryStore) {
	t.Helper()
	api := digitalriver.NewInMemoryAPI()
	store := runs.NewMemoryStore()
	opts = append([]Option{WithStore(store), WithIDGenerator(sequentialIDs())}, opts...)
	svc := NewService([]Processor{DigitalRiver{Gateway: digitalriver.New(api, nil)}}, opts...)
	return svc, api, store
}

func TestService_StorePersistsEveryStep(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	metrics := observability.NewMetrics()
	svc, api, store := newDigitalRiverService(t, WithBroadcaster(broadcaster), WithMetrics(metrics))
	api.AddCustomer(digitalriver.Customer{ID: "cus_1"})

	resp, err := svc.Store(context.Background(), StoreRequest{
		IdempotencyKey:     "key-1",
		Gateway:            digitalriver.Name,
		SourceID:           "src_1",
		CustomerVaultToken: "cus_1",
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if resp.ChainID != "chain-1" || resp.Replayed {
		t.Fatalf("unexpected response %+v", resp)
	}
	if !resp.Result.Success() || resp.Result.Authorization() != "cus_1|src_1" {
		t.Fatalf("unexpected result success=%v auth=%q", resp.Result.Success(), resp.Result.Authorization())
	}

	steps, err := store.Steps(context.Background(), "chain-1")
	if err != nil {
		t.Fatalf("steps: %v", err)
	}
	if len(steps) != 2 || steps[0].Index != 0 || steps[1].Authorization != "cus_1|src_1" {
		t.Fatalf("unexpected steps %+v", steps)
	}

	want := []string{EventChainStep, EventChainStep, EventChainFinished}
	if diff := cmp.Diff(want, broadcaster.types()); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	last := broadcaster.events[2]
	if last.Status != string(runs.StatusSucceeded) || last.ChainID != "chain-1" {
		t.Fatalf("unexpected finished event %+v", last)
	}

	stats := metrics.Snapshot().Methods["digital_river.store"]
	if stats.Count != 1 || stats.Errors != 0 || stats.Declines != 0 {
		t.Fatalf("unexpected metrics %+v", stats)
	}
}

func TestService_FailedChainIsRecordedAsFailed(t *testing.T) {
	metrics := observability.NewMetrics()
	svc, _, store := newDigitalRiverService(t, WithMetrics(metrics))

	resp, err := svc.Store(context.Background(), StoreRequest{
		IdempotencyKey:     "key-1",
		Gateway:            digitalriver.Name,
		SourceID:           "src_1",
		CustomerVaultToken: "cus_missing",
	})
	if err != nil {
		t.Fatalf("expected a failed outcome, not an error: %v", err)
	}
	if resp.Result.Success() {
		t.Fatalf("expected failure")
	}

	run, created, err := store.Start(context.Background(), "key-1", "unused", digitalriver.Name, OpStore)
	if err != nil || created {
		t.Fatalf("expected existing run, got created=%v err=%v", created, err)
	}
	if run.Status != runs.StatusFailed || run.Message != "Customer 'cus_missing' not found" {
		t.Fatalf("unexpected run %+v", run)
	}
	if metrics.Snapshot().Methods["digital_river.store"].Declines != 1 {
		t.Fatalf("expected the failure counted as a decline")
	}
}

func TestService_ReplaysFinishedRun(t *testing.T) {
	svc, api, _ := newDigitalRiverService(t)
	api.AddOrder(digitalriver.Order{
		ID:      "ord_1",
		State:   "accepted",
		Items:   []digitalriver.OrderItem{{ID: "item_1", SKUID: "sku_1", Quantity: 1}},
		Charges: []digitalriver.ChargeRef{{ID: "chg_1", SourceID: "src_1"}},
	}, digitalriver.Charge{ID: "chg_1", SourceID: "src_1", Captures: []digitalriver.Capture{{ID: "cap_1"}}})

	req := PurchaseRequest{IdempotencyKey: "key-7", Gateway: digitalriver.Name, OrderID: "ord_1"}
	first, err := svc.Purchase(context.Background(), req)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	second, err := svc.Purchase(context.Background(), req)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !second.Replayed || second.ChainID != first.ChainID {
		t.Fatalf("expected replay of %s, got %+v", first.ChainID, second)
	}
	if second.Result.Authorization() != "cap_1" || !second.Result.Success() {
		t.Fatalf("unexpected replayed result auth=%q", second.Result.Authorization())
	}
	if got := len(billing.History(second.Result)); got != 2 {
		t.Fatalf("expected 2 replayed steps, got %d", got)
	}
	if diff := cmp.Diff(first.Result.Params().Map(), second.Result.Params().Map()); diff != "" {
		t.Fatalf("replayed params mismatch (-first +second):\n%s", diff)
	}
}

func TestService_RejectsReuseAcrossOperations(t *testing.T) {
	svc, api, _ := newDigitalRiverService(t)
	api.AddCustomer(digitalriver.Customer{ID: "cus_1"})

	if _, err := svc.Store(context.Background(), StoreRequest{
		IdempotencyKey: "key-1", Gateway: digitalriver.Name, SourceID: "src_1", CustomerVaultToken: "cus_1",
	}); err != nil {
		t.Fatalf("store: %v", err)
	}
	_, err := svc.Unstore(context.Background(), UnstoreRequest{IdempotencyKey: "key-1", Gateway: digitalriver.Name, Authorization: "cus_1|src_1"})
	if !errors.Is(err, ErrIdempotencyConflict) {
		t.Fatalf("expected ErrIdempotencyConflict, got %v", err)
	}
}

func TestService_DefectMarksRunErrored(t *testing.T) {
	boom := errors.New("gateway returned 502")
	proc := &stubProcessor{name: "stub", result: billing.NewChain(), err: &billing.StepError{Index: 0, Err: boom}}
	store := runs.NewMemoryStore()
	broadcaster := &recordingBroadcaster{}
	metrics := observability.NewMetrics()
	svc := NewService([]Processor{proc},
		WithStore(store),
		WithBroadcaster(broadcaster),
		WithMetrics(metrics),
		WithIDGenerator(sequentialIDs()),
	)

	_, err := svc.Purchase(context.Background(), PurchaseRequest{IdempotencyKey: "k", Gateway: "stub"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected defect to surface, got %v", err)
	}
	if proc.chains[0] != "chain-1" {
		t.Fatalf("expected chain id in processor context, got %q", proc.chains[0])
	}
	if metrics.Snapshot().Methods["stub.purchase"].Errors != 1 {
		t.Fatalf("expected an error metric")
	}
	if got := broadcaster.events[len(broadcaster.events)-1].Status; got != string(runs.StatusErrored) {
		t.Fatalf("expected errored event, got %q", got)
	}

	_, err = svc.Purchase(context.Background(), PurchaseRequest{IdempotencyKey: "k", Gateway: "stub"})
	if !errors.Is(err, ErrPreviousRunErrored) {
		t.Fatalf("expected ErrPreviousRunErrored on retry with the same key, got %v", err)
	}
	if proc.calls != 1 {
		t.Fatalf("errored run must not be executed twice, got %d calls", proc.calls)
	}
}

func TestService_InProgressRun(t *testing.T) {
	store := runs.NewMemoryStore()
	if _, _, err := store.Start(context.Background(), "k", "chain-0", "stub", OpStore); err != nil {
		t.Fatalf("seed: %v", err)
	}
	proc := &stubProcessor{name: "stub", result: billing.Succeeded("ok", billing.Params{})}
	svc := NewService([]Processor{proc}, WithStore(store))

	resp, err := svc.Store(context.Background(), StoreRequest{IdempotencyKey: "k", Gateway: "stub"})
	if !errors.Is(err, ErrInProgress) || resp.ChainID != "chain-0" {
		t.Fatalf("expected ErrInProgress for chain-0, got %v %+v", err, resp)
	}
	if proc.calls != 0 {
		t.Fatalf("in-progress run must not be executed again")
	}
}

func TestService_ReplayKeepsTestMode(t *testing.T) {
	proc := &stubProcessor{name: "stub", result: billing.Succeeded("ok", billing.Params{}, billing.WithTestMode(true))}
	svc := NewService([]Processor{proc}, WithIDGenerator(sequentialIDs()))
	req := StoreRequest{IdempotencyKey: "k", Gateway: "stub"}

	first, err := svc.Store(context.Background(), req)
	if err != nil {
		t.Fatalf("first store: %v", err)
	}
	second, err := svc.Store(context.Background(), req)
	if err != nil {
		t.Fatalf("second store: %v", err)
	}
	if !first.Result.Test() {
		t.Fatalf("expected first result in test mode")
	}
	if !second.Replayed || !second.Result.Test() {
		t.Fatalf("expected replayed test-mode result, got replayed=%v test=%v", second.Replayed, second.Result.Test())
	}
	if o := billing.History(second.Result)[0]; !o.TestKnown() {
		t.Fatalf("expected replayed outcome to know its test mode")
	}
}

func TestService_CanceledRequestStillFinishesRun(t *testing.T) {
	store := runs.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	proc := &stubProcessor{name: "stub", do: func(ctx context.Context) (billing.Result, error) {
		cancel()
		return nil, ctx.Err()
	}}
	svc := NewService([]Processor{proc}, WithStore(store), WithIDGenerator(sequentialIDs()))
	req := PurchaseRequest{IdempotencyKey: "k", Gateway: "stub"}

	if _, err := svc.Purchase(ctx, req); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	run, created, err := store.Start(context.Background(), "k", "chain-other", "stub", OpPurchase)
	if err != nil || created {
		t.Fatalf("expected existing run, got created=%v err=%v", created, err)
	}
	if run.Status != runs.StatusErrored {
		t.Fatalf("expected errored run after cancellation, got %q", run.Status)
	}

	_, err = svc.Purchase(context.Background(), req)
	if errors.Is(err, ErrInProgress) || !errors.Is(err, ErrPreviousRunErrored) {
		t.Fatalf("expected ErrPreviousRunErrored on retry, got %v", err)
	}
	if proc.calls != 1 {
		t.Fatalf("expected a single gateway call, got %d", proc.calls)
	}
}

// forteDoer answers Forte requests from a queue of JSON bodies.
type forteDoer struct {
	requests  []transport.Request
	responses []string
}

func (d *forteDoer) Do(_ context.Context, req transport.Request) (transport.Response, error) {
	d.requests = append(d.requests, req)
	body := `{}`
	if len(d.responses) > 0 {
		body, d.responses = d.responses[0], d.responses[1:]
	}
	return transport.Response{StatusCode: http.StatusOK, Body: []byte(body)}, nil
}

func TestService_AuthorizeThenCaptureThroughForte(t *testing.T) {
	doer := &forteDoer{responses: []string{
		`{"transaction_id":"trn_1","authorization_code":"123456","response":{"environment":"sandbox","response_code":"A01","response_desc":"TEST APPROVAL"}}`,
		`{"transaction_id":"trn_1","authorization_code":"123456","response":{"environment":"sandbox","response_code":"A01","response_desc":"APPROVED"}}`,
	}}
	store := runs.NewMemoryStore()
	svc := NewService([]Processor{Forte{Gateway: forte.New(doer, "loc_1", nil)}},
		WithStore(store),
		WithIDGenerator(sequentialIDs()),
	)
	ctx := context.Background()

	auth, err := svc.Authorize(ctx, ChargeRequest{
		IdempotencyKey: "auth-1",
		Gateway:        forte.Name,
		AmountCents:    100,
		Card:           &Card{Number: "4000100011112224", ExpMonth: 9, ExpYear: 2030, CVV: "123"},
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if auth.Result.Authorization() != "trn_1#123456" {
		t.Fatalf("unexpected authorization %q", auth.Result.Authorization())
	}

	captured, err := svc.Capture(ctx, SettleRequest{IdempotencyKey: "cap-1", Gateway: forte.Name, Authorization: auth.Result.Authorization()})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if !captured.Result.Success() || captured.Result.Message() != "APPROVED" {
		t.Fatalf("unexpected capture result %v %q", captured.Result.Success(), captured.Result.Message())
	}
	if doer.requests[1].Method != http.MethodPut {
		t.Fatalf("expected capture to PUT, got %s", doer.requests[1].Method)
	}

	steps, err := store.Steps(ctx, auth.ChainID)
	if err != nil {
		t.Fatalf("steps: %v", err)
	}
	if len(steps) != 1 || steps[0].Authorization != "trn_1#123456" || !steps[0].Test {
		t.Fatalf("unexpected persisted steps %+v", steps)
	}
}

func TestService_CardOperationsUnsupportedByDigitalRiver(t *testing.T) {
	svc, _, store := newDigitalRiverService(t)
	ctx := context.Background()

	_, err := svc.Void(ctx, SettleRequest{IdempotencyKey: "void-1", Gateway: digitalriver.Name, Authorization: "trn_1#1"})
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if _, created, err := store.Start(ctx, "void-1", "chain-x", digitalriver.Name, OpVoid); err != nil || !created {
		t.Fatalf("unsupported call must not start a run, created=%v err=%v", created, err)
	}
}

func TestService_Validation(t *testing.T) {
	svc, _, _ := newDigitalRiverService(t)
	ctx := context.Background()

	if _, err := svc.Store(ctx, StoreRequest{Gateway: digitalriver.Name}); !errors.Is(err, ErrIdempotencyKeyRequired) {
		t.Fatalf("expected ErrIdempotencyKeyRequired, got %v", err)
	}
	if _, err := svc.Store(ctx, StoreRequest{IdempotencyKey: "k", Gateway: "paypal"}); !errors.Is(err, ErrUnknownGateway) {
		t.Fatalf("expected ErrUnknownGateway, got %v", err)
	}
	if _, err := svc.Purchase(ctx, PurchaseRequest{IdempotencyKey: "k2", Gateway: digitalriver.Name}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestService_Scrub(t *testing.T) {
	svc, _, _ := newDigitalRiverService(t)
	svc.processors["stub"] = &stubProcessor{name: "stub"}

	out, err := svc.Scrub(digitalriver.Name, `{"email":"jane@example.com"}`)
	if err != nil {
		t.Fatalf("scrub: %v", err)
	}
	if out != `{"email":"[FILTERED]"}` {
		t.Fatalf("unexpected scrubbed transcript %q", out)
	}
	if _, err := svc.Scrub("stub", "x"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if _, err := svc.Scrub("nope", "x"); !errors.Is(err, ErrUnknownGateway) {
		t.Fatalf("expected ErrUnknownGateway, got %v", err)
	}
	if diff := cmp.Diff([]string{digitalriver.Name, "stub"}, svc.Gateways()); diff != "" {
		t.Fatalf("gateways mismatch:\n%s", diff)
	}
}

func TestBuild_FallsBackToMemory(t *testing.T) {
	svc, cleanup, err := Build(context.Background(), BuildConfig{
		Forte: ForteConfig{BaseURL: "https://sandbox.forte.net/api/v3/organizations/org_1/locations/loc_1"},
	}, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer cleanup()
	if _, ok := svc.store.(*runs.MemoryStore); !ok {
		t.Fatalf("expected in-memory store, got %T", svc.store)
	}
	if diff := cmp.Diff([]string{digitalriver.Name, "forte"}, svc.Gateways()); diff != "" {
		t.Fatalf("gateways mismatch:\n%s", diff)
	}
}
