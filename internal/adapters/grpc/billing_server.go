package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"paychain/internal/billing"
	"paychain/internal/gateways"
	"paychain/internal/gateways/forte"
	"paychain/internal/payments"
	"paychain/internal/reliability"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// BillingService defines the behavior needed by the gRPC adapter.
type BillingService interface {
	Store(ctx context.Context, req payments.StoreRequest) (payments.Response, error)
	Purchase(ctx context.Context, req payments.PurchaseRequest) (payments.Response, error)
	Unstore(ctx context.Context, req payments.UnstoreRequest) (payments.Response, error)
	Authorize(ctx context.Context, req payments.ChargeRequest) (payments.Response, error)
	Capture(ctx context.Context, req payments.SettleRequest) (payments.Response, error)
	Void(ctx context.Context, req payments.SettleRequest) (payments.Response, error)
	Refund(ctx context.Context, req payments.SettleRequest) (payments.Response, error)
	Credit(ctx context.Context, req payments.ChargeRequest) (payments.Response, error)
	Verify(ctx context.Context, req payments.ChargeRequest) (payments.Response, error)
	Update(ctx context.Context, req payments.UpdateRequest) (payments.Response, error)
	Scrub(gateway, transcript string) (string, error)
}

// BillingServer adapts BillingService to gRPC. Declines and other expected
// failures are returned as success=false payloads, never as gRPC errors.
type BillingServer struct {
	service BillingService
}

// NewBillingServer constructs a BillingServer.
func NewBillingServer(svc BillingService) *BillingServer {
	return &BillingServer{service: svc}
}

var _ BillingServiceServer = (*BillingServer)(nil)

func (s *BillingServer) Store(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f := fields{in}
	resp, err := s.service.Store(ctx, payments.StoreRequest{
		IdempotencyKey:     f.str("idempotency_key"),
		Gateway:            f.str("gateway"),
		SourceID:           f.str("source_id"),
		Card:               f.card("card"),
		CustomerVaultToken: f.str("customer_vault_token"),
		Customer:           f.customer("customer"),
	})
	if err != nil {
		return nil, mapBillingError(err)
	}
	return encodeResponse(resp)
}

func (s *BillingServer) Purchase(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f := fields{in}
	amount, err := f.cents("amount_cents")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	resp, err := s.service.Purchase(ctx, payments.PurchaseRequest{
		IdempotencyKey: f.str("idempotency_key"),
		Gateway:        f.str("gateway"),
		OrderID:        f.str("order_id"),
		AmountCents:    amount,
		VaultID:        f.str("vault_id"),
		Card:           f.card("card"),
		Check:          f.check("check"),
		OrderNumber:    f.str("order_number"),
		CustomerIP:     f.str("customer_ip"),
	})
	if err != nil {
		return nil, mapBillingError(err)
	}
	return encodeResponse(resp)
}

func (s *BillingServer) Unstore(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f := fields{in}
	resp, err := s.service.Unstore(ctx, payments.UnstoreRequest{
		IdempotencyKey: f.str("idempotency_key"),
		Gateway:        f.str("gateway"),
		Authorization:  f.str("authorization"),
	})
	if err != nil {
		return nil, mapBillingError(err)
	}
	return encodeResponse(resp)
}

func (s *BillingServer) Authorize(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.charge(ctx, in, s.service.Authorize)
}

func (s *BillingServer) Credit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.charge(ctx, in, s.service.Credit)
}

func (s *BillingServer) Verify(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.charge(ctx, in, s.service.Verify)
}

func (s *BillingServer) Capture(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.settle(ctx, in, s.service.Capture)
}

func (s *BillingServer) Void(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.settle(ctx, in, s.service.Void)
}

func (s *BillingServer) Refund(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.settle(ctx, in, s.service.Refund)
}

func (s *BillingServer) Update(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f := fields{in}
	resp, err := s.service.Update(ctx, payments.UpdateRequest{
		IdempotencyKey: f.str("idempotency_key"),
		Gateway:        f.str("gateway"),
		CustomerToken:  f.str("customer_token"),
		Card:           f.card("card"),
	})
	if err != nil {
		return nil, mapBillingError(err)
	}
	return encodeResponse(resp)
}

func (s *BillingServer) charge(ctx context.Context, in *structpb.Struct, call func(context.Context, payments.ChargeRequest) (payments.Response, error)) (*structpb.Struct, error) {
	f := fields{in}
	amount, err := f.cents("amount_cents")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	resp, err := call(ctx, payments.ChargeRequest{
		IdempotencyKey: f.str("idempotency_key"),
		Gateway:        f.str("gateway"),
		AmountCents:    amount,
		VaultID:        f.str("vault_id"),
		Card:           f.card("card"),
		Check:          f.check("check"),
		OrderNumber:    f.str("order_number"),
		CustomerIP:     f.str("customer_ip"),
	})
	if err != nil {
		return nil, mapBillingError(err)
	}
	return encodeResponse(resp)
}

func (s *BillingServer) settle(ctx context.Context, in *structpb.Struct, call func(context.Context, payments.SettleRequest) (payments.Response, error)) (*structpb.Struct, error) {
	f := fields{in}
	amount, err := f.cents("amount_cents")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	resp, err := call(ctx, payments.SettleRequest{
		IdempotencyKey: f.str("idempotency_key"),
		Gateway:        f.str("gateway"),
		Authorization:  f.str("authorization"),
		AmountCents:    amount,
	})
	if err != nil {
		return nil, mapBillingError(err)
	}
	return encodeResponse(resp)
}

func (s *BillingServer) Scrub(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f := fields{in}
	out, err := s.service.Scrub(f.str("gateway"), f.str("transcript"))
	if err != nil {
		return nil, mapBillingError(err)
	}
	return structpb.NewStruct(map[string]any{"transcript": out})
}

func encodeResponse(resp payments.Response) (*structpb.Struct, error) {
	out := map[string]any{
		"chain_id": resp.ChainID,
		"replayed": resp.Replayed,
	}
	if r := resp.Result; r != nil {
		params, err := plain(r.Params())
		if err != nil {
			return nil, status.Errorf(codes.Internal, "encode params: %v", err)
		}
		out["success"] = r.Success()
		out["message"] = r.Message()
		out["authorization"] = r.Authorization()
		out["test"] = r.Test()
		out["params"] = params

		history := []any{}
		for i, o := range billing.History(r) {
			stepParams, err := plain(o.Params())
			if err != nil {
				return nil, status.Errorf(codes.Internal, "encode step %d params: %v", i, err)
			}
			history = append(history, map[string]any{
				"index":         i,
				"success":       o.Success(),
				"message":       o.Message(),
				"authorization": o.Authorization(),
				"params":        stepParams,
			})
		}
		out["history"] = history
	}
	msg, err := structpb.NewStruct(out)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return msg, nil
}

// plain converts params to the JSON value space structpb accepts.
func plain(p billing.Params) (map[string]any, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type fields struct{ s *structpb.Struct }

func (f fields) value(key string) *structpb.Value {
	return f.s.GetFields()[key]
}

func (f fields) str(key string) string {
	return f.value(key).GetStringValue()
}

func (f fields) integer(key string) int {
	return int(f.value(key).GetNumberValue())
}

func (f fields) child(key string) (fields, bool) {
	sv := f.value(key).GetStructValue()
	return fields{sv}, sv != nil
}

func (f fields) cents(key string) (int64, error) {
	v := f.value(key)
	if v == nil {
		return 0, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%s must be a number", key)
	}
	if n.NumberValue != math.Trunc(n.NumberValue) {
		return 0, fmt.Errorf("%s must be a whole number of cents", key)
	}
	if math.Abs(n.NumberValue) > maxCents {
		return 0, fmt.Errorf("%s is out of range", key)
	}
	return int64(n.NumberValue), nil
}

// maxCents is the largest amount exactly representable in a JSON number.
const maxCents = 1<<53 - 1

func (f fields) check(key string) *payments.Check {
	c, ok := f.child(key)
	if !ok {
		return nil
	}
	return &payments.Check{
		AccountHolder: c.str("account_holder"),
		AccountType:   c.str("account_type"),
		AccountNumber: c.str("account_number"),
		RoutingNumber: c.str("routing_number"),
	}
}

func (f fields) card(key string) *payments.Card {
	c, ok := f.child(key)
	if !ok {
		return nil
	}
	return &payments.Card{
		Name:     c.str("name"),
		Number:   c.str("number"),
		ExpMonth: c.integer("exp_month"),
		ExpYear:  c.integer("exp_year"),
		CVV:      c.str("cvv"),
	}
}

func (f fields) customer(key string) payments.Customer {
	c, ok := f.child(key)
	if !ok {
		return payments.Customer{}
	}
	a, _ := c.child("address")
	return payments.Customer{
		Email:        c.str("email"),
		FirstName:    c.str("first_name"),
		LastName:     c.str("last_name"),
		Phone:        c.str("phone"),
		Organization: c.str("organization"),
		Address: payments.Address{
			Line1:      a.str("line1"),
			Line2:      a.str("line2"),
			City:       a.str("city"),
			State:      a.str("state"),
			PostalCode: a.str("postal_code"),
			Country:    a.str("country"),
		},
	}
}

func mapBillingError(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, payments.ErrIdempotencyKeyRequired),
		errors.Is(err, payments.ErrInvalidRequest),
		errors.Is(err, gateways.ErrInvalidAuthorization),
		errors.Is(err, forte.ErrAmountRequired),
		errors.Is(err, forte.ErrSourceRequired),
		errors.Is(err, forte.ErrCustomerTokenRequired):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, payments.ErrIdempotencyConflict),
		errors.Is(err, payments.ErrPreviousRunErrored):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, payments.ErrInProgress):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, payments.ErrUnknownGateway):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, payments.ErrUnsupported):
		return status.Error(codes.Unimplemented, err.Error())
	case errors.Is(err, reliability.ErrCircuitOpen):
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
