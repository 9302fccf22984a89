package runs

import (
	"context"
	"errors"
	"testing"

	"paychain/internal/billing"
)

func TestMemoryStore_StartIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	run, created, err := store.Start(ctx, "idem-1", "chain-1", "forte", "purchase")
	if err != nil || !created || run.Status != StatusStarted {
		t.Fatalf("unexpected first start %+v created=%v err=%v", run, created, err)
	}
	again, created, err := store.Start(ctx, "idem-1", "chain-2", "forte", "purchase")
	if err != nil || created {
		t.Fatalf("expected existing run, created=%v err=%v", created, err)
	}
	if again.ChainID != "chain-1" {
		t.Fatalf("expected original chain id, got %s", again.ChainID)
	}
	if _, _, err := store.Start(ctx, "idem-1", "chain-3", "forte", "store"); !errors.Is(err, ErrIdempotencyConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestMemoryStore_StepsAndFinish(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, _, err := store.Start(ctx, "idem-1", "chain-1", "digital_river", "store"); err != nil {
		t.Fatalf("start: %v", err)
	}

	outcome := billing.Succeeded("OK", billing.NewParams("customer_vault_token", "cus_1"), billing.WithAuthorization("cus_1"))
	if err := store.AddStep(ctx, "chain-1", RecordOf(0, outcome)); err != nil {
		t.Fatalf("add step: %v", err)
	}
	if err := store.Finish(ctx, "chain-1", StatusSucceeded, "cus_1|src_1", "OK"); err != nil {
		t.Fatalf("finish: %v", err)
	}

	steps, err := store.Steps(ctx, "chain-1")
	if err != nil || len(steps) != 1 {
		t.Fatalf("unexpected steps %+v err=%v", steps, err)
	}
	rebuilt := steps[0].Outcome()
	if !rebuilt.Success() || rebuilt.Authorization() != "cus_1" || rebuilt.Params().String("customer_vault_token") != "cus_1" {
		t.Fatalf("unexpected rebuilt outcome %+v", rebuilt)
	}

	if err := store.AddStep(ctx, "missing", StepRecord{}); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestStatus_Finished(t *testing.T) {
	if StatusStarted.Finished() {
		t.Fatalf("started is not finished")
	}
	for _, s := range []Status{StatusSucceeded, StatusFailed, StatusErrored} {
		if !s.Finished() {
			t.Fatalf("%s should be finished", s)
		}
	}
}
