package billing

import (
	"errors"
	"testing"
)

func ok(msg string) Step {
	return StepFunc(func() (Outcome, error) {
		return Succeeded(msg, Params{}), nil
	})
}

func fail(msg string) Step {
	return StepFunc(func() (Outcome, error) {
		return Failed(msg, Params{}), nil
	})
}

func TestChain_StopsWhenCallerShortCircuits(t *testing.T) {
	chain := NewChain()
	thirdRan := false

	steps := []Step{
		ok("created"),
		fail("card declined"),
		StepFunc(func() (Outcome, error) {
			thirdRan = true
			return Succeeded("never", Params{}), nil
		}),
	}
	for _, step := range steps {
		if _, err := chain.Process(step); err != nil {
			t.Fatalf("process: %v", err)
		}
		if !chain.CanContinue() {
			break
		}
	}

	if thirdRan {
		t.Fatalf("expected third step to be skipped")
	}
	if chain.Len() != 2 {
		t.Fatalf("expected 2 outcomes, got %d", chain.Len())
	}
	if chain.Success() {
		t.Fatalf("expected chain failure")
	}
	history := chain.Outcomes()
	if history[1].Success() {
		t.Fatalf("expected second outcome to be a failure")
	}
	if chain.Message() != "card declined" {
		t.Fatalf("unexpected headline message %q", chain.Message())
	}
	idx, failed, found := chain.FailedStep()
	if !found || idx != 1 || failed.Message() != "card declined" {
		t.Fatalf("unexpected failed step: %d %q %v", idx, failed.Message(), found)
	}
}

func TestChain_AllSucceed(t *testing.T) {
	chain, err := Run(ok("one"), ok("two"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !chain.Success() {
		t.Fatalf("expected success")
	}
	if chain.Len() != 2 {
		t.Fatalf("expected 2 outcomes, got %d", chain.Len())
	}
	if chain.Message() != "two" {
		t.Fatalf("expected headline from last step, got %q", chain.Message())
	}
}

func TestChain_EmptyIsNotSuccessful(t *testing.T) {
	var chain Chain
	if chain.Success() {
		t.Fatalf("empty chain must not report success")
	}
	if !chain.CanContinue() {
		t.Fatalf("empty chain should allow the first step")
	}
	if _, ok := chain.Primary(); ok {
		t.Fatalf("empty chain has no primary outcome")
	}
	if chain.Message() != "" || chain.Authorization() != "" {
		t.Fatalf("expected empty headline fields")
	}
}

func TestRun_DoesNotAbortOnFailedOutcome(t *testing.T) {
	chain, err := Run(ok("a"), fail("b"), ok("c"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if chain.Len() != 3 {
		t.Fatalf("expected every step to run, got %d", chain.Len())
	}
	if chain.Success() {
		t.Fatalf("expected failure when any step failed")
	}
}

func TestChain_LaterStepReadsEarlierOutcome(t *testing.T) {
	chain := NewChain()
	var customerID string

	if _, err := chain.Process(StepFunc(func() (Outcome, error) {
		return Succeeded("OK", NewParams("customer_id", "cust_123"), WithAuthorization("cust_123")), nil
	})); err != nil {
		t.Fatalf("step 1: %v", err)
	}
	last, _ := chain.Last()
	customerID = last.Authorization()

	var seen string
	if _, err := chain.Process(StepFunc(func() (Outcome, error) {
		seen = customerID
		return Succeeded("OK", Params{}, WithAuthorization(customerID+"|pm_456")), nil
	})); err != nil {
		t.Fatalf("step 2: %v", err)
	}

	if seen != "cust_123" {
		t.Fatalf("expected step 2 to see step 1 id, got %q", seen)
	}
	if chain.Authorization() != "cust_123|pm_456" {
		t.Fatalf("unexpected authorization %q", chain.Authorization())
	}
}

func TestChain_DefectPropagatesWithoutRecording(t *testing.T) {
	boom := errors.New("connection reset")
	chain := NewChain()

	if _, err := chain.Process(ok("first")); err != nil {
		t.Fatalf("first: %v", err)
	}
	_, err := chain.Process(StepFunc(func() (Outcome, error) {
		return Outcome{}, boom
	}))
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped defect, got %v", err)
	}
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Index != 1 {
		t.Fatalf("expected StepError at index 1, got %#v", err)
	}
	if chain.Len() != 1 {
		t.Fatalf("defect must not be recorded, got %d outcomes", chain.Len())
	}
}

func TestRun_StopsOnDefect(t *testing.T) {
	boom := errors.New("boom")
	ran := false
	chain, err := Run(ok("a"), StepFunc(func() (Outcome, error) { return Outcome{}, boom }), StepFunc(func() (Outcome, error) {
		ran = true
		return Succeeded("c", Params{}), nil
	}))
	if !errors.Is(err, boom) {
		t.Fatalf("expected defect, got %v", err)
	}
	if ran {
		t.Fatalf("expected steps after a defect to be skipped")
	}
	if chain.Len() != 1 {
		t.Fatalf("expected partial history of 1, got %d", chain.Len())
	}
}

func TestChain_NilStep(t *testing.T) {
	chain := NewChain()
	if _, err := chain.Process(nil); !errors.Is(err, ErrNilStep) {
		t.Fatalf("expected ErrNilStep, got %v", err)
	}
}

func TestChain_IgnoredOutcomeIsNotPrimary(t *testing.T) {
	chain := NewChain()
	if _, err := chain.Process(StepFunc(func() (Outcome, error) {
		return Succeeded("charged", Params{}, WithAuthorization("ch_1")), nil
	})); err != nil {
		t.Fatalf("process: %v", err)
	}
	if _, err := chain.ProcessIgnoringResult(StepFunc(func() (Outcome, error) {
		return Succeeded("receipt sent", Params{}, WithAuthorization("rcpt_1")), nil
	})); err != nil {
		t.Fatalf("process ignored: %v", err)
	}

	if chain.Len() != 2 {
		t.Fatalf("ignored outcome should still be in history")
	}
	if chain.Authorization() != "ch_1" {
		t.Fatalf("expected primary authorization ch_1, got %q", chain.Authorization())
	}
}

func TestChain_UseFirstOutcome(t *testing.T) {
	chain := NewChain(UseFirstOutcome())
	chain.Append(Succeeded("first", Params{}, WithAuthorization("a1")))
	chain.Append(Succeeded("second", Params{}, WithAuthorization("a2")))

	if chain.Authorization() != "a1" || chain.Message() != "first" {
		t.Fatalf("expected first outcome as headline, got %q/%q", chain.Authorization(), chain.Message())
	}
}

func TestChain_ObserverSeesEachOutcome(t *testing.T) {
	var seen []int
	chain := NewChain(WithObserver(func(index int, o Outcome) {
		seen = append(seen, index)
	}))
	if _, err := chain.Process(ok("a")); err != nil {
		t.Fatalf("a: %v", err)
	}
	if _, err := chain.Process(fail("b")); err != nil {
		t.Fatalf("b: %v", err)
	}
	if len(seen) != 2 || seen[0] != 0 || seen[1] != 1 {
		t.Fatalf("unexpected observer calls %v", seen)
	}
}

func TestChain_TestModeFromPrimary(t *testing.T) {
	chain := NewChain()
	chain.Append(Succeeded("ok", Params{}, WithTestMode(true)))
	if !chain.Test() {
		t.Fatalf("expected test mode from primary outcome")
	}
}

func TestChain_OutcomesIsACopy(t *testing.T) {
	chain := NewChain()
	chain.Append(Succeeded("ok", Params{}))
	history := chain.Outcomes()
	history[0] = Failed("tampered", Params{})
	if !chain.Success() {
		t.Fatalf("mutating the returned slice must not change the chain")
	}
}

func TestResultInterface(t *testing.T) {
	var _ Result = Outcome{}
	var _ Result = (*Chain)(nil)
}

func TestHistory(t *testing.T) {
	single := Failed("declined", Params{})
	if got := History(single); len(got) != 1 || got[0].Message() != "declined" {
		t.Fatalf("unexpected single history %+v", got)
	}

	c := NewChain()
	c.Append(Succeeded("one", Params{}))
	c.Append(Succeeded("two", Params{}))
	if got := History(c); len(got) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(got))
	}
	if got := History(nil); got != nil {
		t.Fatalf("expected nil history, got %+v", got)
	}
}
