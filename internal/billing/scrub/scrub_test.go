package scrub

import (
	"errors"
	"strings"
	"testing"
)

func TestScrub_LiteralValues(t *testing.T) {
	transcript := `-> "{\"card\":{\"account_number\":\"4242424242424242\",\"card_verification_value\":\"789\"},\"amount\":1.00}"`
	got := Scrub(transcript,
		Literal("4242424242424242", "[FILTERED]"),
		Literal("789", "[FILTERED]"),
	)

	want := `-> "{\"card\":{\"account_number\":\"[FILTERED]\",\"card_verification_value\":\"[FILTERED]\"},\"amount\":1.00}"`
	if got != want {
		t.Fatalf("unexpected scrub\nwant %s\ngot  %s", want, got)
	}
}

func TestScrub_NoMatchIsNoop(t *testing.T) {
	transcript := "opening connection to sandbox.forte.net:443...\n<- \"HTTP/1.1 200 OK\\r\\n\""
	if got := CardholderRules().Scrub(transcript); got != transcript {
		t.Fatalf("expected transcript unchanged, got %q", got)
	}
	if got := Scrub(transcript, Literal("4111111111111111", "")); got != transcript {
		t.Fatalf("expected literal no-op, got %q", got)
	}
}

func TestScrub_Idempotent(t *testing.T) {
	transcripts := []string{
		`{"card_number":"4000100011112224","cvv":123,"name":"Jim"}`,
		`<CreditCardNumber>4200000000000000</CreditCardNumber><CVC2>001</CVC2>`,
		"POST /v3 HTTP/1.1\r\nAuthorization: Basic dXNlcjpwYXNz\r\n\r\ncard_number=4111111111111111&cvv=999",
		`\"iban\":\"FR1420041010050500013M02606\"`,
		"value FILTERED here",
	}
	rules := CardholderRules().Append(Literal("FILTERED", ""), Digits(13, 19))
	for _, tr := range transcripts {
		once := rules.Scrub(tr)
		twice := rules.Scrub(once)
		if once != twice {
			t.Fatalf("scrub not idempotent for %q\nonce  %q\ntwice %q", tr, once, twice)
		}
	}
}

func TestJSONField_KeepsQuotesAndDelimiters(t *testing.T) {
	got := JSONField("card_number").Apply(`{"card_number": "4111111111111111", "x": 1}`)
	if got != `{"card_number": "[FILTERED]", "x": 1}` {
		t.Fatalf("unexpected %s", got)
	}
	got = JSONField("cvv").Apply(`{"cvv":999}`)
	if got != `{"cvv":[FILTERED]}` {
		t.Fatalf("unexpected numeric scrub %s", got)
	}
}

func TestJSONField_RedactsEscapedQuotesInsideValue(t *testing.T) {
	rule := JSONField("card_number")

	got := rule.Apply(`{"card_number":"12\"34","x":"y"}`)
	if got != `{"card_number":"[FILTERED]","x":"y"}` {
		t.Fatalf("unexpected plain scrub %s", got)
	}

	quoted := `-> "{\"card_number\":\"12\\\"34\",\"x\":\"y\"}"`
	got = rule.Apply(quoted)
	if got != `-> "{\"card_number\":\"[FILTERED]\",\"x\":\"y\"}"` {
		t.Fatalf("unexpected quoted scrub %s", got)
	}
	if strings.Contains(got, "34") {
		t.Fatalf("tail of value survived: %s", got)
	}
}

func TestXMLElement_KeepsTags(t *testing.T) {
	got := XMLElement("CVC2").Apply(`<CREDIT_CARD_DATA><CVC2 type="x">001</CVC2></CREDIT_CARD_DATA>`)
	if got != `<CREDIT_CARD_DATA><CVC2 type="x">[FILTERED]</CVC2></CREDIT_CARD_DATA>` {
		t.Fatalf("unexpected %s", got)
	}
}

func TestHeader_KeepsScheme(t *testing.T) {
	got := Header("Authorization").Apply("Authorization: Bearer sk_live_abc\r\nContent-Type: application/json")
	if got != "Authorization: Bearer [FILTERED]\r\nContent-Type: application/json" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestHeader_EmptyValueDoesNotReachNextLine(t *testing.T) {
	in := "Authorization:\r\nX-Request-Id: req_123\r\n"
	if got := Header("Authorization").Apply(in); got != in {
		t.Fatalf("expected next header untouched, got %q", got)
	}
}

func TestFormField(t *testing.T) {
	got := FormField("cvv").Apply("amount=100&cvv=123&name=jim")
	if got != "amount=100&cvv=[FILTERED]&name=jim" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestDigits(t *testing.T) {
	got := Digits(13, 19).Apply("card 4242424242424242 amount 100")
	if got != "card [FILTERED] amount 100" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestScrub_RulesSeePreviousOutput(t *testing.T) {
	got := Scrub("secret", Literal("secret", "tmp"), Literal("tmp", "done"))
	if got != "done" {
		t.Fatalf("expected rules to chain, got %q", got)
	}
}

func TestLoadRules(t *testing.T) {
	src := `
rules:
  - json_field: card_number
  - literal: "789"
    replacement: "***"
  - pattern: '(token=)\w+'
    replacement: '${1}[FILTERED]'
  - xml_element: CVC2
  - form_field: cvv
  - header: X-Api-Key
`
	rules, err := LoadRules(strings.NewReader(src))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rules) != 6 {
		t.Fatalf("expected 6 rules, got %d", len(rules))
	}
	got := rules.Scrub(`{"card_number":"4111"} code 789 token=abc X-Api-Key: k1`)
	want := `{"card_number":"[FILTERED]"} code *** token=[FILTERED] X-Api-Key: [FILTERED]`
	if got != want {
		t.Fatalf("unexpected\nwant %q\ngot  %q", want, got)
	}
}

func TestLoadRules_Invalid(t *testing.T) {
	if _, err := LoadRules(strings.NewReader("rules:\n  - replacement: x\n")); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule, got %v", err)
	}
	if _, err := LoadRules(strings.NewReader("rules:\n  - literal: a\n    header: b\n")); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule for two matchers, got %v", err)
	}
	if _, err := LoadRules(strings.NewReader("rules:\n  - pattern: '('\n")); err == nil {
		t.Fatalf("expected compile error")
	}
	if _, err := LoadRules(strings.NewReader("rulez: []\n")); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestLoadRules_Empty(t *testing.T) {
	rules, err := LoadRules(strings.NewReader(""))
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if len(rules) != 0 {
		t.Fatalf("expected no rules")
	}
}
