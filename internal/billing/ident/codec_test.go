package ident

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncodeDecode_CustomerAndPaymentMethod(t *testing.T) {
	token := Encode("cust_123", "pm_456")
	if token != "cust_123|pm_456" {
		t.Fatalf("unexpected token %q", token)
	}
	if diff := cmp.Diff([]string{"cust_123", "pm_456"}, Decode(token)); diff != "" {
		t.Fatalf("decode mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode_SingleToken(t *testing.T) {
	if diff := cmp.Diff([]string{"single_token"}, Decode("single_token")); diff != "" {
		t.Fatalf("decode mismatch (-want +got):\n%s", diff)
	}
}

func TestRoundTrip(t *testing.T) {
	cases := [][]string{
		{"a"},
		{"cust_1", "pm_1"},
		{"trn_9b2", "123456", "extra"},
		{"CU0004CKN9T1HZ", "BA00046869V55G", "MD0004471PDN9N"},
		{"has#hash", "and space"},
	}
	for _, parts := range cases {
		got := Decode(Encode(parts...))
		if diff := cmp.Diff(parts, got); diff != "" {
			t.Fatalf("round trip %v (-want +got):\n%s", parts, diff)
		}
	}
}

func TestEmptyList(t *testing.T) {
	if Encode() != "" {
		t.Fatalf("expected empty encoding")
	}
	if got := Decode(""); len(got) != 0 {
		t.Fatalf("expected empty list, got %v", got)
	}
}

func TestHashCodec(t *testing.T) {
	token := Hash.Encode("trn_abc", "123456")
	if token != "trn_abc#123456" {
		t.Fatalf("unexpected token %q", token)
	}
	if Hash.Part(token, 0) != "trn_abc" || Hash.Part(token, 1) != "123456" {
		t.Fatalf("unexpected parts of %q", token)
	}
	if Hash.Part(token, 2) != "" || Hash.Part(token, -1) != "" {
		t.Fatalf("out of range parts should be empty")
	}
}

func TestZeroCodecUsesPipe(t *testing.T) {
	var c Codec
	if c.Encode("a", "b") != "a|b" {
		t.Fatalf("zero codec should default to pipe")
	}
}

func TestDecodeN(t *testing.T) {
	got := Pipe.DecodeN("cust|pm|tail|more", 2)
	if diff := cmp.Diff([]string{"cust", "pm|tail|more"}, got); diff != "" {
		t.Fatalf("DecodeN mismatch (-want +got):\n%s", diff)
	}
	if got := Pipe.DecodeN("cust", 2); len(got) != 1 || got[0] != "cust" {
		t.Fatalf("expected single part, got %v", got)
	}
}

func TestEncodeStrict(t *testing.T) {
	if _, err := Pipe.EncodeStrict("cust", "p|m"); !errors.Is(err, ErrSeparatorInPart) {
		t.Fatalf("expected separator collision, got %v", err)
	}
	if _, err := Pipe.EncodeStrict("cust", ""); !errors.Is(err, ErrEmptyPart) {
		t.Fatalf("expected empty part error, got %v", err)
	}
	token, err := Pipe.EncodeStrict("cust", "pm")
	if err != nil || token != "cust|pm" {
		t.Fatalf("unexpected strict encode %q %v", token, err)
	}
}

func TestIsComposite(t *testing.T) {
	if !Pipe.IsComposite("a|b") || Pipe.IsComposite("ab") {
		t.Fatalf("unexpected composite detection")
	}
}
