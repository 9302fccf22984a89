package gateways

import (
	"errors"
	"strings"
	"testing"
)

func TestMessageFromErrors(t *testing.T) {
	tests := []struct {
		name string
		errs []APIError
		want string
	}{
		{name: "none", want: "OK"},
		{name: "one", errs: []APIError{{Code: "not_found", Message: "Customer not found"}}, want: "Customer not found (not_found)"},
		{
			name: "several",
			errs: []APIError{{Code: "invalid_parameter", Message: "Bad email"}, {Code: "missing_parameter", Message: "Name required"}},
			want: "Bad email (invalid_parameter) Name required (missing_parameter)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MessageFromErrors(tt.errs); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestAPIFailure_Error(t *testing.T) {
	var err error = &APIFailure{StatusCode: 404, Errors: []APIError{{Code: "not_found", Message: "gone"}}}
	var failure *APIFailure
	if !errors.As(err, &failure) || failure.StatusCode != 404 {
		t.Fatalf("expected APIFailure, got %v", err)
	}
	if !strings.Contains(err.Error(), "gone (not_found)") {
		t.Fatalf("unexpected error text %q", err.Error())
	}
}
