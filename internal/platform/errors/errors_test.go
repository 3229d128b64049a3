package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	base := New(CodeChallengeExpired, "challenge gone")
	other := New(CodeChallengeExpired, "different message")

	if !errors.Is(base, other) {
		t.Fatalf("expected errors with the same code to match")
	}
	if errors.Is(base, New(CodeForbidden, "challenge gone")) {
		t.Fatalf("expected errors with different codes not to match")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("disk on fire")
	wrapped := Wrap(CodeStoreUnavailable, "put session", cause)

	if !errors.Is(wrapped, cause) {
		t.Fatalf("expected wrapped error to match its cause")
	}
	if wrapped.Error() != "put session" {
		t.Fatalf("unexpected message: %q", wrapped.Error())
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{name: "domain error", err: New(CodeForbidden, "nope"), want: CodeForbidden},
		{name: "wrapped domain error", err: fmt.Errorf("outer: %w", New(CodeNotFound, "missing")), want: CodeNotFound},
		{name: "plain error", err: fmt.Errorf("plain"), want: CodeUnknown},
		{name: "nil", err: nil, want: CodeUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := GetCode(tc.err); got != tc.want {
				t.Fatalf("GetCode = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeMalformedInput, http.StatusBadRequest},
		{CodeChallengeExpired, http.StatusGone},
		{CodeVerificationFailed, http.StatusUnauthorized},
		{CodeSessionInvalid, http.StatusUnauthorized},
		{CodeForbidden, http.StatusForbidden},
		{CodeCredentialNotFound, http.StatusNotFound},
		{CodeCredentialAlreadyExists, http.StatusConflict},
		{CodeUsernameTaken, http.StatusConflict},
		{CodeStoreUnavailable, http.StatusServiceUnavailable},
		{CodeUnknown, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got := tc.code.HTTPStatus(); got != tc.want {
			t.Errorf("%s.HTTPStatus() = %d, want %d", tc.code, got, tc.want)
		}
	}
}
