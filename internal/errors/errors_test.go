package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewLookupError(t *testing.T) {
	cause := errors.New("underlying error")

	err := NewLookupError(InternalError, "merge failed", cause).
		WithDrilldowns(Drilldown{Label: "Retry", Query: "ABC123"})

	if err.Code != InternalError {
		t.Errorf("Code = %v, want %v", err.Code, InternalError)
	}
	if err.Message != "merge failed" {
		t.Errorf("Message = %q, want %q", err.Message, "merge failed")
	}
	if len(err.Drilldowns) != 1 {
		t.Errorf("len(Drilldowns) = %d, want 1", len(err.Drilldowns))
	}
	if err.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), cause)
	}
}

func TestLookupError_Error(t *testing.T) {
	tests := []struct {
		name      string
		err       *LookupError
		wantParts []string
	}{
		{
			name:      "network with cause",
			err:       NewNetworkFailure("cl", errors.New("connection refused")),
			wantParts: []string{"NETWORK_FAILURE", "cl", "source unreachable", "connection refused"},
		},
		{
			name:      "not found",
			err:       NewNotFound("ts", "ABC123"),
			wantParts: []string{"NOT_FOUND", "ts", "ABC123"},
		},
		{
			name:      "no source",
			err:       NewLookupError(InvalidArgument, "plate is required", nil),
			wantParts: []string{"[INVALID_ARGUMENT] plate is required"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			for _, part := range tt.wantParts {
				if !strings.Contains(got, part) {
					t.Errorf("Error() = %q, want to contain %q", got, part)
				}
			}
		})
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, ""},
		{"lookup error", NewNotFound("cl", "X"), NotFound},
		{"wrapped", fmt.Errorf("fetch: %w", NewUnauthorized("ts", 401)), Unauthorized},
		{"deadline", context.DeadlineExceeded, Timeout},
		{"plain", errors.New("boom"), InternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassOf(t *testing.T) {
	if got := ClassOf(NewNotFound("cl", "X")); got != ClassNoResults {
		t.Errorf("ClassOf(not found) = %q, want %q", got, ClassNoResults)
	}
	if got := ClassOf(NewNetworkFailure("cl", errors.New("reset"))); got != ClassNetwork {
		t.Errorf("ClassOf(network) = %q, want %q", got, ClassNetwork)
	}
	if got := ClassOf(context.DeadlineExceeded); got != ClassNetwork {
		t.Errorf("ClassOf(deadline) = %q, want %q", got, ClassNetwork)
	}
	if got := ClassOf(NewMalformed("ts", nil)); got != ClassMalformed {
		t.Errorf("ClassOf(malformed) = %q, want %q", got, ClassMalformed)
	}
}

func TestMostInformative(t *testing.T) {
	notFoundA := NewNotFound("cl", "X")
	notFoundB := NewNotFound("ts", "X")
	network := NewNetworkFailure("ts", errors.New("dial tcp: refused"))

	t.Run("both not found keeps first", func(t *testing.T) {
		if got := MostInformative(notFoundA, notFoundB); got != notFoundA {
			t.Errorf("got %v, want %v", got, notFoundA)
		}
	})

	t.Run("network beats not found", func(t *testing.T) {
		if got := MostInformative(notFoundA, network); got != network {
			t.Errorf("got %v, want %v", got, network)
		}
		if got := MostInformative(network, notFoundA); got != network {
			t.Errorf("got %v, want %v", got, network)
		}
	})

	t.Run("nil sides", func(t *testing.T) {
		if got := MostInformative(nil, network); got != network {
			t.Errorf("got %v, want %v", got, network)
		}
		if got := MostInformative(nil, nil); got != nil {
			t.Errorf("got %v, want nil", got)
		}
	})
}

func TestCombine(t *testing.T) {
	a := NewNotFound("cl", "X")
	b := NewNetworkFailure("ts", errors.New("reset"))

	combined := Combine(a, nil, b)
	causes := Causes(combined)
	if len(causes) != 2 {
		t.Fatalf("len(Causes) = %d, want 2", len(causes))
	}
	if !errors.Is(combined, a) {
		t.Error("combined error should match first cause")
	}
	if Combine(nil, nil) != nil {
		t.Error("Combine of nils should be nil")
	}
}

func TestHint(t *testing.T) {
	if Hint(NotFound) == "" {
		t.Error("expected hint for NotFound")
	}
	if Hint(InternalError) != "" {
		t.Error("expected no hint for InternalError")
	}
}
