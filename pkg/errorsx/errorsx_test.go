package errorsx

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonPollHTTPStatus)
	if Reason(err) != ReasonPollHTTPStatus {
		t.Fatalf("expected reason %s, got %s", ReasonPollHTTPStatus, Reason(err))
	}
	if !HasReason(err, ReasonPollHTTPStatus) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonSubmitNoOperationID)
	second := Wrap(fmt.Errorf("run job: %w", first), ReasonTransport)
	if Reason(second) != ReasonSubmitNoOperationID {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, ReasonDecode) != nil {
		t.Fatalf("expected nil")
	}
	if Reason(nil) != ReasonUnknown {
		t.Fatalf("expected unknown reason for nil")
	}
}

func TestNewKeepsUnwrapChain(t *testing.T) {
	base := errors.New("disk full")
	err := New(ReasonSinkWrite, "write transcript: %w", base)
	if !errors.Is(err, base) {
		t.Fatalf("expected errors.Is to find base error")
	}
	if Reason(err) != ReasonSinkWrite {
		t.Fatalf("expected reason %s, got %s", ReasonSinkWrite, Reason(err))
	}
	if err.Error() != "write transcript: disk full" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
