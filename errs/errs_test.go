package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormattingIncludesMetadata(t *testing.T) {
	err := New(
		"okx",
		CodeExchange,
		WithHTTP(400),
		WithMessage("instrument discovery failed"),
		WithRawCode("51001"),
		WithRawMessage("Instrument ID does not exist"),
		WithField("endpoint", "/api/v5/public/instruments"),
		WithField("instrument", "BTC-USDT"),
		WithRemediation("check the instrument id"),
		WithCause(errors.New("okx http 400")),
	)

	out := err.Error()
	if !strings.Contains(out, "venue=okx") {
		t.Fatalf("expected venue marker in error string: %s", out)
	}
	if !strings.Contains(out, "code=exchange_error") {
		t.Fatalf("expected code in error string: %s", out)
	}
	expectedMeta := "meta=endpoint=\"/api/v5/public/instruments\",instrument=\"BTC-USDT\""
	if !strings.Contains(out, expectedMeta) {
		t.Fatalf("expected metadata %q in error string: %s", expectedMeta, out)
	}
	if !strings.Contains(out, "remediation=\"check the instrument id\"") {
		t.Fatalf("expected remediation guidance in error string: %s", out)
	}
	if !strings.Contains(out, "cause=\"okx http 400\"") {
		t.Fatalf("expected wrapped cause in error string: %s", out)
	}
}

func TestUnknownVenueAndCode(t *testing.T) {
	err := New("  ", "")
	out := err.Error()
	if !strings.Contains(out, "venue=unknown") || !strings.Contains(out, "code=unknown") {
		t.Fatalf("expected unknown markers: %s", out)
	}
}

func TestWithFieldIgnoresEmptyKey(t *testing.T) {
	err := New("bybit", CodeInvalid, WithField(" ", "value"))
	if len(err.Metadata) != 0 {
		t.Fatalf("expected empty metadata, got %v", err.Metadata)
	}
}

func TestUnwrapAndHasCode(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := New("deribit", CodeNetwork, WithCause(cause))
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find the cause")
	}
	wrapped := fmt.Errorf("engine: %w", err)
	if !HasCode(wrapped, CodeNetwork) {
		t.Fatalf("expected network code through wrapping")
	}
	if HasCode(wrapped, CodeInvalid) {
		t.Fatalf("unexpected invalid code match")
	}
	if HasCode(cause, CodeNetwork) {
		t.Fatalf("plain errors carry no code")
	}
}

func TestNilErrorString(t *testing.T) {
	var err *E
	if err.Error() != "<nil>" {
		t.Fatalf("expected <nil>, got %q", err.Error())
	}
}
