package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "dslite-test"})

	l := WithComponent("sqliteds")
	l.Info().Msg("hello")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output not JSON: %v", err)
	}
	if entry[FieldComponent] != "sqliteds" {
		t.Errorf("expected component sqliteds, got %v", entry[FieldComponent])
	}
	if entry["service"] != "dslite-test" {
		t.Errorf("expected service dslite-test, got %v", entry["service"])
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-123")
	if got := RequestIDFromContext(ctx); got != "req-123" {
		t.Fatalf("expected req-123, got %q", got)
	}
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty request ID, got %q", got)
	}
}
