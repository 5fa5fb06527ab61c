package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitExportsSpans(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	var buf bytes.Buffer
	shutdown, err := Init(&buf)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	_, span := Tracer("test").Start(context.Background(), "payout.run")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), "payout.run") {
		t.Fatalf("expected exported span, got %q", buf.String())
	}
}
