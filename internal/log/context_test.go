// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestContextIDs(t *testing.T) {
	ctx := context.Background()
	ctx = ContextWithRequestID(ctx, "req-1")
	ctx = ContextWithCorrelationID(ctx, "cor-2")
	ctx = ContextWithJobID(ctx, "job-3")

	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Fatalf("request id = %q", got)
	}
	if got := CorrelationIDFromContext(ctx); got != "cor-2" {
		t.Fatalf("correlation id = %q", got)
	}
	if got := JobIDFromContext(ctx); got != "job-3" {
		t.Fatalf("job id = %q", got)
	}
}

func TestContextIDsMissing(t *testing.T) {
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if got := RequestIDFromContext(nil); got != "" { //nolint:staticcheck
		t.Fatalf("expected empty for nil context, got %q", got)
	}
}

func TestWithContextEnrichesFields(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := ContextWithRequestID(context.Background(), "req-9")
	l := WithContext(ctx, base)
	l.Info().Msg("hello")

	if !strings.Contains(buf.String(), `"request_id":"req-9"`) {
		t.Fatalf("missing request_id in output: %s", buf.String())
	}
}

func TestWithContextNoFieldsReturnsSameLogger(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	l := WithContext(context.Background(), base)
	l.Info().Msg("plain")

	if strings.Contains(buf.String(), "request_id") {
		t.Fatalf("unexpected correlation fields: %s", buf.String())
	}
}
