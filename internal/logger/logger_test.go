package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in  string
		out slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.out {
			t.Errorf("parseLevel(%q)=%v want %v", tt.in, got, tt.out)
		}
	}
}

func TestInitAndWithContext(t *testing.T) {
	Init("debug", "text")
	if defaultLogger == nil {
		t.Fatalf("defaultLogger not initialized")
	}

	ctx := context.WithValue(context.Background(), "request_id", "req-123")
	ctx = context.WithValue(ctx, "trace_id", "trace-abc")
	if l := WithContext(ctx); l == nil {
		t.Fatalf("WithContext returned nil")
	}

	Info("info message", "k", "v")
	Warn("warn message")
	Error("error message")
	Debug("debug message")
}

func TestForOrderAddsPaymentAttributes(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "info", "json")
	defer Init("error", "text")

	ctx := context.WithValue(context.Background(), "request_id", "req-9")
	ForOrder(ctx, "vnpay", "ipn", "vnpay:TX1").Info("payment applied")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not json: %v (%s)", err, buf.String())
	}
	for k, want := range map[string]string{
		"request_id": "req-9",
		"gateway":    "vnpay",
		"channel":    "ipn",
		"order_ref":  "vnpay:TX1",
		"msg":        "payment applied",
	} {
		if got, _ := line[k].(string); got != want {
			t.Errorf("%s=%q want %q", k, got, want)
		}
	}
}
