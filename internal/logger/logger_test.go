package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gatekeeper/internal/models"
	"gatekeeper/internal/version"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
)

var testVersion = version.Info{Version: "1.0.0", GitCommit: "abc1234", BuildDate: "2026-01-01T00:00:00Z", InstanceID: "instance-1", Hostname: "replica-a"}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input     string
		expected  slog.Level
		expectErr bool
	}{
		{input: "debug", expected: slog.LevelDebug},
		{input: "info", expected: slog.LevelInfo},
		{input: "warn", expected: slog.LevelWarn},
		{input: "error", expected: slog.LevelError},
		{input: "DEBUG", expected: slog.LevelDebug},
		{input: " Info ", expected: slog.LevelInfo},
		{input: "warn+2", expected: slog.LevelWarn + 2},
		{input: "verbose", expectErr: true},
		{input: "", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := parseLevel(tt.input)
			if tt.expectErr {
				if err == nil {
					t.Errorf("expected error for input %q, got nil", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error for input %q: %v", tt.input, err)
			}
			if level != tt.expected {
				t.Errorf("expected level %v, got %v", tt.expected, level)
			}
		})
	}
}

func TestSetup(t *testing.T) {
	tests := []struct {
		name       string
		cfg        models.LoggingConfig
		wantCloser bool
		wantErr    bool
	}{
		{name: "json stdout", cfg: models.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}},
		{name: "text stdout", cfg: models.LoggingConfig{Level: "debug", Format: "text", Output: "stdout"}},
		{name: "stderr", cfg: models.LoggingConfig{Level: "warn", Format: "json", Output: "stderr"}},
		{name: "unknown output falls back to stdout", cfg: models.LoggingConfig{Level: "info", Output: "syslog"}},
		{name: "file", cfg: models.LoggingConfig{Level: "info", Format: "json", Output: "file", FilePath: filepath.Join(t.TempDir(), "gk.log")}, wantCloser: true},
		{name: "file without path", cfg: models.LoggingConfig{Level: "info", Output: "file"}, wantErr: true},
		{name: "unwritable file", cfg: models.LoggingConfig{Level: "info", Output: "file", FilePath: "/nonexistent/directory/gk.log"}, wantErr: true},
		{name: "bad level", cfg: models.LoggingConfig{Level: "loud", Output: "stdout"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, closer, err := Setup(tt.cfg, testVersion)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if logger == nil {
				t.Fatal("expected non-nil logger")
			}
			if (closer != nil) != tt.wantCloser {
				t.Errorf("closer = %v, want closer: %t", closer, tt.wantCloser)
			}
			if closer != nil {
				closer.Close()
			}
		})
	}
}

func TestSetupFileOutputCarriesReplicaFields(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "gatekeeper.log")
	logger, closer, err := Setup(models.LoggingConfig{Level: "info", Format: "json", Output: "file", FilePath: logFile}, testVersion)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer closer.Close()

	logger.Info("token issued", "token_id", "jti-1")

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, data)
	}
	for key, want := range map[string]string{
		"msg":         "token issued",
		"token_id":    "jti-1",
		"instance_id": "instance-1",
		"hostname":    "replica-a",
		"version":     "1.0.0",
	} {
		if entry[key] != want {
			t.Errorf("%s = %v, want %q", key, entry[key], want)
		}
	}
}

func TestRedactsCredentials(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newHandler(&buf, "json", slog.LevelInfo))

	logger.Info("login attempt",
		"email", "a@example.com",
		"password", "hunter22",
		"Authorization", "Bearer abc.def.ghi",
		slog.Group("jwt", slog.String("secret", "s3cr3t")),
		"token_id", "jti-7",
	)

	out := buf.String()
	for _, leaked := range []string{"hunter22", "abc.def.ghi", "s3cr3t"} {
		if strings.Contains(out, leaked) {
			t.Errorf("log output leaks %q: %s", leaked, out)
		}
	}
	if !strings.Contains(out, `"token_id":"jti-7"`) {
		t.Errorf("token ids must stay visible: %s", out)
	}
	if strings.Count(out, Redacted) != 3 {
		t.Errorf("expected three redacted values: %s", out)
	}
}

func TestTraceCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newHandler(&buf, "json", slog.LevelInfo)).With("component", "gate")

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	logger.InfoContext(ctx, "with span")
	logger.Info("without span")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `"trace_id":"4bf92f3577b34da6a3ce929d0e0e4736"`) || !strings.Contains(lines[0], `"span_id":"00f067aa0ba902b7"`) {
		t.Errorf("span fields missing: %s", lines[0])
	}
	if strings.Contains(lines[1], "trace_id") {
		t.Errorf("unexpected trace fields: %s", lines[1])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newHandler(&buf, "text", slog.LevelWarn))

	logger.Info("bucket refilled")
	logger.Warn("rate limit store unavailable")

	output := buf.String()
	if strings.Contains(output, "bucket refilled") {
		t.Error("info message should have been filtered by warn level")
	}
	if !strings.Contains(output, "rate limit store unavailable") {
		t.Error("warn message should have appeared")
	}
}

func TestContextLogger(t *testing.T) {
	ctx := context.Background()
	if FromContext(ctx) != slog.Default() {
		t.Error("expected default logger for empty context")
	}

	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))
	ctx = WithContext(ctx, base)
	ctx = WithRequestID(ctx, "req-123")

	if got := RequestIDFromContext(ctx); got != "req-123" {
		t.Errorf("RequestIDFromContext() = %q, want %q", got, "req-123")
	}

	FromContext(ctx).Info("tagged")
	if !strings.Contains(buf.String(), `"request_id":"req-123"`) {
		t.Errorf("expected request id on context logger, got: %s", buf.String())
	}

	if RequestIDFromContext(context.Background()) != "" {
		t.Error("expected empty request id for empty context")
	}
}

func TestNewRequestID(t *testing.T) {
	seen := make(map[string]bool)
	prev := ""
	for i := 0; i < 100; i++ {
		id := NewRequestID()
		if _, err := ulid.ParseStrict(id); err != nil {
			t.Fatalf("NewRequestID() = %q is not a ULID: %v", id, err)
		}
		if seen[id] {
			t.Fatalf("duplicate request id %q", id)
		}
		if id <= prev {
			t.Fatalf("request ids not monotonic: %q after %q", id, prev)
		}
		seen[id] = true
		prev = id
	}
}
