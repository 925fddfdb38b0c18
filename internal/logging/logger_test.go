package logging

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
)

type recordingLogger struct {
	lines []string
}

func (r *recordingLogger) Debug(format string, args ...any) { r.add("DEBUG", format, args...) }
func (r *recordingLogger) Info(format string, args ...any)  { r.add("INFO", format, args...) }
func (r *recordingLogger) Warn(format string, args ...any)  { r.add("WARN", format, args...) }
func (r *recordingLogger) Error(format string, args ...any) { r.add("ERROR", format, args...) }

func (r *recordingLogger) add(level, format string, args ...any) {
	r.lines = append(r.lines, level+" "+fmt.Sprintf(format, args...))
}

func TestOrNopHandlesTypedNil(t *testing.T) {
	var typed *recordingLogger
	if !IsNil(typed) {
		t.Fatal("expected typed nil to be reported as nil")
	}
	OrNop(typed).Info("must not panic")
}

func TestMultiFlattensAndSkipsNil(t *testing.T) {
	a, b := &recordingLogger{}, &recordingLogger{}
	logger := Multi(a, nil, Multi(b))
	logger.Warn("hello %d", 1)

	if len(a.lines) != 1 || a.lines[0] != "WARN hello 1" {
		t.Fatalf("unexpected lines on a: %v", a.lines)
	}
	if len(b.lines) != 1 {
		t.Fatalf("expected b to receive the message, got %v", b.lines)
	}
	if _, ok := Multi(a).(*recordingLogger); !ok {
		t.Fatal("single logger should be returned unwrapped")
	}
}

func TestFromContextPrefixesLogID(t *testing.T) {
	rec := &recordingLogger{}
	ctx := WithLogID(context.Background(), "rec-123")
	FromContext(ctx, rec).Info("step %d", 2)

	if got := rec.lines[0]; got != "INFO [rec-123] step 2" {
		t.Fatalf("unexpected line %q", got)
	}
}

func TestComponentLoggerRespectsLevelAndRedacts(t *testing.T) {
	var buf bytes.Buffer
	if err := Configure(LevelWarn, ""); err != nil {
		t.Fatalf("configure: %v", err)
	}
	SetOutput(&buf)
	defer func() { _ = Configure(LevelInfo, "") }()

	logger := NewComponentLogger("Test")
	logger.Info("dropped")
	logger.Warn("api_key=sk-abcdefghijklmnopqrstuv")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info line should be filtered: %q", out)
	}
	if !strings.Contains(out, "[WARN] [Test]") {
		t.Fatalf("missing level/component: %q", out)
	}
	if strings.Contains(out, "sk-abcdefghijklmnopqrstuv") {
		t.Fatalf("secret leaked: %q", out)
	}
}

func TestRedactBearer(t *testing.T) {
	got := Redact("Authorization: Bearer abc.def")
	if strings.Contains(got, "abc.def") {
		t.Fatalf("bearer token leaked: %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{"debug": LevelDebug, "WARN": LevelWarn, "error": LevelError, "": LevelInfo}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
