package id

import (
	"context"
	"strings"
	"testing"
)

func TestNewRecordingIDIsPrefixedAndUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		v := NewRecordingID()
		if !strings.HasPrefix(v, "rec-") {
			t.Fatalf("missing prefix: %s", v)
		}
		if _, dup := seen[v]; dup {
			t.Fatalf("duplicate id %s", v)
		}
		seen[v] = struct{}{}
	}
}

func TestUUIDStrategy(t *testing.T) {
	SetStrategy(StrategyUUIDv7)
	defer SetStrategy(StrategyKSUID)

	v := NewUploadID()
	if !strings.HasPrefix(v, "upl-") || len(v) != len("upl-")+36 {
		t.Fatalf("unexpected uuid id %q", v)
	}
}

func TestParseStrategy(t *testing.T) {
	if s, err := ParseStrategy("uuidv7"); err != nil || s != StrategyUUIDv7 {
		t.Fatalf("ParseStrategy(uuidv7) = %v, %v", s, err)
	}
	if _, err := ParseStrategy("snowflake"); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestRecordingIDContext(t *testing.T) {
	ctx := WithRecordingID(context.Background(), "rec-1")
	if got := RecordingIDFromContext(ctx); got != "rec-1" {
		t.Fatalf("got %q", got)
	}
	if got := RecordingIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty id, got %q", got)
	}
}
