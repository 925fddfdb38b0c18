package browser

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFrameRecorderWritesConcatList(t *testing.T) {
	dir := t.TempDir()
	r, err := newFrameRecorder(filepath.Join(dir, "frames"))
	if err != nil {
		t.Fatalf("newFrameRecorder: %v", err)
	}

	t0 := time.Unix(1700000000, 0)
	payload := base64.StdEncoding.EncodeToString([]byte("jpeg"))
	r.add(payload, t0)
	r.add(payload, t0.Add(500*time.Millisecond))
	// Out-of-order timestamps are clamped so durations stay positive.
	r.add(payload, t0.Add(200*time.Millisecond))

	list, err := r.finish(t0.Add(2*time.Second), time.Second)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	data, err := os.ReadFile(list)
	if err != nil {
		t.Fatalf("read list: %v", err)
	}
	got := string(data)
	want := strings.Join([]string{
		"ffconcat version 1.0",
		"file 'frame-000001.jpg'", "duration 0.500",
		"file 'frame-000002.jpg'", "duration 0.001",
		"file 'frame-000003.jpg'", "duration 1.500",
		"file 'frame-000003.jpg'",
		"",
	}, "\n")
	if got != want {
		t.Fatalf("unexpected concat list:\n%s\nwant:\n%s", got, want)
	}

	if _, err := os.Stat(filepath.Join(dir, "frames", "frame-000002.jpg")); err != nil {
		t.Fatalf("frame not written: %v", err)
	}

	r.add(payload, t0.Add(3*time.Second))
	if r.count() != 3 {
		t.Fatalf("frames accepted after finish: %d", r.count())
	}
}

func TestFrameRecorderTailAndEmpty(t *testing.T) {
	r, err := newFrameRecorder(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.finish(time.Now(), time.Second); !errors.Is(err, ErrNoFrames) {
		t.Fatalf("expected ErrNoFrames, got %v", err)
	}

	frames := []capturedFrame{{path: "/x/frame-000001.jpg", at: time.Unix(10, 0)}}
	got := concatList(frames, time.Unix(10, 0), 750*time.Millisecond)
	if !strings.Contains(got, "duration 0.750") {
		t.Fatalf("tail not applied: %q", got)
	}
}

func TestXPathLiteral(t *testing.T) {
	cases := map[string]string{
		"Sign in":    "'Sign in'",
		"Don't stop": `"Don't stop"`,
		`a'b"c`:      `concat('a', "'", 'b"c')`,
	}
	for in, want := range cases {
		if got := xpathLiteral(in); got != want {
			t.Errorf("xpathLiteral(%q) = %s, want %s", in, got, want)
		}
	}
	if !strings.Contains(textXPath("  Login "), "'Login'") {
		t.Error("textXPath should trim the target")
	}
	if !strings.Contains(inputXPath("Email"), "@placeholder='Email'") {
		t.Error("inputXPath should match placeholders")
	}
}
