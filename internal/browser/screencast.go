package browser

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"runthru/internal/domain"
)

// FrameEncoder turns an ffmpeg concat list of still frames into a video
// at the recording's quality tier.
type FrameEncoder interface {
	EncodeFrames(ctx context.Context, concatList, output string, quality domain.Quality) error
}

// ErrNoFrames is returned when a recording captured nothing.
var ErrNoFrames = errors.New("no frames captured")

type capturedFrame struct {
	path string
	at   time.Time
}

// frameRecorder stores screencast frames on disk in arrival order.
type frameRecorder struct {
	dir string

	mu     sync.Mutex
	frames []capturedFrame
	err    error
	closed bool
}

func newFrameRecorder(dir string) (*frameRecorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create frame dir: %w", err)
	}
	return &frameRecorder{dir: dir}, nil
}

// add decodes and writes one base64 JPEG frame. at is the capture time
// reported by the browser, or arrival time when absent.
func (r *frameRecorder) add(data string, at time.Time) {
	raw, err := base64.StdEncoding.DecodeString(data)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if err != nil {
		r.err = fmt.Errorf("decode frame: %w", err)
		return
	}
	path := filepath.Join(r.dir, fmt.Sprintf("frame-%06d.jpg", len(r.frames)+1))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		r.err = fmt.Errorf("write frame: %w", err)
		return
	}
	if at.IsZero() {
		at = time.Now()
	}
	if n := len(r.frames); n > 0 && at.Before(r.frames[n-1].at) {
		at = r.frames[n-1].at
	}
	r.frames = append(r.frames, capturedFrame{path: path, at: at})
}

// finish stops accepting frames and writes the concat list, returning its
// path. The final frame is held for tail before the video ends.
func (r *frameRecorder) finish(end time.Time, tail time.Duration) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if len(r.frames) == 0 {
		if r.err != nil {
			return "", r.err
		}
		return "", ErrNoFrames
	}
	listPath := filepath.Join(r.dir, "frames.txt")
	if err := os.WriteFile(listPath, []byte(concatList(r.frames, end, tail)), 0o644); err != nil {
		return "", fmt.Errorf("write concat list: %w", err)
	}
	return listPath, nil
}

func (r *frameRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// concatList renders frames in the ffmpeg concat demuxer format. Each frame
// lasts until the next one arrives; the last lasts until end (at least tail).
func concatList(frames []capturedFrame, end time.Time, tail time.Duration) string {
	var b strings.Builder
	b.WriteString("ffconcat version 1.0\n")
	for i, f := range frames {
		var d time.Duration
		if i+1 < len(frames) {
			d = frames[i+1].at.Sub(f.at)
		} else {
			d = end.Sub(f.at)
			if d < tail {
				d = tail
			}
		}
		if d <= 0 {
			d = time.Millisecond
		}
		fmt.Fprintf(&b, "file '%s'\nduration %.3f\n", escapeConcatPath(filepath.Base(f.path)), d.Seconds())
	}
	// The concat demuxer ignores the duration of the last entry unless the
	// file is repeated.
	fmt.Fprintf(&b, "file '%s'\n", escapeConcatPath(filepath.Base(frames[len(frames)-1].path)))
	return b.String()
}

func escapeConcatPath(p string) string {
	return strings.ReplaceAll(p, "'", `'\''`)
}
