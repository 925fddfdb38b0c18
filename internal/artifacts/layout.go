// Package artifacts owns the on-disk layout of a recording's files.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	framesSubdir      = "frames"
	screenshotsSubdir = "screenshots"
	uploadsSubdir     = "uploads"
)

var idSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// SanitizeID makes a recording id safe to use as a directory name.
func SanitizeID(id string) string {
	s := idSanitizer.ReplaceAllString(strings.TrimSpace(id), "_")
	return strings.Trim(s, "._-")
}

// Layout resolves per-recording paths under a single root:
//
//	<root>/<id>/frames/
//	<root>/<id>/recording.<fmt>
//	<root>/<id>/screenshots/step-NNN.png
//	<root>/<id>/narration.<ext>
//	<root>/<id>/final.<fmt>
type Layout struct {
	root string
}

// NewLayout creates the root directory when missing.
func NewLayout(root string) (*Layout, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("artifacts root is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts root: %w", err)
	}
	return &Layout{root: root}, nil
}

func (l *Layout) Root() string { return l.root }

// Dir is the recording's directory. It is not created.
func (l *Layout) Dir(recordingID string) string {
	id := SanitizeID(recordingID)
	if id == "" {
		id = "recording"
	}
	return filepath.Join(l.root, id)
}

// Ensure creates the recording directory and its screenshots subdirectory.
func (l *Layout) Ensure(recordingID string) (string, error) {
	dir := l.Dir(recordingID)
	if err := os.MkdirAll(filepath.Join(dir, screenshotsSubdir), 0o755); err != nil {
		return "", fmt.Errorf("create recording dir: %w", err)
	}
	return dir, nil
}

func (l *Layout) FramesDir(recordingID string) string {
	return filepath.Join(l.Dir(recordingID), framesSubdir)
}

func (l *Layout) RawVideo(recordingID, format string) string {
	return filepath.Join(l.Dir(recordingID), "recording."+normalizeExt(format, "mp4"))
}

func (l *Layout) Screenshot(recordingID string, seq int) string {
	return filepath.Join(l.Dir(recordingID), screenshotsSubdir, fmt.Sprintf("step-%03d.png", seq))
}

func (l *Layout) Narration(recordingID, ext string) string {
	return filepath.Join(l.Dir(recordingID), "narration."+normalizeExt(ext, "mp3"))
}

func (l *Layout) FinalVideo(recordingID, format string) string {
	return filepath.Join(l.Dir(recordingID), "final."+normalizeExt(format, "mp4"))
}

// UploadsDir holds user-supplied files such as avatar images.
func (l *Layout) UploadsDir() string {
	return filepath.Join(l.root, uploadsSubdir)
}

// WriteScreenshot stores a step screenshot and returns its path.
func (l *Layout) WriteScreenshot(recordingID string, seq int, png []byte) (string, error) {
	path := l.Screenshot(recordingID, seq)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}

// Contains reports whether path lies inside the recording's directory.
func (l *Layout) Contains(recordingID, path string) bool {
	rel, err := filepath.Rel(l.Dir(recordingID), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// RemoveFrames deletes the intermediate screencast frames once the raw
// video exists.
func (l *Layout) RemoveFrames(recordingID string) error {
	if err := os.RemoveAll(l.FramesDir(recordingID)); err != nil {
		return fmt.Errorf("remove frames: %w", err)
	}
	return nil
}

// Remove deletes everything stored for the recording. A missing directory
// is not an error.
func (l *Layout) Remove(recordingID string) error {
	if SanitizeID(recordingID) == "" {
		return fmt.Errorf("refusing to remove artifacts for empty id")
	}
	if err := os.RemoveAll(l.Dir(recordingID)); err != nil {
		return fmt.Errorf("remove artifacts: %w", err)
	}
	return nil
}

// Exists reports whether path names an existing regular file.
func Exists(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func normalizeExt(ext, fallback string) string {
	ext = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
	if ext == "" {
		return fallback
	}
	return ext
}
