// Package ffmpeg drives the ffmpeg and ffprobe command-line tools.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	rterrors "runthru/internal/errors"
	"runthru/internal/logging"
)

// Executor runs one media tool invocation.
type Executor interface {
	Run(ctx context.Context, args []string) error
	RunWithOutput(ctx context.Context, args []string) (string, error)
}

// LocalExecutor runs Binary as a child process.
type LocalExecutor struct {
	Binary  string
	Timeout time.Duration
	Logger  logging.Logger
}

const stderrTail = 2048

func (e *LocalExecutor) Run(ctx context.Context, args []string) error {
	_, err := e.RunWithOutput(ctx, args)
	return err
}

// RunWithOutput returns stdout. A non-zero exit is a permanent error that
// carries the tail of stderr.
func (e *LocalExecutor) RunWithOutput(ctx context.Context, args []string) (string, error) {
	binary := strings.TrimSpace(e.Binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	logger := logging.OrNop(e.Logger)
	logger.Debug("exec %s %s", binary, strings.Join(args, " "))

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	started := time.Now()
	err := cmd.Run()
	if err == nil {
		logger.Debug("%s finished in %s", binary, time.Since(started).Round(time.Millisecond))
		return stdout.String(), nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", fmt.Errorf("%s interrupted: %w", binary, ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return "", rterrors.NewPermanent(fmt.Errorf("%s exited with code %d: %s", binary, exitErr.ExitCode(), tail(stderr.String(), stderrTail)))
	}
	return "", fmt.Errorf("run %s: %w", binary, err)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "…" + s[len(s)-n:]
}
