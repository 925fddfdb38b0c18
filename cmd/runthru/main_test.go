package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"runthru/internal/config"
	"runthru/internal/domain"
	"runthru/internal/events"
	"runthru/internal/interpreter"
	"runthru/internal/store/filestore"
	"runthru/internal/store/memstore"
)

func init() { color.NoColor = true }

func TestInterpretCommand(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"interpret", "go to example.com", `Type "ada" into "Email"`, "dance"})
	require.NoError(t, root.Execute())

	text := out.String()
	assert.Contains(t, text, "-> navigate https://example.com")
	assert.Contains(t, text, `-> fill "Email" with "ada"`)
	assert.Contains(t, text, "-> unknown (no rule matched)")
}

func TestVersionCommand(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "runthru dev (none)\n", out.String())
}

func TestFormatAction(t *testing.T) {
	assert.Equal(t, "scroll -300px", formatAction(interpreter.Scroll{Pixels: -300}))
	assert.Equal(t, "wait 2s", formatAction(interpreter.Wait{Duration: 2 * time.Second}))
	assert.Equal(t, "screenshot", formatAction(interpreter.Screenshot{}))
}

func TestReadInstructionFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steps.txt")
	require.NoError(t, os.WriteFile(path, []byte("# login flow\nnavigate to https://example.com\n\n  click Login  \n"), 0o644))
	lines, err := readInstructionFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"navigate to https://example.com", "click Login"}, lines)

	_, err = readInstructionFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestOpenStoreDrivers(t *testing.T) {
	ctx := context.Background()
	st, err := openStore(ctx, config.StoreConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &memstore.Store{}, st)

	st, err = openStore(ctx, config.StoreConfig{Driver: "file", Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &filestore.Store{}, st)

	_, err = openStore(ctx, config.StoreConfig{Driver: "cassandra"})
	assert.Error(t, err)
}

func TestAllowedOrigins(t *testing.T) {
	assert.Nil(t, allowedOrigins([]string{"*"}))
	assert.Equal(t, []string{"https://app.example.com"}, allowedOrigins([]string{"https://app.example.com"}))
}

func TestPrinterRendersSteps(t *testing.T) {
	var out bytes.Buffer
	p := newPrinter(&out)
	p.event(events.Event{Type: events.TypeProgress, Progress: 20, CurrentStep: "Step 1/2: click Login"})
	p.event(events.Event{Type: events.TypeProgress, Progress: 20, CurrentStep: "Step 1/2: click Login"})
	p.event(events.Event{Type: events.TypeStep, Step: &domain.Step{Sequence: 1, Instruction: "click Login", Action: domain.ActionClick, Error: "no element"}})
	p.summary(&domain.Recording{Status: domain.StatusFailed, CurrentStep: domain.StopReason})

	text := out.String()
	assert.Equal(t, 1, bytes.Count(out.Bytes(), []byte("[ 20%]")), "repeated progress lines are collapsed")
	assert.Contains(t, text, "✗ 1. click Login [click] no element")
	assert.Contains(t, text, "Failed: Stopped by user")
}
