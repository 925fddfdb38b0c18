// Package interpreter turns free-text instructions into typed browser actions.
package interpreter

import (
	"time"

	"runthru/internal/domain"
)

// Action is the closed set of operations the executor knows how to perform.
// The unexported marker keeps the set closed to this package.
type Action interface {
	Kind() domain.ActionKind
	action()
}

// Navigate loads URL in the page.
type Navigate struct {
	URL string
}

// Click activates the element described by Target, matched first by visible
// text and then as a CSS selector.
type Click struct {
	Target string
}

// Fill sets Value on the input described by Target.
type Fill struct {
	Target string
	Value  string
}

// Scroll moves the viewport vertically; negative pixels scroll up.
type Scroll struct {
	Pixels int
}

// Wait pauses for Duration.
type Wait struct {
	Duration time.Duration
}

// Screenshot captures the current view without interacting.
type Screenshot struct{}

// Unknown is an instruction nothing matched. It is a no-op, not an error.
type Unknown struct {
	Reason string
}

func (Navigate) Kind() domain.ActionKind   { return domain.ActionNavigate }
func (Click) Kind() domain.ActionKind      { return domain.ActionClick }
func (Fill) Kind() domain.ActionKind       { return domain.ActionFill }
func (Scroll) Kind() domain.ActionKind     { return domain.ActionScroll }
func (Wait) Kind() domain.ActionKind       { return domain.ActionWait }
func (Screenshot) Kind() domain.ActionKind { return domain.ActionScreenshot }
func (Unknown) Kind() domain.ActionKind    { return domain.ActionUnknown }

func (Navigate) action()   {}
func (Click) action()      {}
func (Fill) action()       {}
func (Scroll) action()     {}
func (Wait) action()       {}
func (Screenshot) action() {}
func (Unknown) action()    {}

const (
	// DefaultScrollPixels is used when a scroll instruction has no number.
	DefaultScrollPixels = 500
	// DefaultWait is used when a wait instruction has no duration.
	DefaultWait = 2 * time.Second
	// MaxWait caps wait actions so a stop request is honoured promptly.
	MaxWait = 30 * time.Second
)
