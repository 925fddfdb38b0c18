package id

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// Strategy identifies the identifier generation algorithm to use.
type Strategy int

const (
	// StrategyKSUID generates lexicographically sortable identifiers using KSUID.
	StrategyKSUID Strategy = iota
	// StrategyUUIDv7 generates time-ordered identifiers using UUID version 7.
	StrategyUUIDv7
)

// ParseStrategy maps a config value to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ksuid":
		return StrategyKSUID, nil
	case "uuidv7", "uuid":
		return StrategyUUIDv7, nil
	default:
		return StrategyKSUID, fmt.Errorf("unknown id strategy %q", s)
	}
}

var defaultGenerator = &Generator{strategy: StrategyKSUID}

// Generator produces prefixed identifiers.
type Generator struct {
	mu       sync.RWMutex
	strategy Strategy
}

// SetStrategy configures the generation strategy for the default generator.
func SetStrategy(strategy Strategy) {
	defaultGenerator.mu.Lock()
	defaultGenerator.strategy = strategy
	defaultGenerator.mu.Unlock()
}

// NewRecordingID generates a recording identifier such as "rec-2Ab...".
func NewRecordingID() string {
	return defaultGenerator.newIdentifier("rec")
}

// NewUploadID generates an identifier for uploaded avatar images.
func NewUploadID() string {
	return defaultGenerator.newIdentifier("upl")
}

// NewLogID generates a short correlation id for request logs.
func NewLogID() string {
	return defaultGenerator.newIdentifier("log")
}

func (g *Generator) newIdentifier(prefix string) string {
	g.mu.RLock()
	strategy := g.strategy
	g.mu.RUnlock()

	var body string
	switch strategy {
	case StrategyUUIDv7:
		if v7, err := uuid.NewV7(); err == nil {
			body = v7.String()
			break
		}
		body = ksuid.New().String()
	default:
		body = ksuid.New().String()
	}
	return prefix + "-" + body
}

type recordingIDKey struct{}

// WithRecordingID stores the recording id on ctx.
func WithRecordingID(ctx context.Context, recordingID string) context.Context {
	return context.WithValue(ctx, recordingIDKey{}, recordingID)
}

// RecordingIDFromContext returns the recording id stored on ctx, if any.
func RecordingIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(recordingIDKey{}).(string)
	return v
}
