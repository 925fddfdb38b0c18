// Package tts synthesises narration audio.
package tts

import (
	"context"
	"time"
)

// Request is one synthesis call.
type Request struct {
	Text  string
	Voice string
	Style string
	Speed float64
}

// ProviderResult is the synthesised audio and what is known about it.
type ProviderResult struct {
	Audio       []byte
	ContentType string
	Duration    time.Duration
	Metadata    map[string]string
}

// Extension maps ContentType to a file extension without the dot.
func (r ProviderResult) Extension() string {
	switch r.ContentType {
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/ogg", "audio/opus":
		return "opus"
	case "audio/aac":
		return "aac"
	case "audio/flac":
		return "flac"
	default:
		return "wav"
	}
}

// Provider turns text into speech.
type Provider interface {
	Name() string
	Synthesize(ctx context.Context, req Request) (ProviderResult, error)
}
