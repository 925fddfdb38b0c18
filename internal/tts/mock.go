package tts

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"time"
)

// MockProvider synthesises silence sized to the narration, for development
// and runs without a speech service.
type MockProvider struct {
	SampleRate int
}

func (m MockProvider) Name() string {
	return "mock"
}

func (m MockProvider) Synthesize(ctx context.Context, req Request) (ProviderResult, error) {
	if err := ctx.Err(); err != nil {
		return ProviderResult{}, err
	}
	rate := m.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	duration := estimateDuration(req.Text, req.Speed)
	return ProviderResult{
		Audio:       silentWAV(duration, rate),
		ContentType: "audio/wav",
		Duration:    duration,
		Metadata:    map[string]string{"voice": req.Voice},
	}, nil
}

// estimateDuration assumes roughly twelve characters per second of speech.
func estimateDuration(text string, speed float64) time.Duration {
	seconds := float64(len([]rune(text))) / 12.0
	if speed > 0 {
		seconds /= speed
	}
	seconds = math.Max(seconds, 2)
	return time.Duration(seconds * float64(time.Second))
}

// silentWAV renders 16-bit mono PCM silence.
func silentWAV(duration time.Duration, sampleRate int) []byte {
	samples := int(math.Ceil(duration.Seconds() * float64(sampleRate)))
	if samples < sampleRate {
		samples = sampleRate
	}
	dataSize := samples * 2
	buf := bytes.NewBuffer(make([]byte, 0, 44+dataSize))
	le := binary.LittleEndian
	buf.WriteString("RIFF")
	_ = binary.Write(buf, le, uint32(36+dataSize))
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(buf, le, uint32(16))
	_ = binary.Write(buf, le, uint16(1)) // PCM
	_ = binary.Write(buf, le, uint16(1)) // mono
	_ = binary.Write(buf, le, uint32(sampleRate))
	_ = binary.Write(buf, le, uint32(sampleRate*2))
	_ = binary.Write(buf, le, uint16(2))
	_ = binary.Write(buf, le, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(buf, le, uint32(dataSize))
	buf.Write(make([]byte, dataSize))
	return buf.Bytes()
}
