package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrNoVideoStreams is returned when a probed file carries no video.
var ErrNoVideoStreams = errors.New("ffprobe: no video streams")

type VideoStream struct {
	Codec     string
	Width     int
	Height    int
	FrameRate float64
}

type ProbeResult struct {
	Duration     time.Duration
	VideoStreams []VideoStream
	HasAudio     bool
}

// Seconds returns the duration as fractional seconds.
func (r ProbeResult) Seconds() float64 { return r.Duration.Seconds() }

// Prober inspects a media file.
type Prober interface {
	Probe(ctx context.Context, path string) (ProbeResult, error)
}

// LocalProber runs ffprobe through Exec, which should target the ffprobe
// binary.
type LocalProber struct {
	Exec Executor
}

func (p LocalProber) Probe(ctx context.Context, path string) (ProbeResult, error) {
	if strings.TrimSpace(path) == "" {
		return ProbeResult{}, errors.New("ffprobe: empty path")
	}
	if p.Exec == nil {
		return ProbeResult{}, errors.New("ffprobe executor not configured")
	}
	out, err := p.Exec.RunWithOutput(ctx, []string{
		"-v", "error", "-print_format", "json", "-show_format", "-show_streams", path,
	})
	if err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return parseProbeOutput([]byte(out))
}

type probeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func parseProbeOutput(data []byte) (ProbeResult, error) {
	var raw probeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return ProbeResult{}, fmt.Errorf("decode ffprobe output: %w", err)
	}
	var result ProbeResult
	var streamDuration float64
	for _, s := range raw.Streams {
		switch s.CodecType {
		case "video":
			rate := parseRate(s.AvgFrameRate)
			if rate == 0 {
				rate = parseRate(s.RFrameRate)
			}
			result.VideoStreams = append(result.VideoStreams, VideoStream{
				Codec: s.CodecName, Width: s.Width, Height: s.Height, FrameRate: rate,
			})
			if d, err := strconv.ParseFloat(s.Duration, 64); err == nil && d > streamDuration {
				streamDuration = d
			}
		case "audio":
			result.HasAudio = true
		}
	}
	if len(result.VideoStreams) == 0 {
		return ProbeResult{}, ErrNoVideoStreams
	}
	seconds, err := strconv.ParseFloat(raw.Format.Duration, 64)
	if err != nil || seconds <= 0 {
		seconds = streamDuration
	}
	result.Duration = time.Duration(seconds * float64(time.Second))
	return result, nil
}

// parseRate parses ffprobe rationals such as "30000/1001".
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}
