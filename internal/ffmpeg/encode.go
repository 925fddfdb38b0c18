package ffmpeg

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"runthru/internal/domain"
)

// FrameEncoder encodes screencast frame lists with ffmpeg's concat
// demuxer.
type FrameEncoder struct {
	Exec    Executor
	Presets *PresetLibrary
}

// EncodeFrames writes output from the frames listed in concatList with the
// preset of quality. The container is chosen by the output extension.
func (e *FrameEncoder) EncodeFrames(ctx context.Context, concatList, output string, quality domain.Quality) error {
	if e == nil || e.Exec == nil {
		return errors.New("ffmpeg executor not configured")
	}
	return e.Exec.Run(ctx, encodeArgs(concatList, output, e.Presets.ForQuality(quality)))
}

func encodeArgs(concatList, output string, preset Preset) []string {
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-f", "concat", "-safe", "0", "-i", concatList,
		"-fps_mode", "vfr",
		// yuv420p needs even dimensions.
		"-vf", joinFilters(append([]string{"pad=ceil(iw/2)*2:ceil(ih/2)*2"}, preset.Filters...)),
		"-an",
	}
	args = append(args, "-c:v", videoCodecFor(output, preset))
	p := preset
	p.AudioBitrate = ""
	if p.PixelFormat == "" {
		p.PixelFormat = "yuv420p"
	}
	// Frame timing comes from the concat list.
	p.FrameRate = ""
	args = append(args, p.Args()...)
	return append(args, output)
}

func videoCodecFor(output string, preset Preset) string {
	if preset.VideoCodec != "" {
		return preset.VideoCodec
	}
	if strings.EqualFold(filepath.Ext(output), ".webm") {
		return "libvpx-vp9"
	}
	return "libx264"
}

func audioCodecFor(output string, preset Preset) string {
	if preset.AudioCodec != "" {
		return preset.AudioCodec
	}
	if strings.EqualFold(filepath.Ext(output), ".webm") {
		return "libopus"
	}
	return "aac"
}

func joinFilters(filters []string) string {
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		if f = strings.TrimSpace(f); f != "" {
			parts = append(parts, f)
		}
	}
	return strings.Join(parts, ",")
}
