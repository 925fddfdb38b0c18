package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"runthru/internal/domain"
	"runthru/internal/logging"
)

// ComposeJob describes one final-video composition.
type ComposeJob struct {
	Video   string
	Audio   string
	Output  string
	Quality domain.Quality
	Avatar  domain.AvatarConfig
}

// Composer muxes narration audio over the captured video and optionally
// overlays an avatar image.
type Composer struct {
	Exec    Executor
	Presets *PresetLibrary
	Logger  logging.Logger
}

const (
	defaultAvatarSize = 160
	avatarMargin      = 20
)

func (c *Composer) Compose(ctx context.Context, job ComposeJob) error {
	if c == nil || c.Exec == nil {
		return errors.New("ffmpeg executor not configured")
	}
	if strings.TrimSpace(job.Video) == "" || strings.TrimSpace(job.Output) == "" {
		return errors.New("compose requires video and output paths")
	}
	presets := c.Presets
	if presets == nil {
		presets = DefaultPresetLibrary()
	}
	args := composeArgs(job, presets.ForQuality(job.Quality))
	logging.OrNop(c.Logger).Info("Composing %s (quality=%s avatar=%t)", job.Output, job.Quality, avatarEnabled(job.Avatar))
	if err := c.Exec.Run(ctx, args); err != nil {
		return fmt.Errorf("compose %s: %w", job.Output, err)
	}
	return nil
}

func avatarEnabled(a domain.AvatarConfig) bool {
	return a.Enabled && strings.TrimSpace(a.ImagePath) != ""
}

// overlayPosition returns the overlay x:y expression for a corner.
func overlayPosition(pos domain.AvatarPosition) string {
	m := avatarMargin
	switch pos {
	case domain.AvatarTopLeft:
		return fmt.Sprintf("%d:%d", m, m)
	case domain.AvatarTopRight:
		return fmt.Sprintf("W-w-%d:%d", m, m)
	case domain.AvatarBottomLeft:
		return fmt.Sprintf("%d:H-h-%d", m, m)
	default:
		return fmt.Sprintf("W-w-%d:H-h-%d", m, m)
	}
}

// composeArgs builds the ffmpeg invocation. Input 0 is the video, input 1
// the narration when present, and the avatar image comes last. Audio is
// padded so the output always runs for the full length of the video.
func composeArgs(job ComposeJob, preset Preset) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", job.Video}
	hasAudio := strings.TrimSpace(job.Audio) != ""
	if hasAudio {
		args = append(args, "-i", job.Audio)
	}
	avatarInput := -1
	if avatarEnabled(job.Avatar) {
		avatarInput = 1
		if hasAudio {
			avatarInput = 2
		}
		args = append(args, "-loop", "1", "-i", job.Avatar.ImagePath)
	}

	videoFilters := append([]string{"pad=ceil(iw/2)*2:ceil(ih/2)*2"}, preset.Filters...)
	graph := fmt.Sprintf("[0:v]%s[base]", joinFilters(videoFilters))
	videoOut := "[base]"
	if avatarInput >= 0 {
		size := job.Avatar.Size
		if size <= 0 {
			size = defaultAvatarSize
		}
		graph += fmt.Sprintf(";[%d:v]scale=%d:-1[avatar];[base][avatar]overlay=%s:shortest=1[vout]",
			avatarInput, size, overlayPosition(job.Avatar.Position))
		videoOut = "[vout]"
	}
	args = append(args, "-filter_complex", graph, "-map", videoOut)
	if hasAudio {
		args = append(args, "-map", "1:a", "-af", "apad", "-shortest", "-c:a", audioCodecFor(job.Output, preset))
	} else {
		args = append(args, "-an")
	}
	args = append(args, "-c:v", videoCodecFor(job.Output, preset))
	args = append(args, preset.Args()...)
	if !hasAudio {
		// The audio bitrate flag is harmless but noisy without audio.
		args = dropFlag(args, "-b:a")
	}
	return append(args, job.Output)
}

func dropFlag(args []string, flag string) []string {
	out := args[:0:0]
	for i := 0; i < len(args); i++ {
		if args[i] == flag && i+1 < len(args) {
			i++
			continue
		}
		out = append(out, args[i])
	}
	return out
}
