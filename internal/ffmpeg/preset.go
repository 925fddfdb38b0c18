package ffmpeg

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"runthru/internal/domain"
)

// Preset describes reusable output settings for one quality tier.
type Preset struct {
	Name         string
	VideoCodec   string
	AudioCodec   string
	VideoBitrate string
	AudioBitrate string
	PixelFormat  string
	FrameRate    string
	CRF          string
	Filters      []string
	ExtraArgs    []string
}

// Args returns the encoder arguments of the preset. Codec selection is
// left to the caller because it depends on the container.
func (p Preset) Args() []string {
	args := make([]string, 0, 10+len(p.ExtraArgs))
	if p.VideoBitrate != "" {
		args = append(args, "-b:v", p.VideoBitrate)
	}
	if p.CRF != "" {
		args = append(args, "-crf", p.CRF)
	}
	if p.AudioBitrate != "" {
		args = append(args, "-b:a", p.AudioBitrate)
	}
	if p.PixelFormat != "" {
		args = append(args, "-pix_fmt", p.PixelFormat)
	}
	if p.FrameRate != "" {
		args = append(args, "-r", p.FrameRate)
	}
	args = append(args, p.ExtraArgs...)
	return args
}

// DefaultPresets maps each quality tier to its built-in preset.
func DefaultPresets() map[string]Preset {
	return map[string]Preset{
		string(domain.QualityLow): {
			VideoBitrate: "1M", AudioBitrate: "96k", PixelFormat: "yuv420p", FrameRate: "15", CRF: "32",
		},
		string(domain.QualityMedium): {
			VideoBitrate: "2500k", AudioBitrate: "128k", PixelFormat: "yuv420p", FrameRate: "25", CRF: "26",
		},
		string(domain.QualityHigh): {
			VideoBitrate: "6M", AudioBitrate: "192k", PixelFormat: "yuv420p", FrameRate: "30", CRF: "20",
		},
	}
}

// PresetLibrary stores named presets.
type PresetLibrary struct {
	presets map[string]Preset
}

func NewPresetLibrary(m map[string]Preset) *PresetLibrary {
	cp := make(map[string]Preset, len(m))
	for k, v := range m {
		v.Name = k
		cp[k] = v
	}
	return &PresetLibrary{presets: cp}
}

// DefaultPresetLibrary holds DefaultPresets.
func DefaultPresetLibrary() *PresetLibrary {
	return NewPresetLibrary(DefaultPresets())
}

func (l *PresetLibrary) Get(name string) (Preset, bool) {
	if l == nil {
		return Preset{}, false
	}
	preset, ok := l.presets[name]
	return preset, ok
}

// ForQuality returns the preset of a tier, falling back to medium.
func (l *PresetLibrary) ForQuality(q domain.Quality) Preset {
	if p, ok := l.Get(string(q)); ok {
		return p
	}
	if p, ok := l.Get(string(domain.QualityMedium)); ok {
		return p
	}
	p := DefaultPresets()[string(domain.QualityMedium)]
	p.Name = string(domain.QualityMedium)
	return p
}

// LoadPresetFile reads presets from YAML and layers them over the
// defaults, so a file may override a single tier.
func LoadPresetFile(path string) (*PresetLibrary, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("load preset file: %w", err)
	}
	type rawPreset struct {
		VideoCodec   string   `yaml:"video_codec"`
		AudioCodec   string   `yaml:"audio_codec"`
		VideoBitrate string   `yaml:"video_bitrate"`
		AudioBitrate string   `yaml:"audio_bitrate"`
		PixelFormat  string   `yaml:"pixel_format"`
		FrameRate    string   `yaml:"frame_rate"`
		CRF          string   `yaml:"crf"`
		Filters      []string `yaml:"filters"`
		ExtraArgs    []string `yaml:"extra_args"`
	}
	var payload struct {
		Presets map[string]rawPreset `yaml:"presets"`
	}
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse preset file: %w", err)
	}
	presets := DefaultPresets()
	for name, rp := range payload.Presets {
		presets[name] = Preset{
			VideoCodec:   rp.VideoCodec,
			AudioCodec:   rp.AudioCodec,
			VideoBitrate: rp.VideoBitrate,
			AudioBitrate: rp.AudioBitrate,
			PixelFormat:  rp.PixelFormat,
			FrameRate:    rp.FrameRate,
			CRF:          rp.CRF,
			Filters:      append([]string(nil), rp.Filters...),
			ExtraArgs:    append([]string(nil), rp.ExtraArgs...),
		}
	}
	return NewPresetLibrary(presets), nil
}
