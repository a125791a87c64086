package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
)

// FFprobe shells out to ffprobe for stream metadata. It is the default
// MetadataProber; the engine only needs duration and visual dimensions.
type FFprobe struct {
	Path string
}

func NewFFprobe(path string) *FFprobe { return &FFprobe{Path: path} }

type ProbeInfo struct {
	Format  FormatInfo   `json:"format"`
	Streams []StreamInfo `json:"streams"`
}

type FormatInfo struct {
	Filename string `json:"filename"`
	Duration string `json:"duration"`
}

type StreamInfo struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

func (f *FFprobe) Probe(ctx context.Context, locator string) (*ProbeInfo, error) {
	cmd := exec.CommandContext(ctx, f.Path,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		locator,
	)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}
	var info ProbeInfo
	if err := json.Unmarshal(output, &info); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	return &info, nil
}

// DurationSeconds returns the container duration, 0 when absent or unparsable.
func (p *ProbeInfo) DurationSeconds() float64 {
	d, _ := strconv.ParseFloat(p.Format.Duration, 64)
	return d
}

// VisualWidth returns the width of the first video stream, 0 when the file
// has no picture (pure audio, or audio mislabeled as video).
func (p *ProbeInfo) VisualWidth() int {
	for _, s := range p.Streams {
		if s.CodecType == "video" {
			return s.Width
		}
	}
	return 0
}

// HasAudioStream reports whether any audio stream is present.
func (p *ProbeInfo) HasAudioStream() bool {
	for _, s := range p.Streams {
		if s.CodecType == "audio" {
			return true
		}
	}
	return false
}
