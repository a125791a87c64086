package probe

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"log"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

// FFmpegGrabber extracts a single poster frame with ffmpeg and returns it
// as a bounded JPEG. It is the default FrameGrabber.
type FFmpegGrabber struct {
	FFmpegPath string
	WorkDir    string
	MaxEdge    int
}

func NewFFmpegGrabber(ffmpegPath, workDir string, maxEdge int) *FFmpegGrabber {
	return &FFmpegGrabber{FFmpegPath: ffmpegPath, WorkDir: workDir, MaxEdge: maxEdge}
}

// Grab seeks to offset seconds and rasterizes one frame. The temp frame
// file is removed on every exit path.
func (g *FFmpegGrabber) Grab(ctx context.Context, locator string, offset float64) ([]byte, error) {
	outPath := filepath.Join(g.WorkDir, "frame-"+uuid.NewString()+".png")
	defer os.Remove(outPath)

	cmd := exec.CommandContext(ctx, g.FFmpegPath,
		"-ss", fmt.Sprintf("%.2f", offset),
		"-i", locator,
		"-vframes", "1",
		"-y",
		outPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("frame grab: timed out")
		}
		log.Printf("Probe: frame grab failed: %s", string(output))
		return nil, fmt.Errorf("frame grab: %w", err)
	}

	return g.encodeBounded(outPath)
}

// encodeBounded shrinks the raster so its longest edge does not exceed
// MaxEdge and re-encodes it as JPEG.
func (g *FFmpegGrabber) encodeBounded(path string) ([]byte, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w > g.MaxEdge || h > g.MaxEdge {
		if w >= h {
			img = imaging.Resize(img, g.MaxEdge, 0, imaging.Lanczos)
		} else {
			img = imaging.Resize(img, 0, g.MaxEdge, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
