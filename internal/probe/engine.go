// Package probe derives duration and thumbnail/cover-art metadata from media
// files using best-effort local decoding. The engine is pure request/response:
// it knows nothing about queues or coordination, absorbs every decode failure
// into a terminal Result, and never returns an error to its caller.
package probe

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultVideoTimeout bounds the general (video-capable) path.
	DefaultVideoTimeout = 15 * time.Second
	// DefaultAudioTimeout bounds the audio duration-only fast path.
	DefaultAudioTimeout = 8 * time.Second
	// DefaultArtworkTimeout caps the independent cover-art read.
	DefaultArtworkTimeout = 5 * time.Second
	// DefaultSettleDelay is how long to wait before re-probing a container
	// whose reported duration has not stabilized yet.
	DefaultSettleDelay = 500 * time.Millisecond
)

type MetadataProber interface {
	Probe(ctx context.Context, locator string) (*ProbeInfo, error)
}

type FrameGrabber interface {
	Grab(ctx context.Context, locator string, offset float64) ([]byte, error)
}

type ArtworkReader interface {
	ReadCover(ctx context.Context, locator string) ([]byte, error)
}

// Options tweaks a single extraction attempt. SkipImage selects the
// duration-only fast path; ForceKind bypasses classification entirely.
type Options struct {
	SkipImage bool
	ForceKind Kind
}

// Result is the terminal outcome of one attempt. Duration is floored to
// whole seconds and 0 always means "undetermined", never "zero-length".
// ClientIncompatible signals that this client's decoder could not process
// the item and a server-side fallback may be warranted.
type Result struct {
	Duration           int
	Thumbnail          []byte
	Success            bool
	ClientIncompatible bool
}

type Engine struct {
	Prober  MetadataProber
	Grabber FrameGrabber
	Artwork ArtworkReader

	VideoTimeout   time.Duration
	AudioTimeout   time.Duration
	ArtworkTimeout time.Duration
	SettleDelay    time.Duration
}

// NewEngine builds an engine backed by local ffprobe/ffmpeg invocations and
// container tag inspection.
func NewEngine(ffmpegPath, ffprobePath, workDir string, maxEdge int) *Engine {
	return &Engine{
		Prober:         NewFFprobe(ffprobePath),
		Grabber:        NewFFmpegGrabber(ffmpegPath, workDir, maxEdge),
		Artwork:        TagArtworkReader{},
		VideoTimeout:   DefaultVideoTimeout,
		AudioTimeout:   DefaultAudioTimeout,
		ArtworkTimeout: DefaultArtworkTimeout,
		SettleDelay:    DefaultSettleDelay,
	}
}

// Extract resolves {duration, thumbnail} for the locator. Audio items with
// SkipImage run under the short duration-only budget; everything else gets
// the general budget. Whatever happens inside, the returned Result is
// terminal: a timeout or decode error finishes with the duration known so
// far, Success = duration > 0, and ClientIncompatible set.
func (e *Engine) Extract(ctx context.Context, locator string, hint Kind, opts Options) Result {
	effectiveHint := hint
	if opts.ForceKind != KindUnknown {
		effectiveHint = opts.ForceKind
	}
	kind := Classify(locator, effectiveHint)

	budget := e.VideoTimeout
	if kind == KindAudio && opts.SkipImage {
		budget = e.AudioTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	if kind == KindAudio {
		return e.extractAudio(ctx, locator, opts.SkipImage, 0)
	}
	return e.extractVideo(ctx, locator, opts.SkipImage)
}

func (e *Engine) extractVideo(ctx context.Context, locator string, skipImage bool) Result {
	info, err := e.Prober.Probe(ctx, locator)
	if err != nil {
		log.Printf("Probe: metadata failed for %s: %v", locator, err)
		return failed(0)
	}

	dur := info.DurationSeconds()

	// Zero visual width with a positive duration means a mis-tagged audio
	// file; switch to the audio path under the remaining budget.
	if info.VisualWidth() == 0 && dur > 0 {
		return e.extractAudio(ctx, locator, skipImage, dur)
	}

	if dur <= 0 {
		return failed(0)
	}

	res := Result{Duration: int(dur), Success: true}
	if skipImage {
		return res
	}

	offset := 2.0
	if half := dur / 2; half < offset {
		offset = half
	}
	thumb, err := e.Grabber.Grab(ctx, locator, offset)
	if err != nil {
		log.Printf("Probe: thumbnail failed for %s: %v", locator, err)
		return failed(dur)
	}
	res.Thumbnail = thumb
	return res
}

// extractAudio resolves duration from container metadata and, unless
// skipImage, reads embedded cover art concurrently under its own cap.
// knownDur carries a duration already resolved by a video-path probe so the
// reclassification fallback does not probe twice.
func (e *Engine) extractAudio(ctx context.Context, locator string, skipImage bool, knownDur float64) Result {
	var cover []byte
	var g errgroup.Group

	if !skipImage && e.Artwork != nil {
		g.Go(func() error {
			actx, cancel := context.WithTimeout(ctx, e.ArtworkTimeout)
			defer cancel()
			data, err := e.Artwork.ReadCover(actx, locator)
			if err != nil {
				log.Printf("Probe: cover art read failed for %s: %v", locator, err)
				return nil
			}
			cover = data
			return nil
		})
	}

	dur := knownDur
	if dur <= 0 {
		dur = e.resolveDuration(ctx, locator)
	}

	g.Wait()

	if dur <= 0 {
		return failed(0)
	}
	return Result{Duration: int(dur), Thumbnail: cover, Success: true}
}

// resolveDuration probes the container, and if the reported duration has not
// stabilized yet, waits a short settle delay and probes once more. Some
// containers publish metadata before the duration is final.
func (e *Engine) resolveDuration(ctx context.Context, locator string) float64 {
	info, err := e.Prober.Probe(ctx, locator)
	if err != nil {
		log.Printf("Probe: audio metadata failed for %s: %v", locator, err)
		return 0
	}
	if dur := info.DurationSeconds(); dur > 0 {
		return dur
	}

	select {
	case <-ctx.Done():
		return 0
	case <-time.After(e.SettleDelay):
	}

	info, err = e.Prober.Probe(ctx, locator)
	if err != nil {
		return 0
	}
	return info.DurationSeconds()
}

func failed(dur float64) Result {
	return Result{
		Duration:           int(dur),
		Success:            dur > 0,
		ClientIncompatible: true,
	}
}
