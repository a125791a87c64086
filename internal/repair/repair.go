// Package repair fixes individual items as the user encounters them: an
// audio card with a placeholder thumbnail scrolling into view, or a watch
// session on an item whose metadata never got extracted. Each trigger is a
// single attempt, gated so it can never fight the background workers for
// decoding resources and never re-fails on an item already known bad.
package repair

import (
	"context"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/clipdeck/mediameta/internal/catalog"
	"github.com/clipdeck/mediameta/internal/coord"
	"github.com/clipdeck/mediameta/internal/probe"
)

const (
	// DefaultDebounce keeps a card the user merely scrolls past from
	// triggering a decode; the trigger must still be live when it elapses.
	DefaultDebounce = time.Second

	// DefaultMinWatchElapsed is how far playback must progress before the
	// watch-page variant fires.
	DefaultMinWatchElapsed = 5 * time.Second

	reportTimeout = 30 * time.Second
)

// Outcome tells the trigger's caller what happened to the attempt.
type Outcome string

const (
	OutcomeRepaired    Outcome = "repaired"
	OutcomeFailed      Outcome = "failed"
	OutcomeNotEligible Outcome = "not-eligible"
	OutcomeKnownBad    Outcome = "known-bad"
	OutcomeBusy        Outcome = "busy"
	OutcomeThrottled   Outcome = "throttled"
	OutcomeCancelled   Outcome = "cancelled"
)

type Reporter interface {
	ReportMetadata(ctx context.Context, id string, rep catalog.Report) error
}

type Engine interface {
	Extract(ctx context.Context, locator string, hint probe.Kind, opts probe.Options) probe.Result
}

type Repairer struct {
	sink   Reporter
	engine Engine
	coord  *coord.Coordinator

	Debounce        time.Duration
	MinWatchElapsed time.Duration

	// limiter absorbs bursts of visibility events from fast scrolling.
	limiter *rate.Limiter
}

func New(sink Reporter, engine Engine, c *coord.Coordinator) *Repairer {
	return &Repairer{
		sink:            sink,
		engine:          engine,
		coord:           c,
		Debounce:        DefaultDebounce,
		MinWatchElapsed: DefaultMinWatchElapsed,
		limiter:         rate.NewLimiter(rate.Every(time.Second), 3),
	}
}

// CardVisible handles a card scrolling into view. Only audio items still
// wearing the default thumbnail are eligible; the attempt is duration-only.
// The caller's context doubles as the visibility signal: if the card leaves
// the viewport the front-end aborts the request and the debounce cancels
// the attempt.
func (r *Repairer) CardVisible(ctx context.Context, item catalog.MediaItem) Outcome {
	kind := probe.Classify(item.Locator, probe.Kind(item.DeclaredKind))
	if kind != probe.KindAudio || !item.ThumbnailIsDefault {
		return OutcomeNotEligible
	}
	return r.attempt(ctx, item, probe.Options{SkipImage: true, ForceKind: probe.KindAudio})
}

// WatchProgress handles playback of an item passing the minimum elapsed
// time. Unlike the card path it also rasterizes a frame for
// default-thumbnail video items, not just audio durations.
func (r *Repairer) WatchProgress(ctx context.Context, item catalog.MediaItem, elapsed time.Duration) Outcome {
	if elapsed < r.MinWatchElapsed {
		return OutcomeNotEligible
	}
	if !item.ThumbnailIsDefault {
		return OutcomeNotEligible
	}

	kind := probe.Classify(item.Locator, probe.Kind(item.DeclaredKind))
	opts := probe.Options{ForceKind: kind}
	if kind == probe.KindAudio {
		opts.SkipImage = true
	}
	return r.attempt(ctx, item, opts)
}

func (r *Repairer) attempt(ctx context.Context, item catalog.MediaItem, opts probe.Options) Outcome {
	if r.coord.IsKnownBad(item.ID) {
		return OutcomeKnownBad
	}
	if r.coord.Busy() {
		return OutcomeBusy
	}
	if !r.limiter.Allow() {
		return OutcomeThrottled
	}

	select {
	case <-ctx.Done():
		return OutcomeCancelled
	case <-time.After(r.Debounce):
	}

	if !r.coord.TryClaim(item.ID) {
		return OutcomeBusy
	}
	// Whatever happens below, teardown must not leave the slot locked.
	defer r.coord.Release(item.ID)

	res := r.engine.Extract(ctx, item.Locator, probe.Kind(item.DeclaredKind), opts)
	if ctx.Err() != nil {
		// Trigger went away mid-extraction; nothing to report, nothing
		// learned about the file itself.
		return OutcomeCancelled
	}

	rctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()
	if err := r.sink.ReportMetadata(rctx, item.ID, catalog.Report{
		Duration:           res.Duration,
		Success:            res.Success,
		ClientIncompatible: res.ClientIncompatible,
		Thumbnail:          res.Thumbnail,
	}); err != nil {
		// No retry; the item stays pending for the background paths.
		log.Printf("[repair] report failed for %s: %v", item.ID, err)
	}

	if !res.Success {
		r.coord.MarkBad(item.ID)
		log.Printf("[repair] %s failed extraction, remembered for this session", item.ID)
		return OutcomeFailed
	}

	log.Printf("[repair] %s repaired (duration=%ds)", item.ID, res.Duration)
	return OutcomeRepaired
}
