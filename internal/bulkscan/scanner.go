// Package bulkscan drains the remote pending-metadata queue on operator
// request: batch after batch, strictly one item at a time, until the server
// reports the queue empty or the operator cancels.
package bulkscan

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/clipdeck/mediameta/internal/catalog"
	"github.com/clipdeck/mediameta/internal/coord"
	"github.com/clipdeck/mediameta/internal/probe"
)

const (
	DefaultBatchSize     = 50
	DefaultSafetyTimeout = 15 * time.Second
	DefaultFetchBackoff  = 2 * time.Second

	claimRetryInterval = 250 * time.Millisecond
	reportTimeout      = 30 * time.Second
)

var ErrAlreadyRunning = errors.New("bulk scan already running")

type Queue interface {
	Pending(ctx context.Context, limit int, mode string) ([]catalog.MediaItem, error)
}

type Reporter interface {
	ReportMetadata(ctx context.Context, id string, rep catalog.Report) error
}

type Engine interface {
	Extract(ctx context.Context, locator string, hint probe.Kind, opts probe.Options) probe.Result
}

type Notifier interface {
	Broadcast(event string, data interface{})
}

// Status is the operator-visible progress of the current (or last) scan.
type Status struct {
	Running   bool   `json:"running"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Current   string `json:"current,omitempty"`
	Drained   bool   `json:"drained"`
}

// Scanner processes pending items in a deliberate single lane. Unlike the
// idle worker's opportunistic cadence there is no cooldown between items:
// a scan should finish deterministically, and the shared mutex keeps it
// from ever decoding in parallel with another consumer.
type Scanner struct {
	queue    Queue
	sink     Reporter
	engine   Engine
	coord    *coord.Coordinator
	notifier Notifier

	BatchSize     int
	SafetyTimeout time.Duration
	FetchBackoff  time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	status  Status
}

func New(queue Queue, sink Reporter, engine Engine, c *coord.Coordinator, notifier Notifier) *Scanner {
	return &Scanner{
		queue:         queue,
		sink:          sink,
		engine:        engine,
		coord:         c,
		notifier:      notifier,
		BatchSize:     DefaultBatchSize,
		SafetyTimeout: DefaultSafetyTimeout,
		FetchBackoff:  DefaultFetchBackoff,
	}
}

// Start launches the scan loop in the background. Only one scan runs at a
// time per agent.
func (s *Scanner) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	s.status = Status{Running: true}

	go func() {
		s.run(ctx)
		s.mu.Lock()
		s.running = false
		s.status.Running = false
		s.mu.Unlock()
		cancel()
	}()
	return nil
}

// Cancel stops the loop after the in-flight item finishes and reports, so
// the work mutex is always released cleanly. Further batches are not
// requested.
func (s *Scanner) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Scanner) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Scanner) run(ctx context.Context) {
	log.Printf("[bulk-scan] starting (batch=%d)", s.BatchSize)

	for {
		if ctx.Err() != nil {
			log.Println("[bulk-scan] cancelled")
			return
		}

		items, err := s.queue.Pending(ctx, s.BatchSize, "scan")
		if err != nil {
			if ctx.Err() != nil {
				log.Println("[bulk-scan] cancelled")
				return
			}
			// Batch fetch failures are retryable; back off and continue
			// rather than aborting the whole drain.
			log.Printf("[bulk-scan] batch fetch failed, retrying in %s: %v", s.FetchBackoff, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.FetchBackoff):
			}
			continue
		}

		if len(items) == 0 {
			s.mu.Lock()
			s.status.Drained = true
			s.mu.Unlock()
			s.broadcast("scan:done", map[string]interface{}{"processed": s.Status().Processed})
			log.Println("[bulk-scan] queue drained")
			return
		}

		for i, item := range items {
			// Cancellation is checked between items only; an in-flight
			// item always completes and reports.
			if ctx.Err() != nil {
				log.Printf("[bulk-scan] cancelled after %d/%d of current batch", i, len(items))
				return
			}
			s.processItem(ctx, item)
		}
		// Last item done: immediately request the next batch.
	}
}

func (s *Scanner) processItem(ctx context.Context, item catalog.MediaItem) {
	if !s.claim(ctx, item.ID) {
		return
	}
	defer s.coord.Release(item.ID)

	s.mu.Lock()
	s.status.Current = item.Title
	s.mu.Unlock()
	s.broadcast("scan:item", map[string]interface{}{"item_id": item.ID, "title": item.Title})

	kind := probe.Classify(item.Locator, probe.Kind(item.DeclaredKind))

	// The extraction itself is never cancelled by Cancel(): it runs under
	// its own safety deadline so the mutex window stays bounded.
	taskCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resCh := make(chan probe.Result, 1)
	go func() {
		resCh <- s.engine.Extract(taskCtx, item.Locator, kind, probe.Options{})
	}()

	safety := time.NewTimer(s.SafetyTimeout)
	defer safety.Stop()

	var res probe.Result
	select {
	case res = <-resCh:
	case <-safety.C:
		cancel()
		log.Printf("[bulk-scan] safety timeout for %s", item.ID)
		res = probe.Result{Success: false, ClientIncompatible: true}
	}

	rctx, rcancel := context.WithTimeout(context.Background(), reportTimeout)
	defer rcancel()
	err := s.sink.ReportMetadata(rctx, item.ID, catalog.Report{
		Duration:           res.Duration,
		Success:            res.Success,
		ClientIncompatible: res.ClientIncompatible,
		Thumbnail:          res.Thumbnail,
	})
	if err != nil {
		log.Printf("[bulk-scan] report failed for %s: %v", item.ID, err)
	}

	s.mu.Lock()
	s.status.Processed++
	if !res.Success {
		s.status.Failed++
	}
	s.status.Current = ""
	s.mu.Unlock()

	log.Printf("[bulk-scan] %s done (duration=%ds success=%v)", item.ID, res.Duration, res.Success)
}

// claim waits for the shared work slot to come free instead of dropping
// the item. The idle worker may hold it for up to its safety timeout.
func (s *Scanner) claim(ctx context.Context, id string) bool {
	for {
		if s.coord.TryClaim(id) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(claimRetryInterval):
		}
	}
}

func (s *Scanner) broadcast(event string, data interface{}) {
	if s.notifier != nil {
		s.notifier.Broadcast(event, data)
	}
}
