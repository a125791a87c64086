// Package worker runs the idle-time metadata worker: whenever the user is
// not actively watching something, it claims one pending item at a time from
// the remote queue, extracts metadata, and reports the outcome.
package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/clipdeck/mediameta/internal/catalog"
	"github.com/clipdeck/mediameta/internal/coord"
	"github.com/clipdeck/mediameta/internal/probe"
)

const (
	DefaultPollInterval   = 5 * time.Second
	DefaultSafetyTimeout  = 15 * time.Second
	DefaultReportCooldown = 10 * time.Second
	DefaultSkipCooldown   = 5 * time.Second
	reportTimeout         = 30 * time.Second
)

// Phase is the lifecycle state of the held task, surfaced to the UI.
type Phase string

const (
	PhaseInit      Phase = "INIT"
	PhaseCapturing Phase = "CAPTURING"
	PhaseDone      Phase = "DONE"
	PhaseError     Phase = "ERROR"
)

type dropReason string

const (
	dropNone     dropReason = ""
	dropSkip     dropReason = "skip"
	dropThrottle dropReason = "throttle"
	dropStop     dropReason = "stop"
)

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

// Status is a snapshot of the worker for the UI affordance.
type Status struct {
	Throttled bool   `json:"throttled"`
	Busy      bool   `json:"busy"`
	ItemID    string `json:"item_id,omitempty"`
	Title     string `json:"title,omitempty"`
	Phase     string `json:"phase,omitempty"`
}

type activeTask struct {
	item   catalog.MediaItem
	kind   probe.Kind
	phase  Phase
	drop   dropReason
	cancel context.CancelFunc
}

// Idle polls the remote queue for one item at a time while the player is
// idle. It owns the single active task slot of this coordinator; the shared
// work mutex additionally keeps it from overlapping the bulk scanner or a
// repair attempt.
type Idle struct {
	queue    Queue
	sink     Reporter
	engine   Engine
	coord    *coord.Coordinator
	notifier Notifier

	PollInterval   time.Duration
	SafetyTimeout  time.Duration
	ReportCooldown time.Duration
	SkipCooldown   time.Duration

	mu            sync.Mutex
	throttled     bool
	cooldownUntil time.Time
	current       *activeTask

	stop     chan struct{}
	stopOnce sync.Once
}

func NewIdle(queue Queue, sink Reporter, engine Engine, c *coord.Coordinator, notifier Notifier) *Idle {
	return &Idle{
		queue:          queue,
		sink:           sink,
		engine:         engine,
		coord:          c,
		notifier:       notifier,
		PollInterval:   DefaultPollInterval,
		SafetyTimeout:  DefaultSafetyTimeout,
		ReportCooldown: DefaultReportCooldown,
		SkipCooldown:   DefaultSkipCooldown,
		stop:           make(chan struct{}),
	}
}

func (w *Idle) Start() {
	go w.run()
	log.Printf("[idle-worker] started (poll=%s)", w.PollInterval)
}

func (w *Idle) Stop() {
	w.stopOnce.Do(func() {
		w.dropCurrent(dropStop)
		close(w.stop)
	})
}

// SetThrottled marks the player as busy with foreground playback. While
// throttled the worker drops any held task immediately (without reporting;
// the item simply stays pending) and suspends polling, so background
// decoding never competes with a watch session.
func (w *Idle) SetThrottled(throttled bool) {
	w.mu.Lock()
	w.throttled = throttled
	w.mu.Unlock()
	if throttled {
		w.dropCurrent(dropThrottle)
	}
}

// Skip aborts the current task on user request. Nothing is reported; the
// worker enters the short skip cooldown.
func (w *Idle) Skip() {
	w.dropCurrent(dropSkip)
}

func (w *Idle) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Status{Throttled: w.throttled}
	if w.current != nil {
		s.Busy = true
		s.ItemID = w.current.item.ID
		s.Title = w.current.item.Title
		s.Phase = string(w.current.phase)
	}
	return s
}

func (w *Idle) run() {
	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			log.Println("[idle-worker] stopped")
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

func (w *Idle) tick() {
	w.mu.Lock()
	blocked := w.throttled || w.current != nil || time.Now().Before(w.cooldownUntil)
	w.mu.Unlock()
	if blocked {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.PollInterval)
	items, err := w.queue.Pending(ctx, 1, "grid")
	cancel()
	if err != nil {
		log.Printf("[idle-worker] pending fetch failed: %v", err)
		return
	}
	if len(items) == 0 {
		return
	}
	w.process(items[0])
}

func (w *Idle) process(item catalog.MediaItem) {
	if !w.coord.TryClaim(item.ID) {
		return
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	task := &activeTask{
		item:   item,
		kind:   probe.Classify(item.Locator, probe.Kind(item.DeclaredKind)),
		phase:  PhaseInit,
		cancel: cancel,
	}

	w.mu.Lock()
	w.current = task
	w.mu.Unlock()
	w.broadcast(task)

	w.setPhase(task, PhaseCapturing)

	resCh := make(chan probe.Result, 1)
	go func() {
		resCh <- w.engine.Extract(taskCtx, item.Locator, task.kind, probe.Options{})
	}()

	// Safety net above the engine's own budget: if the decoder goes fully
	// unresponsive, finish with what is known. Whichever timer fires first
	// wins; the loser's result is discarded.
	safety := time.NewTimer(w.SafetyTimeout)
	defer safety.Stop()

	var res probe.Result
	select {
	case res = <-resCh:
	case <-safety.C:
		cancel()
		log.Printf("[idle-worker] safety timeout for %s", item.ID)
		res = probe.Result{Success: false, ClientIncompatible: true}
	}

	w.mu.Lock()
	drop := task.drop
	w.current = nil
	w.mu.Unlock()
	cancel()

	switch drop {
	case dropSkip:
		w.coord.Release(item.ID)
		w.setCooldown(w.SkipCooldown)
		if w.notifier != nil {
			w.notifier.Broadcast("task:update", map[string]interface{}{
				"item_id": item.ID, "status": "skipped",
			})
		}
		log.Printf("[idle-worker] skipped %s", item.ID)
	case dropThrottle, dropStop:
		w.coord.Release(item.ID)
		log.Printf("[idle-worker] dropped %s (%s)", item.ID, drop)
	default:
		w.report(task, res)
		w.coord.Release(item.ID)
		w.setCooldown(w.ReportCooldown)
	}
}

func (w *Idle) report(task *activeTask, res probe.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()

	err := w.sink.ReportMetadata(ctx, task.item.ID, catalog.Report{
		Duration:           res.Duration,
		Success:            res.Success,
		ClientIncompatible: res.ClientIncompatible,
		Thumbnail:          res.Thumbnail,
	})
	if err != nil {
		// No retry: the item stays pending and the queue re-offers it later.
		log.Printf("[idle-worker] report failed for %s: %v", task.item.ID, err)
	}

	if res.Success {
		w.setPhase(task, PhaseDone)
	} else {
		w.setPhase(task, PhaseError)
	}
	log.Printf("[idle-worker] finished %s (duration=%ds success=%v incompatible=%v)",
		task.item.ID, res.Duration, res.Success, res.ClientIncompatible)
}

func (w *Idle) dropCurrent(reason dropReason) {
	w.mu.Lock()
	task := w.current
	if task != nil && task.drop == dropNone {
		task.drop = reason
	}
	w.mu.Unlock()
	if task != nil {
		task.cancel()
	}
}

func (w *Idle) setPhase(task *activeTask, phase Phase) {
	w.mu.Lock()
	task.phase = phase
	w.mu.Unlock()
	w.broadcast(task)
}

func (w *Idle) setCooldown(d time.Duration) {
	w.mu.Lock()
	w.cooldownUntil = time.Now().Add(d)
	w.mu.Unlock()
}

func (w *Idle) broadcast(task *activeTask) {
	if w.notifier == nil {
		return
	}
	w.mu.Lock()
	payload := map[string]interface{}{
		"item_id": task.item.ID,
		"title":   task.item.Title,
		"phase":   string(task.phase),
	}
	w.mu.Unlock()
	w.notifier.Broadcast("task:update", payload)
}
