package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipdeck/mediameta/internal/catalog"
	"github.com/clipdeck/mediameta/internal/coord"
	"github.com/clipdeck/mediameta/internal/probe"
)

type fakeQueue struct {
	mu    sync.Mutex
	items []catalog.MediaItem
	calls int
}

func (q *fakeQueue) Pending(ctx context.Context, limit int, mode string) ([]catalog.MediaItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	if len(q.items) == 0 {
		return nil, nil
	}
	item := q.items[0]
	q.items = q.items[1:]
	return []catalog.MediaItem{item}, nil
}

func (q *fakeQueue) callCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

type fakeSink struct {
	mu      sync.Mutex
	reports map[string]catalog.Report
}

func newFakeSink() *fakeSink {
	return &fakeSink{reports: map[string]catalog.Report{}}
}

func (s *fakeSink) ReportMetadata(ctx context.Context, id string, rep catalog.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[id] = rep
	return nil
}

func (s *fakeSink) report(id string) (catalog.Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rep, ok := s.reports[id]
	return rep, ok
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}

type fakeEngine struct {
	mu        sync.Mutex
	result    probe.Result
	delay     time.Duration
	ignoreCtx bool
	started   chan struct{}
	startOnce sync.Once
	calls     int
}

func newFakeEngine(res probe.Result) *fakeEngine {
	return &fakeEngine{result: res, started: make(chan struct{})}
}

func (e *fakeEngine) Extract(ctx context.Context, locator string, hint probe.Kind, opts probe.Options) probe.Result {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	e.startOnce.Do(func() { close(e.started) })

	if e.delay > 0 {
		if e.ignoreCtx {
			time.Sleep(e.delay)
		} else {
			select {
			case <-ctx.Done():
				return probe.Result{Success: false, ClientIncompatible: true}
			case <-time.After(e.delay):
			}
		}
	}
	return e.result
}

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type nopNotifier struct{}

func (nopNotifier) Broadcast(event string, data interface{}) {}

func testItem(id string) catalog.MediaItem {
	return catalog.MediaItem{ID: id, Title: "Item " + id, Locator: "/media/" + id + ".mp4", DeclaredKind: "video"}
}

func newTestIdle(q Queue, s Reporter, e Engine, c *coord.Coordinator) *Idle {
	w := NewIdle(q, s, e, c, nopNotifier{})
	w.PollInterval = 10 * time.Millisecond
	w.SafetyTimeout = time.Second
	w.ReportCooldown = 20 * time.Millisecond
	w.SkipCooldown = 20 * time.Millisecond
	return w
}

func TestIdleProcessesAndReports(t *testing.T) {
	q := &fakeQueue{items: []catalog.MediaItem{testItem("v1")}}
	sink := newFakeSink()
	engine := newFakeEngine(probe.Result{Duration: 42, Success: true, Thumbnail: []byte("jpg")})
	c := coord.New()

	w := newTestIdle(q, sink, engine, c)
	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool {
		_, ok := sink.report("v1")
		return ok
	}, time.Second, 5*time.Millisecond)

	rep, _ := sink.report("v1")
	assert.Equal(t, 42, rep.Duration)
	assert.True(t, rep.Success)
	assert.Equal(t, []byte("jpg"), rep.Thumbnail)
	assert.False(t, c.Busy(), "mutex released after report")
}

// Scenario D: throttling mid-task drops the claim without a report.
func TestIdleThrottleDropsTask(t *testing.T) {
	q := &fakeQueue{items: []catalog.MediaItem{testItem("v1")}}
	sink := newFakeSink()
	engine := newFakeEngine(probe.Result{Duration: 42, Success: true})
	engine.delay = 5 * time.Second
	c := coord.New()

	w := newTestIdle(q, sink, engine, c)
	w.Start()
	defer w.Stop()

	<-engine.started
	assert.True(t, c.Busy())
	w.SetThrottled(true)

	require.Eventually(t, func() bool { return !c.Busy() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, sink.count(), "throttle-drop must not report")

	// Suspended polling: no further queue fetches while throttled.
	calls := q.callCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, q.callCount())
}

func TestIdleSkipAbortsWithoutReport(t *testing.T) {
	q := &fakeQueue{items: []catalog.MediaItem{testItem("v1")}}
	sink := newFakeSink()
	engine := newFakeEngine(probe.Result{Duration: 42, Success: true})
	engine.delay = 5 * time.Second
	c := coord.New()

	w := newTestIdle(q, sink, engine, c)
	w.Start()
	defer w.Stop()

	<-engine.started
	w.Skip()

	require.Eventually(t, func() bool { return !c.Busy() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, sink.count(), "skip must not report")
}

func TestIdleSafetyTimeoutReportsIncompatible(t *testing.T) {
	q := &fakeQueue{items: []catalog.MediaItem{testItem("v1")}}
	sink := newFakeSink()
	engine := newFakeEngine(probe.Result{Duration: 99, Success: true})
	engine.delay = 5 * time.Second
	engine.ignoreCtx = true // a completely unresponsive decoder
	c := coord.New()

	w := newTestIdle(q, sink, engine, c)
	w.SafetyTimeout = 50 * time.Millisecond
	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool {
		_, ok := sink.report("v1")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	rep, _ := sink.report("v1")
	assert.False(t, rep.Success)
	assert.True(t, rep.ClientIncompatible)
	assert.Equal(t, 0, rep.Duration)
	assert.False(t, c.Busy())
}

func TestIdleRespectsBusyMutex(t *testing.T) {
	q := &fakeQueue{items: []catalog.MediaItem{testItem("v1")}}
	sink := newFakeSink()
	engine := newFakeEngine(probe.Result{Duration: 1, Success: true})
	c := coord.New()
	require.True(t, c.TryClaim("other"))

	w := newTestIdle(q, sink, engine, c)
	w.Start()
	defer w.Stop()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, engine.callCount(), "no extraction while another consumer holds the mutex")
	assert.Equal(t, 0, sink.count())
	assert.Equal(t, "other", c.Holder())
}

func TestIdleStatusSnapshot(t *testing.T) {
	q := &fakeQueue{items: []catalog.MediaItem{testItem("v1")}}
	sink := newFakeSink()
	engine := newFakeEngine(probe.Result{Duration: 1, Success: true})
	engine.delay = 5 * time.Second
	c := coord.New()

	w := newTestIdle(q, sink, engine, c)
	w.Start()
	defer w.Stop()

	<-engine.started
	st := w.Status()
	assert.True(t, st.Busy)
	assert.Equal(t, "v1", st.ItemID)
	assert.Equal(t, "Item v1", st.Title)
	assert.Equal(t, string(PhaseCapturing), st.Phase)

	w.SetThrottled(true)
	require.Eventually(t, func() bool { return !w.Status().Busy }, time.Second, 5*time.Millisecond)
	assert.True(t, w.Status().Throttled)
}
