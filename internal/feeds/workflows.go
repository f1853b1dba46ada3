package feeds

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lirancohen/adminpulse/internal/events"
	"github.com/lirancohen/adminpulse/internal/poll"
	"github.com/lirancohen/adminpulse/internal/realtime"
)

// OrphanPolicy decides what happens to events for an execution that has not been
// seen yet
type OrphanPolicy string

const (
	// OrphanDrop discards them
	OrphanDrop OrphanPolicy = "drop"
	// OrphanBuffer holds them until WORKFLOW_STARTED or a snapshot of the
	// execution arrives
	OrphanBuffer OrphanPolicy = "buffer"
)

const defaultOrphanBuffer = 20

// WorkflowSource serves the workflow execution snapshots
type WorkflowSource interface {
	ActiveExecutions(ctx context.Context) ([]events.Execution, error)
	RecentExecutions(ctx context.Context, limit int) ([]events.Execution, error)
}

// WorkflowOptions extends Options with the orphan handling
type WorkflowOptions struct {
	Options
	Orphans OrphanPolicy
	// OrphanBuffer bounds the buffered events per execution
	OrphanBuffer int
}

// Workflows tracks executions and their steps
type Workflows struct {
	feed
	api   WorkflowSource
	opts  WorkflowOptions
	allow map[string]bool

	mu      sync.Mutex
	execs   map[string]*events.Execution
	seen    map[string]map[string]struct{}
	orphans map[string][]events.WorkflowExecutionEvent
	// orphanOrder is the arrival order of buffered executions, oldest first
	orphanOrder []string
}

// NewWorkflows creates the feed; opts.Types filters by workflow event type
func NewWorkflows(conn Conn, api WorkflowSource, opts WorkflowOptions, log zerolog.Logger) *Workflows {
	opts.Options = opts.withDefaults(5*time.Second, 50)
	if opts.Orphans == "" {
		opts.Orphans = OrphanDrop
	}
	if opts.OrphanBuffer <= 0 {
		opts.OrphanBuffer = defaultOrphanBuffer
	}
	w := &Workflows{
		feed:    newFeed("workflows", conn, log),
		api:     api,
		opts:    opts,
		allow:   opts.allowList(),
		execs:   make(map[string]*events.Execution),
		seen:    make(map[string]map[string]struct{}),
		orphans: make(map[string][]events.WorkflowExecutionEvent),
	}
	w.poller = poll.New(w.name, opts.PollInterval, w.fetch, log)
	return w
}

// Run follows /topic/workflows and polls while disconnected
func (w *Workflows) Run(ctx context.Context) error {
	return w.run(ctx, map[string]realtime.Handler{
		events.TopicWorkflows: w.onEvent,
	})
}

func (w *Workflows) onEvent(ev realtime.Event) {
	if e, ok := decode[events.WorkflowExecutionEvent](&w.feed, ev); ok {
		w.Apply(e)
	}
}

// Apply folds one pushed event into the tracked executions and reports whether
// anything changed
func (w *Workflows) Apply(ev events.WorkflowExecutionEvent) bool {
	if w.allow != nil && !w.allow[ev.EventType] {
		return false
	}

	w.mu.Lock()
	changed := w.applyLocked(ev)
	if changed {
		w.evictLocked()
	}
	w.mu.Unlock()

	if changed {
		w.notify()
	}
	return changed
}

func (w *Workflows) applyLocked(ev events.WorkflowExecutionEvent) bool {
	id := ev.ExecutionID
	key := ev.Key()
	if _, dup := w.seen[id][key]; dup {
		return false
	}

	exec := w.execs[id]
	if exec == nil {
		if ev.EventType != events.WorkflowStarted {
			w.orphanLocked(ev)
			return false
		}
		exec = events.NewExecution(ev)
		if exec.StartedAt.IsZero() {
			exec.StartedAt = events.NewTime(time.Now())
		}
		w.execs[id] = exec
		w.markLocked(id, key)
		w.replayLocked(id)
		return true
	}

	w.markLocked(id, key)
	return exec.Apply(ev)
}

func (w *Workflows) orphanLocked(ev events.WorkflowExecutionEvent) {
	log := w.log.Debug().
		Str("execution", ev.ExecutionID).
		Str("event", ev.EventType).
		Str("step", ev.StepName)
	if w.opts.Orphans != OrphanBuffer {
		log.Msg("dropping event for unknown execution")
		return
	}

	id := ev.ExecutionID
	buf, ok := w.orphans[id]
	if !ok {
		w.orphanOrder = append(w.orphanOrder, id)
		if len(w.orphanOrder) > w.opts.Window {
			oldest := w.orphanOrder[0]
			w.orphanOrder = w.orphanOrder[1:]
			delete(w.orphans, oldest)
		}
	}
	for _, b := range buf {
		if b.Key() == ev.Key() {
			log.Msg("event already buffered")
			return
		}
	}
	buf = append(buf, ev)
	if len(buf) > w.opts.OrphanBuffer {
		buf = buf[len(buf)-w.opts.OrphanBuffer:]
	}
	w.orphans[id] = buf
	log.Int("buffered", len(buf)).Msg("buffering event for unknown execution")
}

// replayLocked applies the events buffered for an execution that just became known
func (w *Workflows) replayLocked(id string) {
	buf, ok := w.orphans[id]
	if !ok {
		return
	}
	delete(w.orphans, id)
	w.orphanOrder = slices.DeleteFunc(w.orphanOrder, func(o string) bool { return o == id })
	for _, ev := range buf {
		w.applyLocked(ev)
	}
	w.log.Debug().Str("execution", id).Int("events", len(buf)).Msg("replayed buffered events")
}

func (w *Workflows) markLocked(id, key string) {
	keys := w.seen[id]
	if keys == nil {
		keys = make(map[string]struct{})
		w.seen[id] = keys
	}
	keys[key] = struct{}{}
}

// Merge folds polled snapshots into the tracked executions and reports how many
// changed. A snapshot evicted again by the window does not count.
func (w *Workflows) Merge(snaps ...events.Execution) int {
	w.mu.Lock()
	changed := make(map[string]struct{})
	for _, snap := range snaps {
		if w.mergeLocked(snap) {
			changed[snap.ExecutionID] = struct{}{}
		}
	}
	w.evictLocked()
	n := 0
	for id := range changed {
		if _, ok := w.execs[id]; ok {
			n++
		}
	}
	w.mu.Unlock()

	if n > 0 {
		w.notify()
	}
	return n
}

func (w *Workflows) mergeLocked(snap events.Execution) bool {
	id := snap.ExecutionID
	changed := false
	if exec := w.execs[id]; exec != nil {
		changed = exec.Merge(snap)
	} else {
		c := snap.Clone()
		if c.StartedAt.IsZero() {
			c.StartedAt = events.NewTime(time.Now())
		}
		if c.Status == "" {
			c.Status = events.ExecutionRunning
		}
		w.execs[id] = &c
		changed = true
	}

	for _, ev := range w.execs[id].Events() {
		w.markLocked(id, ev.Key())
	}
	w.replayLocked(id)
	return changed
}

// evictLocked keeps the most recently started executions within the window
func (w *Workflows) evictLocked() {
	if len(w.execs) <= w.opts.Window {
		return
	}
	for _, exec := range w.sortedLocked()[w.opts.Window:] {
		delete(w.execs, exec.ExecutionID)
		delete(w.seen, exec.ExecutionID)
	}
}

func (w *Workflows) sortedLocked() []*events.Execution {
	list := make([]*events.Execution, 0, len(w.execs))
	for _, exec := range w.execs {
		list = append(list, exec)
	}
	slices.SortFunc(list, func(a, b *events.Execution) int {
		if c := b.StartedAt.Compare(a.StartedAt.Time); c != 0 {
			return c
		}
		return cmp.Compare(a.ExecutionID, b.ExecutionID)
	})
	return list
}

func (w *Workflows) fetch(ctx context.Context) error {
	var (
		g              errgroup.Group
		active, recent []events.Execution
	)
	g.Go(func() error {
		var err error
		active, err = w.api.ActiveExecutions(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch active executions: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		recent, err = w.api.RecentExecutions(ctx, w.opts.Limit)
		if err != nil {
			return fmt.Errorf("failed to fetch recent executions: %w", err)
		}
		return nil
	})
	err := g.Wait()

	snaps := slices.Concat(recent, active)
	valid := snaps[:0]
	for _, s := range snaps {
		if s.ExecutionID == "" {
			w.log.Warn().Msg("dropping polled execution without id")
			continue
		}
		valid = append(valid, s)
	}
	w.Merge(valid...)
	return err
}

// Executions returns copies of the tracked executions, most recently started first
func (w *Workflows) Executions() []events.Execution {
	w.mu.Lock()
	defer w.mu.Unlock()
	sorted := w.sortedLocked()
	out := make([]events.Execution, len(sorted))
	for i, exec := range sorted {
		out[i] = exec.Clone()
	}
	return out
}

// Execution returns a copy of one tracked execution
func (w *Workflows) Execution(id string) (events.Execution, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	exec, ok := w.execs[id]
	if !ok {
		return events.Execution{}, false
	}
	return exec.Clone(), true
}

// Buffered returns the number of events held for unknown executions
func (w *Workflows) Buffered() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, buf := range w.orphans {
		n += len(buf)
	}
	return n
}
