package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"foxq/internal/eventbus"
	"foxq/internal/runtime/supervisor"
	"foxq/pkg/logx"
)

const warnThrottleEvery = 10 * time.Second

type Queue[T any] struct {
	process        ProcessFunc[T]
	onAllConcluded func()
	generateID     func(T) string
	store          Store
	log            logx.Logger
	bus            eventbus.Bus
	now            func() time.Time
	warn           *logx.Throttle

	// mu guards tasks, tun and concludedFired.
	mu             sync.Mutex
	tasks          []*Task[T]
	tun            Tunables
	concludedFired bool

	// tickMu serializes ticks; saveMu serializes saves (taken before mu).
	tickMu sync.Mutex
	saveMu sync.Mutex

	runMu   sync.Mutex
	stopCh  chan struct{}
	sup     *supervisor.Supervisor   // current loop
	sups    []*supervisor.Supervisor // loops not yet waited for
	running atomic.Bool
}

func New[T any](opts Options[T]) *Queue[T] {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Queue[T]{
		process:        opts.Process,
		onAllConcluded: opts.OnAllConcluded,
		generateID:     opts.GenerateID,
		store:          opts.Store,
		log:            log.With(logx.String("comp", "queue")),
		bus:            opts.Bus,
		now:            now,
		warn:           logx.NewThrottle(warnThrottleEvery, 1),
		tun:            opts.Tunables.normalize(),
	}
}

// Apply swaps the runtime tunables. The running loop picks them up on its
// next iteration.
func (q *Queue[T]) Apply(t Tunables) {
	t = t.normalize()
	q.mu.Lock()
	q.tun = t
	q.mu.Unlock()
	q.log.Info("queue tunables applied",
		logx.Int("concurrency", t.Concurrency),
		logx.Duration("interval", t.SchedulerInterval),
		logx.Bool("fire_once", t.FireOnce),
	)
}

func (q *Queue[T]) Tunables() Tunables {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tun
}

// Add appends one pending task per item and persists the queue.
// It returns the resolved ids in input order.
func (q *Queue[T]) Add(ctx context.Context, items ...T) []string {
	ids := make([]string, 0, len(items))
	added := make([]Task[T], 0, len(items))

	q.mu.Lock()
	now := q.now()
	for _, data := range items {
		t := &Task[T]{
			ID:          q.resolveID(data),
			Data:        data,
			Status:      StatusPending,
			ScheduledAt: now,
		}
		q.tasks = append(q.tasks, t)
		ids = append(ids, t.ID)
		added = append(added, t.clone())
	}
	if len(items) > 0 {
		q.concludedFired = false
	}
	q.mu.Unlock()

	for _, t := range added {
		q.publish(eventbus.TaskAdded, TaskEvent{ID: t.ID, Status: t.Status})
	}
	if len(ids) > 0 {
		q.log.Info("tasks added", logx.Int("count", len(ids)))
	}
	q.persist(ctx)
	return ids
}

// resolveID prefers an id carried by the payload, then GenerateID, then a
// random UUID.
func (q *Queue[T]) resolveID(data T) string {
	switch v := any(data).(type) {
	case Identifier:
		if id := strings.TrimSpace(v.TaskID()); id != "" {
			return id
		}
	case map[string]any:
		if id := scalarID(v["id"]); id != "" {
			return id
		}
	}
	if q.generateID != nil {
		if id := q.generateID(data); id != "" {
			return id
		}
	}
	return uuid.NewString()
}

// scalarID formats a payload "id" value. JSON numbers decode as float64, so
// {"id": 42} yields "42". Zero, empty and non-scalar values yield "".
func scalarID(v any) string {
	switch id := v.(type) {
	case string:
		if strings.TrimSpace(id) == "" {
			return ""
		}
		return id
	case json.Number:
		if f, err := id.Float64(); err == nil && f == 0 {
			return ""
		}
		return id.String()
	case float64:
		if id == 0 || math.IsNaN(id) {
			return ""
		}
		return strconv.FormatFloat(id, 'f', -1, 64)
	case float32:
		return scalarID(float64(id))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		if s := fmt.Sprint(id); s != "0" {
			return s
		}
	}
	return ""
}

// RestartErrorTasks moves every error task back to pending and persists.
// It returns how many tasks were restarted.
func (q *Queue[T]) RestartErrorTasks(ctx context.Context) int {
	var restarted []string

	q.mu.Lock()
	now := q.now()
	for _, t := range q.tasks {
		if t.Status != StatusError {
			continue
		}
		t.Status = StatusPending
		t.ScheduledAt = now
		t.FinishedAt = nil
		restarted = append(restarted, t.ID)
	}
	if len(restarted) > 0 {
		q.concludedFired = false
	}
	q.mu.Unlock()

	for _, id := range restarted {
		q.publish(eventbus.TaskRestarted, TaskEvent{ID: id, Status: StatusPending})
	}
	q.log.Info("error tasks restarted", logx.Int("count", len(restarted)))
	q.persist(ctx)
	return len(restarted)
}

func (q *Queue[T]) Has(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.tasks {
		if t.ID == id {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the queue in order. Changing it does not
// affect the queue.
func (q *Queue[T]) Snapshot() []Task[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

func (q *Queue[T]) snapshotLocked() []Task[T] {
	out := make([]Task[T], 0, len(q.tasks))
	for _, t := range q.tasks {
		out = append(out, t.clone())
	}
	return out
}

func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	var s Stats
	for _, t := range q.tasks {
		s.Total++
		switch t.Status {
		case StatusPending:
			s.Pending++
		case StatusRunning:
			s.Running++
		case StatusCompleted:
			s.Completed++
		case StatusError:
			s.Error++
		}
	}
	return s
}

// Load replaces the in-memory queue with the stored document.
func (q *Queue[T]) Load(ctx context.Context) error {
	if q.store == nil {
		return nil
	}
	doc, err := q.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	var loaded []Task[T]
	if len(strings.TrimSpace(string(doc))) > 0 {
		if err := json.Unmarshal(doc, &loaded); err != nil {
			return fmt.Errorf("decode tasks: %w", err)
		}
	}
	tasks := make([]*Task[T], 0, len(loaded))
	stale, repaired := 0, 0
	for i := range loaded {
		t := loaded[i]
		if !t.Status.Valid() {
			return fmt.Errorf("decode tasks: task %q has invalid status %q", t.ID, t.Status)
		}
		if repairFinishedAt(&t, q.now) {
			repaired++
		}
		if t.Status == StatusRunning {
			stale++
		}
		tasks = append(tasks, &t)
	}

	q.mu.Lock()
	q.tasks = tasks
	q.concludedFired = false
	q.mu.Unlock()

	q.log.Info("tasks loaded", logx.Int("count", len(tasks)))
	if stale > 0 {
		q.log.Warn("tasks left running by a previous process are not requeued", logx.Int("count", stale))
	}
	if repaired > 0 {
		q.log.Warn("loaded tasks had finishedAt inconsistent with status; repaired", logx.Int("count", repaired))
	}
	return nil
}

// repairFinishedAt keeps finishedAt set exactly for terminal tasks. A
// terminal task without one is stamped with the load time; a non-terminal
// task loses its stray timestamp.
func repairFinishedAt[T any](t *Task[T], now func() time.Time) bool {
	switch {
	case t.Status.Terminal() && t.FinishedAt == nil:
		fin := now()
		t.FinishedAt = &fin
		return true
	case !t.Status.Terminal() && t.FinishedAt != nil:
		t.FinishedAt = nil
		return true
	}
	return false
}

// Save writes the whole queue to the store. Saves are serialized and each
// one writes the state current when it starts, so an older snapshot never
// overwrites a newer one.
func (q *Queue[T]) Save(ctx context.Context) error {
	if q.store == nil {
		return nil
	}
	q.saveMu.Lock()
	defer q.saveMu.Unlock()

	q.mu.Lock()
	doc, err := json.MarshalIndent(q.snapshotLocked(), "", "  ")
	q.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode tasks: %w", err)
	}
	if err := q.store.Save(ctx, doc); err != nil {
		return fmt.Errorf("save tasks: %w", err)
	}
	return nil
}

// persist saves and swallows the error; the in-memory queue stays
// authoritative until the next successful save.
//
// The save outlives ctx: a caller giving up (an HTTP client disconnecting)
// must not leave an accepted mutation unsaved.
func (q *Queue[T]) persist(ctx context.Context) {
	err := q.Save(context.WithoutCancel(ctx))
	if err == nil {
		return
	}
	q.warn.Log(q.log, logx.LevelWarn, "save", "failed to persist tasks", logx.Err(err))
	q.publish(eventbus.QueueSaveFailed, err.Error())
}

func (q *Queue[T]) publish(typ string, data any) {
	if q.bus == nil {
		return
	}
	q.bus.Publish(eventbus.Event{Type: typ, Time: q.now(), Data: data})
}
