package queue

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"foxq/internal/eventbus"
	"foxq/pkg/logx"
)

var (
	// ErrNoProcessor is the failure recorded for tasks dispatched by a queue
	// built without a ProcessFunc.
	ErrNoProcessor = errors.New("queue: no process function configured")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal reports whether no automatic transition leaves s.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusError }

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusError:
		return true
	}
	return false
}

// Task is one unit of work. The JSON names match the persisted document.
type Task[T any] struct {
	ID          string     `json:"id"`
	Data        T          `json:"data"`
	Status      Status     `json:"status"`
	ScheduledAt time.Time  `json:"scheduledAt"`
	FinishedAt  *time.Time `json:"finishedAt"`
}

func (t *Task[T]) clone() Task[T] {
	cp := *t
	if t.FinishedAt != nil {
		ft := *t.FinishedAt
		cp.FinishedAt = &ft
	}
	return cp
}

// Identifier lets a payload carry its own task id.
type Identifier interface {
	TaskID() string
}

// ProcessFunc runs one task. (true, nil) completes it; anything else,
// including a panic, marks it as error.
type ProcessFunc[T any] func(ctx context.Context, t Task[T]) (bool, error)

// DelayFunc yields the extra pause taken after a tick that did work.
type DelayFunc func() time.Duration

func FixedDelay(d time.Duration) DelayFunc {
	return func() time.Duration { return d }
}

// RandomDelay picks uniformly from [min, max].
func RandomDelay(min, max time.Duration) DelayFunc {
	if max < min {
		min, max = max, min
	}
	return func() time.Duration {
		if max == min {
			return min
		}
		return min + rand.N(max-min+1)
	}
}

// Store is the persistence backend seen by the queue: one document, read
// and written whole.
type Store interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, doc []byte) error
}

const (
	DefaultConcurrency       = 2
	DefaultSchedulerInterval = time.Second
)

// Tunables are the settings that may change while the queue runs.
type Tunables struct {
	Concurrency       int
	SchedulerInterval time.Duration
	DelayAfterBatch   DelayFunc
	// FireOnce fires OnAllConcluded once per episode instead of on every
	// tick while all tasks are terminal.
	FireOnce bool
}

func (t Tunables) normalize() Tunables {
	if t.Concurrency < 1 {
		t.Concurrency = DefaultConcurrency
	}
	if t.SchedulerInterval <= 0 {
		t.SchedulerInterval = DefaultSchedulerInterval
	}
	return t
}

type Options[T any] struct {
	Process        ProcessFunc[T]
	OnAllConcluded func()
	GenerateID     func(data T) string

	Tunables

	Store Store
	Log   logx.Logger
	Bus   eventbus.Bus
	Now   func() time.Time
}

// Stats counts tasks per status.
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Error     int `json:"error"`
}

func (s Stats) String() string {
	return fmt.Sprintf("total=%d pending=%d running=%d completed=%d error=%d",
		s.Total, s.Pending, s.Running, s.Completed, s.Error)
}

// TaskEvent is the Data of task.* events.
type TaskEvent struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}
