// Package control is the boundary front ends (dashboard API, console,
// telegram) use to drive the queue. Every mutating call is logged with its
// actor and recorded in the audit trail.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"foxq/internal/storage"
	"foxq/internal/task/periodic"
	"foxq/internal/task/queue"
	"foxq/pkg/logx"
)

// ErrNoJobs is returned by RunJob when no job scheduler is attached.
var ErrNoJobs = errors.New("no jobs configured")

// Actor identifies who asked for an operation.
type Actor struct {
	Source string // "http", "console", "telegram", "jobs", "app"
	Name   string
}

// Auditor records operator actions. storage.Store satisfies it.
type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// Jobs is the housekeeping scheduler as seen by front ends.
// *periodic.Service satisfies it.
type Jobs interface {
	Snapshot() []periodic.JobInfo
	RunNow(ctx context.Context, name string) error
}

// Operator is the payload-independent part of the control surface.
type Operator interface {
	Start(ctx context.Context, a Actor)
	Stop(ctx context.Context, a Actor)
	RestartErrors(ctx context.Context, a Actor) int
	Checkpoint(ctx context.Context, a Actor) error
	RunJob(ctx context.Context, a Actor, name string) error
	Jobs() []periodic.JobInfo
	IsRunning() bool
	Stats() queue.Stats
}

type Surface[T any] struct {
	q      *queue.Queue[T]
	audit  Auditor
	log    logx.Logger
	warn   *logx.Throttle
	runCtx context.Context

	jobsMu sync.RWMutex
	jobs   Jobs
}

var _ Operator = (*Surface[any])(nil)

// New wraps q. runCtx bounds the scheduler loop started through Start; it
// is normally the application context, not a request context.
func New[T any](runCtx context.Context, q *queue.Queue[T], audit Auditor, log logx.Logger) *Surface[T] {
	if log.IsZero() {
		log = logx.Nop()
	}
	if runCtx == nil {
		runCtx = context.Background()
	}
	return &Surface[T]{
		q:      q,
		audit:  audit,
		log:    log.With(logx.String("comp", "control")),
		warn:   logx.NewThrottle(30*time.Second, 1),
		runCtx: runCtx,
	}
}

// SetJobs attaches the housekeeping scheduler.
func (s *Surface[T]) SetJobs(j Jobs) {
	s.jobsMu.Lock()
	s.jobs = j
	s.jobsMu.Unlock()
}

func (s *Surface[T]) jobService() Jobs {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()
	return s.jobs
}

func (s *Surface[T]) Start(ctx context.Context, a Actor) {
	start := time.Now()
	s.q.Start(s.runCtx)
	s.record(ctx, a, "start", 0, start, nil)
}

func (s *Surface[T]) Stop(ctx context.Context, a Actor) {
	start := time.Now()
	s.q.Stop()
	s.record(ctx, a, "stop", 0, start, nil)
}

func (s *Surface[T]) RestartErrors(ctx context.Context, a Actor) int {
	start := time.Now()
	n := s.q.RestartErrorTasks(ctx)
	s.record(ctx, a, "restart_errors", n, start, nil)
	return n
}

func (s *Surface[T]) Add(ctx context.Context, a Actor, items ...T) []string {
	start := time.Now()
	ids := s.q.Add(ctx, items...)
	s.record(ctx, a, "add", len(ids), start, nil)
	return ids
}

// Checkpoint saves the queue and returns the error, unlike the saves done
// by mutating calls.
func (s *Surface[T]) Checkpoint(ctx context.Context, a Actor) error {
	start := time.Now()
	err := s.q.Save(ctx)
	s.record(ctx, a, "checkpoint", s.q.Stats().Total, start, err)
	return err
}

// RunJob runs a housekeeping job now, outside its schedule.
func (s *Surface[T]) RunJob(ctx context.Context, a Actor, name string) error {
	jobs := s.jobService()
	if jobs == nil {
		return ErrNoJobs
	}
	start := time.Now()
	err := jobs.RunNow(ctx, name)
	s.record(ctx, a, "run_job:"+name, 0, start, err)
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	return nil
}

// Jobs lists the housekeeping jobs with their next and previous runs.
func (s *Surface[T]) Jobs() []periodic.JobInfo {
	jobs := s.jobService()
	if jobs == nil {
		return nil
	}
	return jobs.Snapshot()
}

func (s *Surface[T]) IsRunning() bool           { return s.q.IsRunning() }
func (s *Surface[T]) Stats() queue.Stats        { return s.q.Stats() }
func (s *Surface[T]) Snapshot() []queue.Task[T] { return s.q.Snapshot() }

func (s *Surface[T]) record(ctx context.Context, a Actor, action string, count int, start time.Time, opErr error) {
	took := time.Since(start)
	fields := []logx.Field{
		logx.String("action", action),
		logx.String("source", a.Source),
		logx.String("actor", a.Name),
		logx.Int("count", count),
		logx.Duration("took", took),
	}
	entry := storage.AuditEntry{
		At:     time.Now().UTC(),
		Source: a.Source,
		Actor:  a.Name,
		Action: action,
		Count:  count,
		TookMS: took.Milliseconds(),
	}
	if opErr != nil {
		entry.Error = opErr.Error()
		s.log.Warn("control action failed", append(fields, logx.Err(opErr))...)
	} else {
		s.log.Info("control action", fields...)
	}
	if s.audit == nil {
		return
	}
	err := s.audit.AppendAudit(context.WithoutCancel(ctx), entry)
	if err != nil {
		s.warn.Log(s.log, logx.LevelWarn, "audit", "failed to append audit entry", logx.Err(err))
	}
}
