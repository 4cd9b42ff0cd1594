package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"foxq/internal/eventbus"
	"foxq/internal/runtime/supervisor"
	"foxq/pkg/logx"
)

type outcome struct {
	ok  bool
	err error
}

// RunOnce runs a single scheduling tick and reports whether it dispatched
// anything.
func (q *Queue[T]) RunOnce(ctx context.Context) bool {
	q.tickMu.Lock()
	defer q.tickMu.Unlock()

	claimed, batch, concluded := q.claim()
	if concluded {
		q.notifyConcluded()
		return false
	}
	if len(batch) == 0 {
		return false
	}

	for _, t := range batch {
		q.publish(eventbus.TaskStarted, TaskEvent{ID: t.ID, Status: StatusRunning})
	}
	q.log.Debug("dispatching batch", logx.Int("size", len(batch)))

	// In-flight work is never cancelled by Stop or shutdown.
	dctx := context.WithoutCancel(ctx)
	results := make([]outcome, len(batch))
	var wg sync.WaitGroup
	for i := range batch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = q.dispatch(dctx, batch[i])
		}()
	}
	wg.Wait()

	q.settle(claimed, results)
	q.persist(context.WithoutCancel(ctx))
	return true
}

// claim picks the next batch under the state lock and marks it running.
// concluded is true when the all-concluded notification should fire.
func (q *Queue[T]) claim() (claimed []*Task[T], batch []Task[T], concluded bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return nil, nil, false
	}

	running, open := 0, 0
	for _, t := range q.tasks {
		if !t.Status.Terminal() {
			open++
		}
		if t.Status == StatusRunning {
			running++
		}
	}
	if open == 0 {
		if q.tun.FireOnce && q.concludedFired {
			return nil, nil, false
		}
		q.concludedFired = true
		return nil, nil, true
	}
	q.concludedFired = false

	slots := q.tun.Concurrency - running
	if slots <= 0 {
		return nil, nil, false
	}
	for _, t := range q.tasks {
		if len(claimed) == slots {
			break
		}
		if t.Status != StatusPending {
			continue
		}
		t.Status = StatusRunning
		claimed = append(claimed, t)
		batch = append(batch, t.clone())
	}
	return claimed, batch, false
}

// dispatch runs the process function for one task, turning panics into
// errors so siblings in the batch are unaffected.
func (q *Queue[T]) dispatch(ctx context.Context, t Task[T]) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("task panicked", logx.String("task", t.ID), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			out = outcome{err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if q.process == nil {
		return outcome{err: ErrNoProcessor}
	}
	ok, err := q.process(ctx, t)
	return outcome{ok: ok, err: err}
}

func (q *Queue[T]) settle(claimed []*Task[T], results []outcome) {
	events := make([]TaskEvent, 0, len(claimed))

	q.mu.Lock()
	now := q.now()
	for i, t := range claimed {
		res := results[i]
		fin := now
		t.FinishedAt = &fin
		ev := TaskEvent{ID: t.ID}
		if res.ok && res.err == nil {
			t.Status = StatusCompleted
		} else {
			t.Status = StatusError
			if res.err != nil {
				ev.Error = res.err.Error()
			}
		}
		ev.Status = t.Status
		events = append(events, ev)
	}
	q.mu.Unlock()

	for _, ev := range events {
		if ev.Status == StatusCompleted {
			q.log.Debug("task completed", logx.String("task", ev.ID))
			q.publish(eventbus.TaskCompleted, ev)
			continue
		}
		q.log.Warn("task failed", logx.String("task", ev.ID), logx.String("err", ev.Error))
		q.publish(eventbus.TaskFailed, ev)
	}
}

func (q *Queue[T]) notifyConcluded() {
	q.warn.Log(q.log, logx.LevelInfo, "concluded", "all tasks concluded")
	q.publish(eventbus.QueueConcluded, q.Stats())
	if q.onAllConcluded == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("all-concluded callback panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	q.onAllConcluded()
}

func (q *Queue[T]) IsRunning() bool { return q.running.Load() }

// Start runs the scheduler loop until Stop or ctx cancellation. Starting a
// running scheduler only logs.
func (q *Queue[T]) Start(ctx context.Context) {
	q.runMu.Lock()
	defer q.runMu.Unlock()
	if q.stopCh != nil {
		q.log.Info("scheduler already running")
		return
	}
	stopCh := make(chan struct{})
	q.stopCh = stopCh
	q.running.Store(true)

	sup := supervisor.New(ctx, supervisor.WithLogger(q.log))
	q.sup = sup
	q.sups = append(q.sups, sup)
	sup.GoRestart("scheduler.loop", func(ctx context.Context) error {
		return q.loop(ctx, stopCh)
	}, supervisor.WithRestartBackoff(time.Second, 30*time.Second))

	q.log.Info("scheduler started")
	q.publish(eventbus.SchedulerStarted, nil)
}

// Stop halts future ticks. A tick already in flight completes; Stop does
// not wait for it (see Wait).
func (q *Queue[T]) Stop() {
	q.runMu.Lock()
	stopCh := q.stopCh
	if stopCh == nil {
		q.runMu.Unlock()
		return
	}
	close(stopCh)
	q.sup.Cancel()
	q.stopCh, q.sup = nil, nil
	q.running.Store(false)
	q.runMu.Unlock()

	q.log.Info("scheduler stopped")
	q.publish(eventbus.SchedulerStopped, nil)
}

// Wait blocks until every loop started so far has exited.
func (q *Queue[T]) Wait(ctx context.Context) error {
	q.runMu.Lock()
	sups := append([]*supervisor.Supervisor(nil), q.sups...)
	q.runMu.Unlock()

	for _, sup := range sups {
		if err := sup.Wait(ctx); err != nil {
			return err
		}
	}

	q.runMu.Lock()
	kept := q.sups[:0]
	for _, s := range q.sups {
		if !contains(sups, s) {
			kept = append(kept, s)
		}
	}
	q.sups = kept
	q.runMu.Unlock()
	return nil
}

func contains(list []*supervisor.Supervisor, s *supervisor.Supervisor) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (q *Queue[T]) loop(ctx context.Context, stopCh <-chan struct{}) error {
	defer func() {
		if ctx.Err() != nil {
			q.stopped(stopCh)
		}
	}()
	for {
		select {
		case <-stopCh:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		worked := q.RunOnce(ctx)

		tun := q.Tunables()
		if !sleep(ctx, stopCh, tun.SchedulerInterval) {
			return nil
		}
		if !worked || tun.DelayAfterBatch == nil {
			continue
		}
		if d := tun.DelayAfterBatch(); d > 0 {
			q.log.Info("waiting after batch", logx.Duration("delay", d))
			if !sleep(ctx, stopCh, d) {
				return nil
			}
		}
	}
}

// stopped marks the scheduler stopped after its context ended, unless a
// newer Start already replaced stopCh.
func (q *Queue[T]) stopped(stopCh <-chan struct{}) {
	q.runMu.Lock()
	if q.stopCh == nil || (<-chan struct{})(q.stopCh) != stopCh {
		q.runMu.Unlock()
		return
	}
	q.stopCh, q.sup = nil, nil
	q.running.Store(false)
	q.runMu.Unlock()

	q.log.Info("scheduler stopped", logx.String("reason", "context done"))
	q.publish(eventbus.SchedulerStopped, nil)
}

func sleep(ctx context.Context, stopCh <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}
