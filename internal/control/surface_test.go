package control

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foxq/internal/storage"
	"foxq/internal/task/periodic"
	"foxq/internal/task/queue"
	"foxq/pkg/logx"
)

type recorder struct {
	mu      sync.Mutex
	entries []storage.AuditEntry
	err     error
}

func (r *recorder) AppendAudit(ctx context.Context, e storage.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, e)
	return nil
}

func (r *recorder) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Source+":"+e.Action)
	}
	return out
}

func failing(ctx context.Context, t queue.Task[string]) (bool, error) {
	return false, errors.New("no")
}

func TestSurfaceRecordsActions(t *testing.T) {
	rec := &recorder{}
	q := queue.New(queue.Options[string]{Process: failing, Tunables: queue.Tunables{SchedulerInterval: time.Millisecond}})
	s := New(context.Background(), q, rec, logx.Nop())
	ctx := context.Background()

	ids := s.Add(ctx, Actor{Source: "http"}, "a", "b")
	require.Len(t, ids, 2)

	// A request-scoped context must not bound the scheduler loop.
	reqCtx, cancel := context.WithCancel(ctx)
	s.Start(reqCtx, Actor{Source: "console"})
	cancel()
	require.Eventually(t, func() bool { return s.Stats().Error == 2 }, 2*time.Second, time.Millisecond)
	assert.True(t, s.IsRunning())

	s.Stop(ctx, Actor{Source: "telegram", Name: "42"})
	assert.False(t, s.IsRunning())
	require.NoError(t, q.Wait(ctx))

	assert.Equal(t, 2, s.RestartErrors(ctx, Actor{Source: "jobs"}))
	assert.Equal(t, 2, s.Stats().Pending)
	assert.Len(t, s.Snapshot(), 2)
	require.NoError(t, s.Checkpoint(ctx, Actor{Source: "console"}))

	assert.Equal(t, []string{"http:add", "console:start", "telegram:stop", "jobs:restart_errors", "console:checkpoint"}, rec.actions())
	assert.Equal(t, "42", rec.entries[2].Actor)
	assert.Equal(t, 2, rec.entries[3].Count)
}

func TestSurfaceAuditFailureIsSwallowed(t *testing.T) {
	rec := &recorder{err: errors.New("closed")}
	s := New(context.Background(), queue.New(queue.Options[string]{}), rec, logx.Nop())
	assert.NotPanics(t, func() {
		s.Add(context.Background(), Actor{Source: "http"}, "x")
		s.RestartErrors(context.Background(), Actor{Source: "http"})
	})
}

func TestSurfaceWithoutAuditor(t *testing.T) {
	var op Operator = New(context.Background(), queue.New(queue.Options[string]{}), nil, logx.Nop())
	op.Stop(context.Background(), Actor{Source: "app"})
	assert.False(t, op.IsRunning())
	assert.Equal(t, 0, op.Stats().Total)
}

func TestSurfaceRunsJobs(t *testing.T) {
	rec := &recorder{}
	s := New(context.Background(), queue.New(queue.Options[string]{}), rec, logx.Nop())
	ctx := context.Background()

	require.ErrorIs(t, s.RunJob(ctx, Actor{Source: "http"}, "checkpoint"), ErrNoJobs)
	assert.Nil(t, s.Jobs())

	jobs := periodic.New("", logx.Nop())
	var runs int
	require.NoError(t, jobs.Add(periodic.Job{
		Name:     "checkpoint",
		Schedule: "@every 1h",
		Run: func(context.Context) error {
			runs++
			return nil
		},
	}))
	require.NoError(t, jobs.Add(periodic.Job{
		Name:     "broken",
		Schedule: "@every 1h",
		Run:      func(context.Context) error { return errors.New("disk full") },
	}))
	s.SetJobs(jobs)

	require.NoError(t, s.RunJob(ctx, Actor{Source: "console"}, "checkpoint"))
	assert.Equal(t, 1, runs)
	require.ErrorIs(t, s.RunJob(ctx, Actor{Source: "console"}, "nope"), periodic.ErrUnknownJob)
	require.Error(t, s.RunJob(ctx, Actor{Source: "console"}, "broken"))

	infos := s.Jobs()
	require.Len(t, infos, 2)
	assert.Equal(t, "broken", infos[0].Name)
	assert.Equal(t, uint64(1), infos[0].Failures)
	assert.Equal(t, "checkpoint", infos[1].Name)
	assert.Equal(t, uint64(1), infos[1].Runs)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.entries, 3)
	assert.Equal(t, "run_job:checkpoint", rec.entries[0].Action)
	assert.Empty(t, rec.entries[0].Error)
	assert.Equal(t, "run_job:broken", rec.entries[2].Action)
	assert.Contains(t, rec.entries[2].Error, "disk full")
}
