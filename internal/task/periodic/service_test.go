package periodic

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foxq/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	cases := []struct {
		in    string
		kind  Kind
		every time.Duration
	}{
		{"*/5 * * * *", KindCron, 0},
		{"@hourly", KindCron, 0},
		{"@every 1m", KindInterval, time.Minute},
		{"90s", KindInterval, 90 * time.Second},
		{"01:30", KindInterval, 90 * time.Minute},
	}
	for _, c := range cases {
		got, err := ParseSchedule(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.kind, got.Kind, c.in)
		assert.Equal(t, c.every, got.Every, c.in)
	}

	for _, bad := range []string{"", "soon", "0s", "-1m", "00:75"} {
		_, err := ParseSchedule(bad)
		assert.Error(t, err, bad)
	}
}

func TestAddValidates(t *testing.T) {
	s := New("", logx.Nop())
	noop := func(context.Context) error { return nil }

	assert.Error(t, s.Add(Job{Schedule: "1m", Run: noop}))
	assert.Error(t, s.Add(Job{Name: "x", Schedule: "1m"}))
	assert.Error(t, s.Add(Job{Name: "x", Schedule: "61 * * * *", Run: noop}))
	assert.NoError(t, s.Add(Job{Name: "x", Schedule: "*/5 * * * *", Run: noop}))
}

func TestRunNowRecordsOutcome(t *testing.T) {
	s := New("UTC", logx.Nop())
	fail := true
	require.NoError(t, s.Add(Job{Name: "checkpoint", Schedule: "@every 1h", Run: func(context.Context) error {
		if fail {
			return errors.New("disk full")
		}
		return nil
	}}))

	require.Error(t, s.RunNow(context.Background(), "checkpoint"))
	fail = false
	require.NoError(t, s.RunNow(context.Background(), "checkpoint"))
	require.ErrorIs(t, s.RunNow(context.Background(), "nope"), ErrUnknownJob)

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, uint64(2), snap[0].Runs)
	assert.Equal(t, uint64(1), snap[0].Failures)
	assert.Equal(t, "disk full", snap[0].LastErr)
	assert.Equal(t, "@every 1h0m0s", snap[0].Schedule)
}

func TestRunNowRecoversPanic(t *testing.T) {
	s := New("", logx.Nop())
	require.NoError(t, s.Add(Job{Name: "p", Schedule: "1h", Run: func(context.Context) error { panic("x") }}))
	require.Error(t, s.RunNow(context.Background(), "p"))
}

func TestStartTriggersIntervalJobs(t *testing.T) {
	s := New("", logx.Nop())
	var runs atomic.Int32
	require.NoError(t, s.Add(Job{Name: "tick", Schedule: "@every 1s", Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}))

	s.Start(context.Background())
	defer s.Stop(context.Background())

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.False(t, snap[0].Next.IsZero())

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 5*time.Second, 20*time.Millisecond)
}

func TestSpreadDelaysFirstRun(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	sched, jitter := withSpread(time.Minute, now)
	assert.GreaterOrEqual(t, jitter, time.Duration(0))
	assert.Less(t, jitter, 30*time.Second)

	first := sched.Next(now)
	assert.Equal(t, now.Add(time.Minute+jitter), first)
	// After the first activation the base interval applies.
	assert.Equal(t, first.Add(time.Minute).Truncate(time.Second), sched.Next(first).Truncate(time.Second))
}
