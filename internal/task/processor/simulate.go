// Package processor provides the process functions the foxq binary can run
// tasks with.
package processor

import (
	"context"
	"math/rand/v2"
	"time"

	"foxq/internal/task/queue"
	"foxq/pkg/logx"
)

// SimulateConfig describes fake work: a random pause, then a weighted coin
// flip.
type SimulateConfig struct {
	MinDelay    time.Duration
	MaxDelay    time.Duration
	SuccessRate float64
}

func (c SimulateConfig) withDefaults() SimulateConfig {
	if c.MinDelay < 0 {
		c.MinDelay = 0
	}
	if c.MaxDelay < c.MinDelay {
		c.MaxDelay = c.MinDelay
	}
	if c.SuccessRate < 0 {
		c.SuccessRate = 0
	}
	if c.SuccessRate > 1 {
		c.SuccessRate = 1
	}
	return c
}

// Simulate returns a process function that sleeps for a random duration in
// [MinDelay, MaxDelay] and succeeds with probability SuccessRate.
func Simulate[T any](cfg SimulateConfig, log logx.Logger) queue.ProcessFunc[T] {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	pause := queue.RandomDelay(cfg.MinDelay, cfg.MaxDelay)
	return func(ctx context.Context, t queue.Task[T]) (bool, error) {
		d := pause()
		log.Debug("simulating task", logx.String("task", t.ID), logx.Duration("for", d))
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return false, ctx.Err()
		}
		return rand.Float64() < cfg.SuccessRate, nil
	}
}
