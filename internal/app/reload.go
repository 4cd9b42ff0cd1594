package app

import (
	"context"

	"foxq/internal/config"
	"foxq/pkg/logx"
)

// watchConfig watches the config file and applies the hot sections
// (logging, queue) of every published config.
func (a *App) watchConfig() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: only the newest config matters.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
}

func (a *App) applyConfig(prev, next *config.Config) {
	if next == nil {
		return
	}
	hot, restart := config.SplitHot(config.Changed(prev, next))
	if len(hot) == 0 && len(restart) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(loggingConfig(next))

	tun, err := tunables(next)
	if err != nil {
		a.log.Warn("invalid queue config; keeping previous", logx.Err(err))
	} else {
		a.queue.Apply(tun)
	}
	a.exitOnConcluded.Store(next.Queue.OnAllConcluded == config.OnAllConcludedExit)

	if len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", joinSections(restart)))
	}
	cur := a.queue.Tunables()
	a.log.Info("config reloaded",
		logx.String("applied", joinSections(hot)),
		logx.Int("concurrency", cur.Concurrency),
		logx.Duration("interval", cur.SchedulerInterval),
		logx.Bool("fire_once", cur.FireOnce),
	)
}
