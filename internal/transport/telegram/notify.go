package telegram

import (
	"context"
	"fmt"

	"foxq/internal/eventbus"
	"foxq/internal/task/queue"
	"foxq/pkg/logx"
)

func notifyTypes(failures bool) []string {
	types := []string{eventbus.QueueConcluded, eventbus.TaskAdded, eventbus.TaskRestarted, eventbus.QueueSaveFailed}
	if failures {
		types = append(types, eventbus.TaskFailed)
	}
	return types
}

// forward turns bus events into chat messages until ctx is done or events
// closes. "All concluded" is reported once per episode even though the
// queue may signal it on every tick.
func (b *Bot) forward(ctx context.Context, events <-chan eventbus.Event) {
	concluded := false
	dropped := 0
	for {
		var ev eventbus.Event
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			ev = e
		}

		switch ev.Type {
		case eventbus.TaskAdded, eventbus.TaskRestarted:
			concluded = false
			continue
		case eventbus.QueueConcluded:
			if concluded {
				continue
			}
			concluded = true
		}

		text := formatEvent(ev)
		if text == "" {
			continue
		}
		if !b.limiter.Allow() {
			dropped++
			continue
		}
		if dropped > 0 {
			text = fmt.Sprintf("%s\n(%d earlier notification(s) suppressed)", text, dropped)
			dropped = 0
		}
		if err := b.send(b.cfg.NotifyChatID, text); err != nil {
			b.log.Warn("telegram notify failed", logx.Err(err))
		}
	}
}

func formatEvent(ev eventbus.Event) string {
	switch ev.Type {
	case eventbus.QueueConcluded:
		if s, ok := ev.Data.(queue.Stats); ok {
			return fmt.Sprintf("All tasks concluded: %d completed, %d failed.", s.Completed, s.Error)
		}
		return "All tasks concluded."
	case eventbus.TaskFailed:
		if te, ok := ev.Data.(queue.TaskEvent); ok {
			if te.Error != "" {
				return fmt.Sprintf("Task %s failed: %s", te.ID, te.Error)
			}
			return fmt.Sprintf("Task %s failed.", te.ID)
		}
	case eventbus.QueueSaveFailed:
		return fmt.Sprintf("Saving the queue failed: %v", ev.Data)
	}
	return ""
}
