// Package telegram lets owners drive the queue from a Telegram chat and
// pushes queue notifications to a configured chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"foxq/internal/control"
	"foxq/internal/eventbus"
	"foxq/internal/runtime/supervisor"
	"foxq/pkg/logx"
)

const (
	stopGrace = 2 * time.Second
	// maxPollRestarts bounds poller restarts; a token revoked while running
	// otherwise spins forever.
	maxPollRestarts = 20
)

type Config struct {
	Token          string
	PollTimeout    time.Duration
	OwnerUserIDs   []int64
	NotifyChatID   int64
	NotifyFailures bool
	// Offline skips the getMe call; used by tests.
	Offline bool
}

type Bot struct {
	cfg Config
	op  control.Operator
	bus eventbus.Bus
	log logx.Logger

	bot  *tele.Bot
	send func(chatID int64, text string) error

	// limiter bounds outgoing notifications.
	limiter *rate.Limiter

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor
}

func New(cfg Config, op control.Operator, bus eventbus.Bus, log logx.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	tb, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: cfg.PollTimeout},
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	b := &Bot{
		cfg:     cfg,
		op:      op,
		bus:     bus,
		log:     log.With(logx.String("comp", "telegram")),
		bot:     tb,
		limiter: rate.NewLimiter(rate.Every(3*time.Second), 3),
	}
	b.send = func(chatID int64, text string) error {
		_, err := tb.Send(&tele.Chat{ID: chatID}, text)
		return err
	}
	b.registerHandlers()
	return b, nil
}

func (b *Bot) registerHandlers() {
	for _, cmd := range []string{"/start", "/help", "/status", "/pause", "/resume", "/restart", "/checkpoint", "/jobs"} {
		b.bot.Handle(cmd, chain(func(c tele.Context) error {
			reply := b.Command(context.Background(), cmd, senderID(c))
			return c.Send(reply)
		}, b.recoverPanic, b.ownerOnly))
	}
}

func senderID(c tele.Context) int64 {
	if s := c.Sender(); s != nil {
		return s.ID
	}
	return 0
}

// chain applies middleware so the first one listed runs last.
func chain(h tele.HandlerFunc, mw ...tele.MiddlewareFunc) tele.HandlerFunc {
	for _, m := range mw {
		h = m(h)
	}
	return h
}

func (b *Bot) ownerOnly(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		if !b.isOwner(senderID(c)) {
			b.log.Warn("command from non-owner ignored", logx.Int64("user", senderID(c)))
			return nil
		}
		return next(c)
	}
}

func (b *Bot) recoverPanic(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				b.log.Error("telegram handler panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return next(c)
	}
}

func (b *Bot) isOwner(id int64) bool {
	return id != 0 && slices.Contains(b.cfg.OwnerUserIDs, id)
}

// Command runs one bot command for user and returns the reply text.
func (b *Bot) Command(ctx context.Context, cmd string, user int64) string {
	a := control.Actor{Source: "telegram", Name: fmt.Sprint(user)}
	switch strings.ToLower(strings.TrimSpace(cmd)) {
	case "/pause":
		b.op.Stop(ctx, a)
		return "Scheduler paused."
	case "/resume":
		b.op.Start(ctx, a)
		return "Scheduler running."
	case "/restart":
		n := b.op.RestartErrors(ctx, a)
		return fmt.Sprintf("Restarted %d failed task(s).", n)
	case "/status":
		state := "paused"
		if b.op.IsRunning() {
			state = "running"
		}
		s := b.op.Stats()
		return fmt.Sprintf("Scheduler %s\npending: %d\nrunning: %d\ncompleted: %d\nerror: %d\ntotal: %d",
			state, s.Pending, s.Running, s.Completed, s.Error, s.Total)
	case "/checkpoint":
		if err := b.op.Checkpoint(ctx, a); err != nil {
			return "Checkpoint failed: " + err.Error()
		}
		return "Checkpoint saved."
	case "/jobs":
		jobs := b.op.Jobs()
		if len(jobs) == 0 {
			return "No jobs configured."
		}
		var sb strings.Builder
		sb.WriteString("Jobs:")
		for _, j := range jobs {
			fmt.Fprintf(&sb, "\n%s (%s) runs: %d failures: %d", j.Name, j.Schedule, j.Runs, j.Failures)
			if j.LastErr != "" {
				sb.WriteString(" last error: " + j.LastErr)
			}
		}
		return sb.String()
	default:
		return "Commands:\n/status - queue counts\n/pause - pause scheduler\n/resume - resume scheduler\n/restart - restart failed tasks\n/checkpoint - save now\n/jobs - housekeeping jobs"
	}
}

// Snapshot reports the bot's goroutines; zero when not started.
func (b *Bot) Snapshot() supervisor.Snapshot {
	b.runMu.Lock()
	sup := b.sup
	b.runMu.Unlock()
	return sup.Snapshot()
}

// Start begins polling and, with a notify chat configured, forwarding
// queue notifications.
func (b *Bot) Start(ctx context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.running {
		return nil
	}
	b.running = true
	sup := supervisor.New(ctx, supervisor.WithLogger(b.log))
	b.sup = sup

	// bot.Stop blocks until the poller acknowledges, which never happens
	// if polling already ended; bound it.
	sup.Go("telebot.stop_on_cancel", func(ctx context.Context) error {
		<-ctx.Done()
		done := make(chan struct{})
		go func() {
			b.bot.Stop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(stopGrace):
		}
		return nil
	})
	// Start blocks until Stop; an early return while ctx is alive is
	// restarted with backoff.
	sup.GoRestart("telebot.poll", func(ctx context.Context) error {
		if ctx.Err() != nil {
			return nil
		}
		b.log.Info("polling started")
		b.bot.Start()
		b.log.Info("polling stopped")
		if ctx.Err() != nil {
			return nil
		}
		return errors.New("poller exited")
	}, supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second), supervisor.WithMaxRestarts(maxPollRestarts))

	if b.cfg.NotifyChatID != 0 && b.bus != nil {
		events, unsub := b.bus.Subscribe(32, notifyTypes(b.cfg.NotifyFailures)...)
		sup.Go("telegram.notify", func(ctx context.Context) error {
			defer unsub()
			b.forward(ctx, events)
			return nil
		})
	}
	return nil
}

// Stop cancels polling and waits briefly; Telegram long polls are not
// allowed to hold up shutdown.
func (b *Bot) Stop(ctx context.Context) {
	b.runMu.Lock()
	sup := b.sup
	b.sup = nil
	was := b.running
	b.running = false
	b.runMu.Unlock()
	if !was || sup == nil {
		return
	}

	sup.Cancel()

	wctx, cancel := context.WithTimeout(ctx, stopGrace+time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		b.log.Warn("telegram stop timed out", logx.Err(err))
		return
	}
	b.log.Info("telegram stopped")
}
