// Package console reads single-letter operator commands from a terminal.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"foxq/internal/control"
	"foxq/internal/task/periodic"
	"foxq/pkg/logx"
)

const help = `commands:
  d  show dashboard URL
  p  pause scheduler
  s  start / resume scheduler
  r  restart failed tasks
  l  list task counts
  c  checkpoint (save now)
  j  list housekeeping jobs
  q  quit
  h  this help`

type Config struct {
	In  io.Reader
	Out io.Writer
	// DashboardURL returns the URL printed by "d"; nil means no dashboard.
	DashboardURL func() string
	// Quit is called by "q".
	Quit func()
}

type Console struct {
	cfg Config
	op  control.Operator
	log logx.Logger
}

func New(cfg Config, op control.Operator, log logx.Logger) *Console {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Out == nil {
		cfg.Out = io.Discard
	}
	return &Console{cfg: cfg, op: op, log: log.With(logx.String("comp", "console"))}
}

var actor = control.Actor{Source: "console"}

// Run reads commands until ctx is done, the input ends, or "q" is read.
func (c *Console) Run(ctx context.Context) error {
	if c.cfg.In == nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(c.cfg.In)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	c.printf("%s\n", help)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case line := <-lines:
			if quit := c.Handle(ctx, line); quit {
				return nil
			}
		}
	}
}

// Handle executes one command line and reports whether it was "q".
func (c *Console) Handle(ctx context.Context, line string) bool {
	cmd := strings.ToLower(strings.TrimSpace(line))
	if cmd == "" {
		return false
	}
	switch cmd {
	case "d":
		if c.cfg.DashboardURL == nil {
			c.printf("dashboard disabled\n")
			break
		}
		c.printf("dashboard: %s\n", c.cfg.DashboardURL())
	case "p":
		c.op.Stop(ctx, actor)
		c.printf("scheduler paused\n")
	case "s":
		c.op.Start(ctx, actor)
		c.printf("scheduler running\n")
	case "r":
		n := c.op.RestartErrors(ctx, actor)
		c.printf("restarted %d failed task(s)\n", n)
	case "l":
		state := "paused"
		if c.op.IsRunning() {
			state = "running"
		}
		c.printf("%s: %s\n", state, c.op.Stats())
	case "c":
		if err := c.op.Checkpoint(ctx, actor); err != nil {
			c.printf("checkpoint failed: %v\n", err)
			break
		}
		c.printf("checkpoint saved\n")
	case "j":
		jobs := c.op.Jobs()
		if len(jobs) == 0 {
			c.printf("no jobs\n")
			break
		}
		for _, j := range jobs {
			c.printf("%s\n", formatJob(j))
		}
	case "q":
		c.printf("quitting\n")
		if c.cfg.Quit != nil {
			c.cfg.Quit()
		}
		return true
	case "h", "?":
		c.printf("%s\n", help)
	default:
		c.printf("unknown command %q (h for help)\n", cmd)
	}
	return false
}

func formatJob(j periodic.JobInfo) string {
	line := fmt.Sprintf("%-16s %-14s runs=%d failures=%d", j.Name, j.Schedule, j.Runs, j.Failures)
	if !j.Next.IsZero() {
		line += " next=" + j.Next.Format(time.DateTime)
	}
	if j.LastErr != "" {
		line += " last_err=" + j.LastErr
	}
	return line
}

func (c *Console) printf(format string, args ...any) {
	if _, err := fmt.Fprintf(c.cfg.Out, format, args...); err != nil {
		c.log.Debug("console write failed", logx.Err(err))
	}
}
