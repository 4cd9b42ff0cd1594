package periodic

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"foxq/pkg/logx"
)

var ErrUnknownJob = errors.New("periodic: unknown job")

// Job is one housekeeping action.
type Job struct {
	Name     string
	Schedule string
	// Timeout bounds a single run; 0 means no limit.
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// JobInfo is a point-in-time view of a registered job.
type JobInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next,omitempty"`
	Prev     time.Time `json:"prev,omitempty"`
	Runs     uint64    `json:"runs"`
	Failures uint64    `json:"failures"`
	LastErr  string    `json:"last_err,omitempty"`
}

type entry struct {
	job      Job
	sched    Schedule
	id       cron.EntryID
	running  bool
	runs     uint64
	failures uint64
	lastErr  string
}

type Service struct {
	log    logx.Logger
	parser cron.Parser

	mu      sync.Mutex
	loc     *time.Location
	c       *cron.Cron
	ctx     context.Context
	entries map[string]*entry
}

func New(timezone string, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := time.Local
	if tz := strings.TrimSpace(timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		} else {
			log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		}
	}
	return &Service{
		log: log.With(logx.String("comp", "jobs")),
		// SecondOptional allows both 5-field and 6-field (with seconds) specs.
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		loc:     loc,
		ctx:     context.Background(),
		entries: map[string]*entry{},
	}
}

// Add registers (or replaces) a job. Jobs added after Start are scheduled
// immediately.
func (s *Service) Add(j Job) error {
	name := strings.TrimSpace(j.Name)
	if name == "" {
		return errors.New("periodic: job name required")
	}
	if j.Run == nil {
		return fmt.Errorf("periodic: job %s has no run func", name)
	}
	sched, err := ParseSchedule(j.Schedule)
	if err != nil {
		return fmt.Errorf("periodic: job %s: %w", name, err)
	}
	if sched.Kind == KindCron {
		if _, err := s.parser.Parse(sched.Cron); err != nil {
			return fmt.Errorf("periodic: job %s: %w", name, err)
		}
	}
	j.Name = name

	s.mu.Lock()
	defer s.mu.Unlock()
	if old := s.entries[name]; old != nil && s.c != nil && old.id != 0 {
		s.c.Remove(old.id)
	}
	e := &entry{job: j, sched: sched}
	s.entries[name] = e
	if s.c != nil {
		return s.scheduleLocked(e)
	}
	return nil
}

func (s *Service) scheduleLocked(e *entry) error {
	name := e.job.Name
	run := func() { s.run(name) }
	if e.sched.Kind == KindInterval {
		sched, jitter := withSpread(e.sched.Every, time.Now().In(s.loc))
		e.id = s.c.Schedule(sched, cron.FuncJob(run))
		s.log.Debug("job scheduled", logx.String("job", name), logx.String("schedule", e.sched.String()), logx.Duration("spread", jitter))
		return nil
	}
	id, err := s.c.AddFunc(e.sched.Cron, run)
	if err != nil {
		return fmt.Errorf("periodic: job %s: %w", name, err)
	}
	e.id = id
	s.log.Debug("job scheduled", logx.String("job", name), logx.String("schedule", e.sched.String()))
	return nil
}

// Start begins triggering. Job runs receive a context derived from ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx = ctx
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, e := range s.entries {
		if err := s.scheduleLocked(e); err != nil {
			s.log.Warn("job not scheduled", logx.String("job", e.job.Name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("jobs started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.entries)))
}

// Stop halts triggering and waits for running jobs until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, e := range s.entries {
		e.id = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("jobs stopped")
}

// RunNow runs a job synchronously, outside its schedule.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e := s.entries[name]
	s.mu.Unlock()
	if e == nil {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.exec(ctx, e)
}

func (s *Service) run(name string) {
	s.mu.Lock()
	e := s.entries[name]
	ctx := s.ctx
	s.mu.Unlock()
	if e == nil {
		return
	}
	_ = s.exec(ctx, e)
}

// exec runs e unless a previous run is still going.
func (s *Service) exec(ctx context.Context, e *entry) (err error) {
	s.mu.Lock()
	if e.running {
		s.mu.Unlock()
		s.log.Debug("job skipped; previous run still active", logx.String("job", e.job.Name))
		return nil
	}
	e.running = true
	job := e.job
	s.mu.Unlock()

	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panicked", logx.String("job", job.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
		s.mu.Lock()
		e.running = false
		e.runs++
		if err != nil {
			e.failures++
			e.lastErr = err.Error()
		}
		s.mu.Unlock()
		if err != nil {
			s.log.Warn("job failed", logx.String("job", job.Name), logx.Err(err), logx.Duration("took", time.Since(start)))
			return
		}
		s.log.Debug("job done", logx.String("job", job.Name), logx.Duration("took", time.Since(start)))
	}()
	return job.Run(ctx)
}

func (s *Service) Snapshot() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.entries))
	for _, e := range s.entries {
		info := JobInfo{
			Name:     e.job.Name,
			Schedule: e.sched.String(),
			Runs:     e.runs,
			Failures: e.failures,
			LastErr:  e.lastErr,
		}
		if s.c != nil && e.id != 0 {
			ce := s.c.Entry(e.id)
			info.Next, info.Prev = ce.Next, ce.Prev
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
