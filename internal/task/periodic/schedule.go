package periodic

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type Kind int

const (
	KindCron Kind = iota
	KindInterval
)

// Schedule is a parsed schedule string.
//
// Supported forms:
//   - cron: "*/5 * * * *", "0 */10 * * * *" (seconds optional), "@hourly"
//   - "@every 1m" and plain durations like "90s" (interval)
//   - HH:MM interval: "01:30" is every 1h30m
type Schedule struct {
	Kind  Kind
	Cron  string
	Every time.Duration
}

var reHHMM = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)

func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, fmt.Errorf("schedule required")
	}
	if rest, ok := strings.CutPrefix(s, "@every "); ok {
		return parseInterval(strings.TrimSpace(rest), raw)
	}
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		return Schedule{Kind: KindCron, Cron: s}, nil
	}
	if m := reHHMM.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return Schedule{}, fmt.Errorf("invalid schedule %q: minutes must be < 60", raw)
		}
		return interval(time.Duration(h)*time.Hour+time.Duration(mm)*time.Minute, raw)
	}
	return parseInterval(s, raw)
}

func parseInterval(v, raw string) (Schedule, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid schedule %q (use cron like '*/5 * * * *', '@every 1m', HH:MM, or a duration)", raw)
	}
	return interval(d, raw)
}

func interval(d time.Duration, raw string) (Schedule, error) {
	if d <= 0 {
		return Schedule{}, fmt.Errorf("invalid schedule %q: interval must be > 0", raw)
	}
	return Schedule{Kind: KindInterval, Every: d}, nil
}

func (s Schedule) String() string {
	if s.Kind == KindInterval {
		return "@every " + s.Every.String()
	}
	return s.Cron
}
