package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// FieldError names the config field whose value did not parse.
type FieldError struct {
	Field string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%q: %v", e.Value, e.Err)
	}
	return fmt.Sprintf("%s: %q: %v", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

var ErrNegativeDuration = errors.New("duration must not be negative")

// ParseDurationField parses the duration string of field. Blank is 0.
func ParseDurationField(field, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &FieldError{Field: field, Value: raw, Err: err}
	}
	if d < 0 {
		return 0, &FieldError{Field: field, Value: raw, Err: ErrNegativeDuration}
	}
	return d, nil
}

// MustDuration is for values Validate has already accepted; anything
// unparsable reads as 0.
func MustDuration(raw string) time.Duration {
	d, _ := ParseDurationField("", raw)
	return d
}
