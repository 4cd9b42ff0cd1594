package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"unicode/utf8"

	"foxq/internal/task/queue"
	"foxq/pkg/logx"
)

const maxOutputLog = 2048

// ExecConfig runs one external command per task.
type ExecConfig struct {
	Command []string
	Dir     string
	Env     []string
}

// Exec returns a process function that runs cfg.Command with the task's JSON
// on stdin and FOXQ_TASK_ID set. Exit status 0 completes the task.
func Exec[T any](cfg ExecConfig, log logx.Logger) (queue.ProcessFunc[T], error) {
	if len(cfg.Command) == 0 || strings.TrimSpace(cfg.Command[0]) == "" {
		return nil, errors.New("processor: exec command required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	argv := append([]string(nil), cfg.Command...)
	env := append([]string(nil), cfg.Env...)

	return func(ctx context.Context, t queue.Task[T]) (bool, error) {
		in, err := json.Marshal(t)
		if err != nil {
			return false, fmt.Errorf("encode task: %w", err)
		}
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Dir = cfg.Dir
		cmd.Env = append(append(os.Environ(), env...), "FOXQ_TASK_ID="+t.ID)
		cmd.Stdin = bytes.NewReader(in)
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out

		err = cmd.Run()
		output := truncate(strings.TrimSpace(out.String()), maxOutputLog)
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				log.Debug("task command failed", logx.String("task", t.ID), logx.Int("exit", exitErr.ExitCode()), logx.String("output", output))
				return false, nil
			}
			return false, fmt.Errorf("run %s: %w", argv[0], err)
		}
		log.Debug("task command done", logx.String("task", t.ID), logx.String("output", output))
		return true, nil
	}, nil
}

// truncate keeps at most n bytes of s without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
