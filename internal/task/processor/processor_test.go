package processor

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foxq/internal/task/queue"
	"foxq/pkg/logx"
)

func task(id string) queue.Task[map[string]any] {
	return queue.Task[map[string]any]{ID: id, Data: map[string]any{"n": 1}, Status: queue.StatusRunning}
}

func TestSimulateAlwaysSucceeds(t *testing.T) {
	p := Simulate[map[string]any](SimulateConfig{SuccessRate: 1}, logx.Nop())
	for i := 0; i < 5; i++ {
		ok, err := p(context.Background(), task("a"))
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestSimulateAlwaysFails(t *testing.T) {
	p := Simulate[map[string]any](SimulateConfig{SuccessRate: 0}, logx.Nop())
	ok, err := p(context.Background(), task("a"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSimulateHonoursDelayAndContext(t *testing.T) {
	p := Simulate[map[string]any](SimulateConfig{MinDelay: 20 * time.Millisecond, MaxDelay: 30 * time.Millisecond, SuccessRate: 1}, logx.Nop())
	start := time.Now()
	ok, err := p(context.Background(), task("a"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	slow := Simulate[map[string]any](SimulateConfig{MinDelay: time.Hour, MaxDelay: time.Hour}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok, err = slow(ctx, task("b"))
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecRequiresCommand(t *testing.T) {
	_, err := Exec[map[string]any](ExecConfig{}, logx.Nop())
	require.Error(t, err)
}

func TestExecExitStatus(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	ok, err := mustExec(t, sh, `test "$FOXQ_TASK_ID" = t1 && grep -q '"id":"t1"'`)(context.Background(), task("t1"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = mustExec(t, sh, "exit 3")(context.Background(), task("t2"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExecMissingBinary(t *testing.T) {
	p, err := Exec[map[string]any](ExecConfig{Command: []string{"/nonexistent/foxq-worker"}}, logx.Nop())
	require.NoError(t, err)
	ok, err := p(context.Background(), task("x"))
	assert.False(t, ok)
	assert.Error(t, err)
}

func mustExec(t *testing.T, sh, script string) queue.ProcessFunc[map[string]any] {
	t.Helper()
	p, err := Exec[map[string]any](ExecConfig{Command: []string{sh, "-c", script}}, logx.Nop())
	require.NoError(t, err)
	return p
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))

	// "é" is two bytes; a cut at 3 would land inside the second one.
	out := truncate("aéé", 4)
	assert.Equal(t, "aé...", out)
	assert.True(t, utf8.ValidString(out))

	long := strings.Repeat("界", maxOutputLog)
	out = truncate(long, maxOutputLog)
	assert.True(t, utf8.ValidString(out))
	assert.LessOrEqual(t, len(out), maxOutputLog+len("..."))
}
