package module

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/botscript-go/botscript/executor"
	"github.com/botscript-go/botscript/scripthost"
)

type fakeBot struct {
	mu     sync.Mutex
	status map[string]string
	logs   []string
	rnd    func(min, max int) int
}

func newFakeBot() *fakeBot {
	return &fakeBot{status: make(map[string]string), rnd: func(min, max int) int { return min }}
}

func (b *fakeBot) Log(level scripthost.LogLevel, module, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logs = append(b.logs, message)
}

func (b *fakeBot) Status(key string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status[key]
}

func (b *fakeBot) SetStatus(key, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status[key] = value
}

func (b *fakeBot) ModuleStatus(name string) map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]string)
	prefix := name + "_"
	for k, v := range b.status {
		if k == name+"_active" || !strings.HasPrefix(k, prefix) {
			continue
		}
		out[strings.TrimPrefix(k, prefix)] = v
	}
	return out
}

func (b *fakeBot) Random(min, max int) int { return b.rnd(min, max) }

type fakeInterp struct {
	mu      sync.Mutex
	calls   int
	waitMin int
	waitMax int
	err     error
	done    chan struct{}
}

func (f *fakeInterp) RunModule(ctx context.Context, module string, status map[string]string) (int, int, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if f.done != nil && n == 1 {
		close(f.done)
	}
	return f.waitMin, f.waitMax, f.err
}

func TestComputeWaitPrefersExplicitRange(t *testing.T) {
	got := computeWait(10, 20, func(min, max int) int {
		require.Equal(t, 10, min)
		require.Equal(t, 20, max)
		return 15
	})
	require.Equal(t, 15, got)
}

func TestComputeWaitUsesLoneMinVerbatim(t *testing.T) {
	got := computeWait(42, -1, func(int, int) int { t.Fatal("should not randomize"); return 0 })
	require.Equal(t, 42, got)
}

func TestComputeWaitFallsBackToDefaultRange(t *testing.T) {
	got := computeWait(-1, -1, func(min, max int) int {
		require.Equal(t, defaultWaitMin, min)
		require.Equal(t, defaultWaitMax, max)
		return 99
	})
	require.Equal(t, 99, got)
}

func TestNewInitializesActiveStatusToZero(t *testing.T) {
	bot := newFakeBot()
	ex := executor.New()
	defer ex.Stop()

	m := New("gather", bot, &fakeInterp{}, ex)
	require.Equal(t, "0", bot.Status(m.activeKey()))
	require.Equal(t, OFF, m.State())
}

func TestExecuteActiveStartsOffModule(t *testing.T) {
	bot := newFakeBot()
	ex := executor.New()
	defer ex.Stop()

	done := make(chan struct{})
	interp := &fakeInterp{waitMin: -1, waitMax: -1, done: done}
	m := New("gather", bot, interp, ex)

	m.Execute("gather_set_active", "1")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run was never invoked")
	}
	require.Equal(t, "1", bot.Status(m.activeKey()))
}

func TestExecuteIgnoresOtherModuleCommands(t *testing.T) {
	bot := newFakeBot()
	ex := executor.New()
	defer ex.Stop()

	m := New("gather", bot, &fakeInterp{}, ex)
	m.Execute("other_set_active", "1")
	require.Equal(t, OFF, m.State())
}

func TestExecuteGlobalSetAppliesToAnyModule(t *testing.T) {
	bot := newFakeBot()
	ex := executor.New()
	defer ex.Stop()

	m := New("gather", bot, &fakeInterp{}, ex)
	m.Execute("global_set_pause", "1")
	require.Equal(t, "1", bot.Status("gather_pause"))
}

func TestExecuteStopFromWaitCancelsTimerAndSetsOff(t *testing.T) {
	bot := newFakeBot()
	ex := executor.New()
	defer ex.Stop()

	m := New("gather", bot, &fakeInterp{waitMin: -1, waitMax: -1}, ex)
	m.mu.Lock()
	m.state = Wait
	m.timer = ex.After(time.Hour, func() {})
	m.mu.Unlock()

	m.Execute("gather_set_active", "0")
	require.Equal(t, OFF, m.State())
	require.Equal(t, "0", bot.Status(m.activeKey()))
}

func TestRunTransitionsToOffWhenStoppedDuringExecution(t *testing.T) {
	bot := newFakeBot()
	ex := executor.New()
	defer ex.Stop()

	m := New("gather", bot, &fakeInterp{waitMin: -1, waitMax: -1}, ex)
	m.mu.Lock()
	m.state = StopRun
	m.mu.Unlock()

	m.run(context.Background())
	require.Equal(t, OFF, m.State())
}
