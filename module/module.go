// Package module implements the per-module OFF/RUN/STOP_RUN/WAIT state
// machine that drives one script module's run_<name>() entry point on a
// recurring, self-rescheduling timer.
package module

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/botscript-go/botscript/executor"
	"github.com/botscript-go/botscript/scripthost"
)

// State is one of the four states a module cycles through.
type State int

const (
	OFF State = iota
	RUN
	StopRun
	Wait
)

func (s State) String() string {
	switch s {
	case OFF:
		return "OFF"
	case RUN:
		return "RUN"
	case StopRun:
		return "STOP_RUN"
	case Wait:
		return "WAIT"
	default:
		return "UNKNOWN"
	}
}

// defaultWaitMin/Max bound the random sleep chosen when a module's run
// returns no wait hint or when a run fails.
const (
	defaultWaitMin = 60
	defaultWaitMax = 120
)

// Bot is the narrow view of the owning agent a module needs: logging,
// status read/write and the seeded random source used for wait intervals.
type Bot interface {
	Log(level scripthost.LogLevel, module, message string)
	Status(key string) string
	SetStatus(key, value string)
	// ModuleStatus returns the module's own status keys (the "<name>_"
	// prefix stripped, the internal "active" flag omitted), for seeding an
	// interpreter's script globals before a run.
	ModuleStatus(name string) map[string]string
	Random(min, max int) int
}

// Interpreter is the subset of scripthost.Interpreter a module drives.
type Interpreter interface {
	RunModule(ctx context.Context, module string, status map[string]string) (waitMin, waitMax int, err error)
}

// Module owns one script's lifecycle. Not safe for concurrent external use
// beyond Execute, which is safe to call from any goroutine.
type Module struct {
	name   string
	bot    Bot
	interp Interpreter
	exec   *executor.Executor

	mu    sync.Mutex
	state State
	timer *executor.Timer
}

// New constructs a Module in the OFF state and initializes its "<name>_active"
// status flag to "0".
func New(name string, bot Bot, interp Interpreter, exec *executor.Executor) *Module {
	m := &Module{name: name, bot: bot, interp: interp, exec: exec, state: OFF}
	bot.SetStatus(m.activeKey(), "0")
	return m
}

// Name returns the module's name, as derived from its script filename.
func (m *Module) Name() string { return m.name }

// State reports the module's current lifecycle state.
func (m *Module) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Module) activeKey() string { return m.name + "_active" }

// run executes one pass of the module's script and reschedules itself via
// the owning executor's timer, unless the module has been stopped. Always
// invoked as a task posted to exec, never called directly from Execute.
func (m *Module) run(ctx context.Context) {
	m.mu.Lock()
	if m.state == OFF || m.state == StopRun {
		m.bot.Log(scripthost.LogDebug, m.name, "STOP_RUN -> run(): OFF")
		m.state = OFF
		m.mu.Unlock()
		return
	}
	m.state = RUN
	m.mu.Unlock()

	m.bot.Log(scripthost.LogInfo, m.name, "starting")

	waitMin, waitMax, err := m.interp.RunModule(ctx, m.name, m.statusSnapshot())

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.bot.Log(scripthost.LogError, m.name, err.Error())
	}

	if m.state == OFF || m.state == StopRun {
		m.bot.Log(scripthost.LogDebug, m.name, "STOP_RUN -> run(): OFF")
		m.state = OFF
		return
	}

	if err != nil {
		m.state = Wait
		sleep := m.bot.Random(defaultWaitMin, defaultWaitMax)
		m.armLocked(sleep)
		m.bot.Log(scripthost.LogInfo, m.name, fmt.Sprintf("sleeping %d", sleep))
		return
	}

	m.state = Wait
	sleep := computeWait(waitMin, waitMax, m.bot.Random)
	m.armLocked(sleep)
	m.bot.Log(scripthost.LogInfo, m.name, fmt.Sprintf("sleeping %d", sleep))
}

// computeWait mirrors module::run_cb's interval selection: an explicit
// [min,max] picks a random point in that range, a lone min is used
// verbatim, and no hint at all falls back to the default range.
func computeWait(min, max int, random func(int, int) int) int {
	switch {
	case min >= 0 && max >= 0:
		return random(min, max)
	case min >= 0:
		return min
	default:
		return random(defaultWaitMin, defaultWaitMax)
	}
}

// armLocked schedules the next run() call after sleep seconds. Caller must
// hold m.mu.
func (m *Module) armLocked(sleep int) {
	m.timer = m.exec.After(time.Duration(sleep)*time.Second, func() {
		m.run(context.Background())
	})
}

func (m *Module) statusSnapshot() map[string]string {
	return m.bot.ModuleStatus(m.name)
}

// Execute routes a "<name>_set_<key>"/"global_set_<key>" command to this
// module. Commands for other modules are ignored. A command arriving while
// the module's state is being touched elsewhere is dropped rather than
// queued, matching the try-lock contention policy.
func (m *Module) Execute(command, argument string) {
	global := strings.HasPrefix(command, "global_set_")
	if !strings.HasPrefix(command, m.name+"_set_") && !global {
		return
	}

	if !m.mu.TryLock() {
		m.bot.Log(scripthost.LogInfo, m.name, "execute not possible (locked)")
		return
	}
	defer m.mu.Unlock()

	var key string
	if global {
		key = command[len("global_set_"):]
	} else {
		key = command[len(m.name+"_set_"):]
	}

	if key == "active" {
		m.executeActiveLocked(argument == "1")
		return
	}

	fullKey := m.name + "_" + key
	if m.bot.Status(fullKey) != argument {
		m.bot.Log(scripthost.LogInfo, m.name, fmt.Sprintf("setting %s to %s", key, argument))
		m.bot.SetStatus(fullKey, argument)
	}
}

func (m *Module) executeActiveLocked(start bool) {
	if start {
		switch m.state {
		case OFF:
			m.bot.Log(scripthost.LogDebug, m.name, "OFF -> start: RUN")
			m.state = RUN
			m.bot.SetStatus(m.activeKey(), "1")
			m.exec.Post(func() { m.run(context.Background()) })
		case StopRun:
			m.bot.Log(scripthost.LogDebug, m.name, "STOP_RUN -> start: RUN")
			m.state = RUN
			m.bot.SetStatus(m.activeKey(), "1")
		default:
			m.bot.Log(scripthost.LogDebug, m.name, m.state.String()+" -> start: nothing to do")
		}
		return
	}

	switch m.state {
	case Wait:
		m.bot.Log(scripthost.LogDebug, m.name, "WAIT -> stop: OFF")
		if m.timer != nil {
			m.timer.Stop()
		}
		m.state = OFF
		m.bot.SetStatus(m.activeKey(), "0")
	case RUN:
		m.bot.Log(scripthost.LogDebug, m.name, "RUN -> stop: STOP_RUN")
		m.state = StopRun
		m.bot.SetStatus(m.activeKey(), "0")
	default:
		m.bot.Log(scripthost.LogDebug, m.name, m.state.String()+" -> stop: nothing to do")
	}
}
