package agent

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/botscript-go/botscript/module"
	"github.com/botscript-go/botscript/scripthost"
)

// loadModules constructs a Module for every non-reserved package entry and
// replays the configured init command sequence against them. Modules are
// registered in a fixed alphabetical order so command fan-out order is
// reproducible across agent instances of the same package.
func (a *Agent) loadModules() {
	names := make([]string, 0, len(a.pkg.Modules()))
	for name := range a.pkg.Modules() {
		if name == "base" || name == "servers" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	a.mu.Lock()
	for _, name := range names {
		m := module.New(name, a, a.interp, a.exec)
		a.modules = append(a.modules, m)
		a.modulesByName[name] = m
	}
	a.mu.Unlock()

	for _, cmd := range a.cfg.InitCommandSequence() {
		a.Execute(cmd[0], cmd[1])
	}
}

// Execute enqueues (command, argument) onto the executor; commands for one
// agent are processed strictly in arrival order (§4.1).
func (a *Agent) Execute(command, argument string) {
	a.exec.Post(func() {
		a.executeSync(context.Background(), command, argument)
	})
}

func (a *Agent) executeSync(ctx context.Context, command, argument string) {
	if mod, setting, ok := strings.Cut(command, "_set_"); ok {
		old := a.cfg.ModuleSettings()[mod][setting]
		if strings.HasPrefix(old, "^") {
			command = "shared_set_" + strings.TrimPrefix(old, "^")
		}
	}

	if command == "base_set_wait_time_factor" {
		a.handleWaitTimeFactor(argument)
		return
	}

	if command == "base_set_proxy" {
		a.handleSetProxy(ctx, argument)
		return
	}

	if key, ok := strings.CutPrefix(command, "shared_set_"); ok {
		a.Log(scripthost.LogDebug, "shared", "updating shared variable "+key)
		a.cfg.SetModuleKey("shared", key, argument)
		a.propagateSharedIfNeeded("shared_"+key, argument)
		a.publish("shared_"+key, argument)
		return
	}

	a.mu.RLock()
	modules := append([]*module.Module(nil), a.modules...)
	a.mu.RUnlock()
	for _, m := range modules {
		m.Execute(command, argument)
	}
}

func (a *Agent) handleWaitTimeFactor(argument string) {
	raw := argument
	if !strings.Contains(raw, ".") {
		raw += ".0"
	}

	wtf, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		a.Log(scripthost.LogError, "base", "could not read wait time factor")
		a.mu.RLock()
		current := a.waitTimeFactor
		a.mu.RUnlock()
		a.cfg.SetModuleKey("base", "wait_time_factor", waitTimeFactorString(current))
		a.refreshStatus("base_wait_time_factor")
		return
	}

	if wtf <= 0 {
		a.Log(scripthost.LogError, "base", "invalid value for wait time factor")
		a.refreshStatus("base_wait_time_factor")
		return
	}

	a.mu.Lock()
	a.waitTimeFactor = wtf
	a.mu.Unlock()

	formatted := waitTimeFactorString(wtf)
	a.SetStatus("base_wait_time_factor", formatted)
	a.Log(scripthost.LogInfo, "base", "set wait time factor to "+formatted)
}

func (a *Agent) handleSetProxy(ctx context.Context, argument string) {
	a.mu.Lock()
	if a.proxyCheckActive {
		a.mu.Unlock()
		a.Log(scripthost.LogError, "base", "another proxy check is currently active")
		return
	}
	a.proxyCheckActive = true
	a.mu.Unlock()

	a.verifyAndSetProxy(ctx, argument, func(success bool) {
		if !success {
			a.mu.Lock()
			a.proxyCheckActive = false
			a.mu.Unlock()
			a.Log(scripthost.LogError, "base", "no new working proxy found")
			a.refreshStatus("base_proxy")
			return
		}

		a.Log(scripthost.LogInfo, "base", "login: 1. try")
		a.loginRetry(ctx, 2, func(err error) {
			a.mu.Lock()
			a.proxyCheckActive = false
			a.mu.Unlock()
			if err != nil {
				a.Log(scripthost.LogError, "base", err.Error())
			}
			a.refreshStatus("base_proxy")
		})
	})
}
