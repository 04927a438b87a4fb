// Package agent implements the controller that owns one scripted bot's
// entire lifecycle: login with retry and proxy rotation, module
// construction and command fan-out, shared-variable propagation, and the
// bounded log FIFO surfaced to an observer.
package agent

import (
	"container/list"
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/botscript-go/botscript/executor"
	"github.com/botscript-go/botscript/httpsession"
	"github.com/botscript-go/botscript/module"
	"github.com/botscript-go/botscript/proxychecker"
	"github.com/botscript-go/botscript/scripthost"
)

// maxLogEntries bounds the agent's in-memory log FIFO (§3 invariant).
const maxLogEntries = 50

// randSeedInit is the starting LCG state for a freshly constructed agent's
// random() sequence.
const randSeedInit = 6753

// Observer receives every status/log update published for identifier.
type Observer func(identifier, key, value string)

// InitCallback is invoked exactly once by Init, with err == nil on success.
type InitCallback func(a *Agent, err error)

// Agent is the controller for one scripted bot. Create with New, then call
// Init before anything else.
type Agent struct {
	logger *zap.Logger
	exec   *executor.Executor

	cfg     Config
	pkg     Package
	reg     Registry
	factory scripthost.Factory

	observer Observer

	identifier string
	session    *httpsession.Session
	caps       *scripthost.Capabilities
	interp     scripthost.Interpreter

	mu               sync.RWMutex
	modules          []*module.Module
	modulesByName    map[string]*module.Module
	waitTimeFactor   float64
	proxyCheckActive bool
	randSeed         uint32
	logs             *list.List
}

// New constructs an Agent bound to cfg and pkg. Init must be called before
// the agent does any work.
func New(cfg Config, pkg Package, reg Registry, factory scripthost.Factory, exec *executor.Executor, observer Observer, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		logger:         logger.Named("agent"),
		exec:           exec,
		cfg:            cfg,
		pkg:            pkg,
		reg:            reg,
		factory:        factory,
		observer:       observer,
		modulesByName:  make(map[string]*module.Module),
		waitTimeFactor: 1.0,
		randSeed:       randSeedInit,
		logs:           list.New(),
	}
}

// Identifier returns the agent's stable identifier, valid only after Init
// has started (it is computed before anything else in Init).
func (a *Agent) Identifier() string { return a.identifier }

// Init validates cfg, resolves the package, builds the identifier,
// registers the agent, constructs the HTTP session, optionally verifies a
// proxy list, drives login with retry, then constructs modules and replays
// the configured init command sequence. cb is invoked exactly once.
func (a *Agent) Init(ctx context.Context, cb InitCallback) {
	if !a.cfg.Valid() {
		cb(a, fmt.Errorf("agent: invalid configuration"))
		return
	}

	tag, err := a.pkg.Tag(a.cfg.Server())
	if err != nil {
		cb(a, fmt.Errorf("agent: resolve server tag: %w", err))
		return
	}
	a.identifier = Identifier(a.cfg.Username(), a.cfg.Package(), tag)

	if a.reg.Contains(a.identifier) {
		cb(a, fmt.Errorf("agent: %s already registered", a.identifier))
		return
	}
	if err := a.reg.Add(a.identifier, a); err != nil {
		cb(a, err)
		return
	}

	a.session = httpsession.New(a.logger)
	a.session.SetCookies(a.cfg.Cookies())

	baseSource, ok := a.pkg.Modules()["base"]
	if !ok {
		cb(a, fmt.Errorf("agent: package %s has no base module", a.cfg.Package()))
		return
	}

	cb2 := func() {
		a.finishInit(ctx, baseSource, cb)
	}

	proxy := strings.TrimSpace(a.cfg.ModuleSettings()["base"]["proxy"])
	if proxy == "" {
		cb2()
		return
	}

	a.verifyAndSetProxy(ctx, proxy, func(success bool) {
		if !success {
			a.cfg.SetModuleKey("base", "proxy", proxy)
			cb(a, fmt.Errorf("agent: no working proxy found"))
			return
		}
		cb2()
	})
}

func (a *Agent) finishInit(ctx context.Context, baseSource []byte, cb InitCallback) {
	a.caps = scripthost.New(a.session, scripthost.Callbacks{
		Server:    func() string { return a.cfg.Server() },
		Log:       func(level scripthost.LogLevel, module, message string) { a.Log(level, module, message) },
		SetStatus: func(module, key, value string) { a.setModuleStatus(module, key, value) },
	})

	interp, err := a.factory.New(a.identifier, baseSource, a.pkg.Modules(), a.caps)
	if err != nil {
		cb(a, fmt.Errorf("agent: build interpreter: %w", err))
		return
	}
	a.interp = interp

	a.Log(scripthost.LogInfo, "base", "login: 1. try")
	a.loginRetry(ctx, 2, func(err error) {
		if err != nil {
			cb(a, err)
			return
		}
		a.loadModules()
		cb(a, nil)
	})
}

// Shutdown issues global_set_active=0, waits for every module to reach OFF,
// then clears modules and the observer and unregisters the agent (§4.1,
// §3: the agent is destroyed only after shutdown completes and all
// outstanding script tasks drain).
func (a *Agent) Shutdown() {
	a.Execute("global_set_active", "0")
	a.waitForModulesOff()

	a.mu.Lock()
	a.modules = nil
	a.modulesByName = make(map[string]*module.Module)
	a.observer = nil
	a.mu.Unlock()

	a.Log(scripthost.LogDebug, "base", fmt.Sprintf("shutdown: observer %s", observerState(a.observer)))
	if a.reg != nil {
		a.reg.Remove(a.identifier)
	}
}

// waitForModulesOff blocks until every module reports OFF. Polls every
// 5ms — not a hot loop, acceptable since modules settle within one or two
// executor ticks of global_set_active=0.
func (a *Agent) waitForModulesOff() {
	for {
		a.mu.RLock()
		modules := append([]*module.Module(nil), a.modules...)
		a.mu.RUnlock()

		allOff := true
		for _, m := range modules {
			if m.State() != module.OFF {
				allOff = false
				break
			}
		}
		if allOff {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func observerState(o Observer) string {
	if o == nil {
		return "not set"
	}
	return "set"
}

// Random draws the next value of the agent's deterministic sequence,
// scaled by the current wait time factor.
func (a *Agent) Random(lo, hi int) int {
	a.mu.Lock()
	a.randSeed = (a.randSeed * 31) % 32768
	seed := a.randSeed
	factor := a.waitTimeFactor
	a.mu.Unlock()

	r := float64(seed) / 32768.0
	return lo + int(math.Round(r*float64(hi-lo)*factor))
}

// Status reads a flat status key.
func (a *Agent) Status(key string) string {
	return a.cfg.ValueOf(key)
}

// SetStatus writes a flat status key, publishing the change to the
// observer and fanning it out to any dependent shared-variable readers.
func (a *Agent) SetStatus(key, value string) {
	a.cfg.Set(key, value)
	a.publish(key, value)
	a.propagateSharedIfNeeded(key, value)
}

func (a *Agent) setModuleStatus(module, key, value string) {
	a.SetStatus(module+"_"+key, value)
}

// ModuleStatus returns module's own settings (prefix stripped, "active"
// omitted), satisfying module.Bot.
func (a *Agent) ModuleStatus(name string) map[string]string {
	out := make(map[string]string)
	for k, v := range a.cfg.ModuleSettings()[name] {
		if k == "active" {
			continue
		}
		out[k] = v
	}
	return out
}

func (a *Agent) publish(key, value string) {
	a.mu.RLock()
	obs := a.observer
	a.mu.RUnlock()
	if obs == nil {
		return
	}
	func() {
		defer func() { recover() }()
		obs(a.identifier, key, value)
	}()
}

// refreshStatus re-publishes the currently configured value of key,
// without writing anything new (used to revert a failed proxy or wait
// time factor change back to its last good value).
func (a *Agent) refreshStatus(key string) {
	a.publish(key, a.cfg.ValueOf(key))
}

func (a *Agent) propagateSharedIfNeeded(key, value string) {
	const prefix = "shared_"
	if !strings.HasPrefix(key, prefix) {
		return
	}
	for _, dependent := range a.dependentVariables(strings.TrimPrefix(key, prefix)) {
		a.publish(dependent, value)
	}
}

// dependentVariables scans module settings for values that sentinel-reference
// key, either read-only ($key) or read-write (^key).
func (a *Agent) dependentVariables(key string) []string {
	want1 := "$" + key
	want2 := "^" + key
	var updates []string
	for mod, settings := range a.cfg.ModuleSettings() {
		for name, value := range settings {
			if value == want1 || value == want2 {
				updates = append(updates, mod+"_"+name)
			}
		}
	}
	return updates
}

// Log appends a formatted line to the bounded FIFO and publishes it as the
// reserved "log" key.
func (a *Agent) Log(level scripthost.LogLevel, source, message string) {
	line := formatLogLine(level, a.identifier, source, message)

	a.mu.Lock()
	a.logs.PushBack(line)
	for a.logs.Len() > maxLogEntries {
		a.logs.Remove(a.logs.Front())
	}
	a.mu.Unlock()

	a.publish("log", line)
}

// LogMessages returns every currently buffered log line, oldest first.
func (a *Agent) LogMessages() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, a.logs.Len())
	for e := a.logs.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(string))
	}
	return out
}

func formatLogLine(level scripthost.LogLevel, identifier, source, message string) string {
	var tag string
	switch level {
	case scripthost.LogDebug:
		tag = "DEBUG"
	case scripthost.LogInfo:
		tag = "INFO "
	case scripthost.LogError:
		tag = "ERROR"
	default:
		tag = "INFO "
	}
	ts := time.Now().Format("02.01 15:04:05")
	return fmt.Sprintf("[%s][%s][%-20s][%-8s] %s\n", tag, ts, identifier, source, message)
}

// Identifier derives the stable "<short-package>_<server-tag>_<username>"
// string, stripping any "owner/" prefix from the package name.
func Identifier(username, pkg, serverTag string) string {
	printPkg := pkg
	if idx := strings.IndexByte(pkg, '/'); idx >= 0 {
		printPkg = pkg[idx+1:]
	}
	return printPkg + "_" + serverTag + "_" + username
}

// waitTimeFactorString renders f with exactly two digits after the decimal
// point ("1.00", "10.00").
func waitTimeFactorString(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

func (a *Agent) verifyAndSetProxy(ctx context.Context, proxyArg string, done func(success bool)) {
	candidates := splitProxyList(proxyArg)
	if len(candidates) == 0 {
		done(false)
		return
	}

	probeHeaders := a.session.Headers()
	probe, err := httpsession.BuildProxyProbeRequest(a.cfg.Server(), probeHeaders)
	if err != nil {
		done(false)
		return
	}

	good := proxychecker.Check(ctx, candidates, probe, func(body string) bool { return body != "" }, a.logger)
	n := a.session.SetProxyList(good)
	done(n > 0)
}

func splitProxyList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
