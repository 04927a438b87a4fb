package scripthost

import "context"

// LogLevel selects which of an agent's log sinks a Utility.log* call writes
// to.
type LogLevel int

const (
	LogDebug LogLevel = iota
	LogInfo
	LogError
)

// Callbacks lets a Capabilities instance reach concerns that live above
// scripthost in the dependency order (the owning agent's log FIFO and
// key-value status store) without importing the agent package directly.
type Callbacks struct {
	// Server returns the current base URL a relative get_path/post_path
	// call should be resolved against.
	Server func() string
	// Log receives every log_debug/log/log_error call from a script.
	Log func(level LogLevel, module, message string)
	// SetStatus mirrors set_status(key, value) into the owning agent's
	// key-value store for the calling module.
	SetStatus func(module, key, value string)
}

// Interpreter is one script engine instance bound to a single agent: it
// holds every loaded module's source plus the base package's shared
// definitions, and serializes all execution on the agent's own executor, so
// at most one of Login or RunModule is ever active at a time (§5 "at most
// one interpreter call per agent is ever in flight").
type Interpreter interface {
	// Login runs the base package's login(username, password) entry point
	// and reports whether the login succeeded; a script error is returned
	// as err.
	Login(ctx context.Context, username, password string) (bool, error)

	// RunModule invokes run_<module>() with status pre-populated from the
	// supplied key-value snapshot, and returns the wait hint (min, max) the
	// run produced, with -1 standing for a value the script did not supply.
	// The module scheduler, not the interpreter, picks the default interval
	// when no hint is given.
	RunModule(ctx context.Context, module string, status map[string]string) (waitMin, waitMax int, err error)

	// Close releases any interpreter-owned resources (VM state, loaded
	// chunks). The interpreter is not usable after Close.
	Close()
}

// Factory constructs an Interpreter for one agent out of its package's
// loaded module sources, wiring caps as the capability surface every
// loaded script calls into.
type Factory interface {
	New(identifier string, baseSource []byte, modules map[string][]byte, caps *Capabilities) (Interpreter, error)
}
