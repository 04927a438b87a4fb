// Package config provides an in-memory agent.Config implementation: plain
// JSON (de)serialization and flat key/value access with sentinel
// read-through, with no persistence of its own. A caller wanting durable
// storage wraps or replaces this with its own agent.Config.
package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// jsonDoc mirrors the wire shape of §6's Config JSON.
type jsonDoc struct {
	Username string                       `json:"username"`
	Password string                       `json:"password,omitempty"`
	Package  string                       `json:"package"`
	Server   string                       `json:"server"`
	Cookies  map[string]string            `json:"cookies,omitempty"`
	Modules  map[string]map[string]string `json:"modules"`
}

// MemConfig is a goroutine-safe, process-memory-only implementation of
// agent.Config.
type MemConfig struct {
	mu       sync.RWMutex
	username string
	password string
	pkg      string
	server   string
	settings map[string]map[string]string
	cookies  map[string]string
	inactive bool
}

// New builds a MemConfig directly from its fields, defaulting the "base"
// module's wait_time_factor to "1.00" when unset and requiring it and
// "proxy" to always be present (§6 invariant).
func New(username, password, pkg, server string, settings map[string]map[string]string) *MemConfig {
	c := &MemConfig{
		username: username,
		password: password,
		pkg:      pkg,
		server:   server,
		settings: cloneSettings(settings),
		cookies:  make(map[string]string),
	}
	c.ensureBaseDefaults()
	return c
}

// FromJSON parses raw per §6's documented shape, rejecting a document
// missing any of the required top-level fields or the base module's
// wait_time_factor/proxy entries.
func FromJSON(raw []byte) (*MemConfig, error) {
	var doc jsonDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("config: invalid JSON: %w", err)
	}
	if doc.Username == "" || doc.Package == "" || doc.Server == "" {
		return nil, fmt.Errorf("config: missing required field")
	}
	base, ok := doc.Modules["base"]
	if !ok {
		return nil, fmt.Errorf("config: missing base module")
	}
	if _, ok := base["wait_time_factor"]; !ok {
		return nil, fmt.Errorf("config: missing base.wait_time_factor")
	}
	if _, ok := base["proxy"]; !ok {
		return nil, fmt.Errorf("config: missing base.proxy")
	}

	settings := make(map[string]map[string]string, len(doc.Modules))
	for mod, kv := range doc.Modules {
		cp := make(map[string]string, len(kv))
		for k, v := range kv {
			if k == "name" {
				continue
			}
			cp[k] = v
		}
		settings[mod] = cp
	}
	if wtf := settings["base"]["wait_time_factor"]; wtf == "" {
		settings["base"]["wait_time_factor"] = "1.00"
	}

	c := &MemConfig{
		username: doc.Username,
		password: doc.Password,
		pkg:      doc.Package,
		server:   doc.Server,
		settings: settings,
		cookies:  doc.Cookies,
	}
	if c.cookies == nil {
		c.cookies = make(map[string]string)
	}
	return c, nil
}

func (c *MemConfig) ensureBaseDefaults() {
	if c.settings == nil {
		c.settings = make(map[string]map[string]string)
	}
	if c.settings["base"] == nil {
		c.settings["base"] = make(map[string]string)
	}
	if c.settings["base"]["wait_time_factor"] == "" {
		c.settings["base"]["wait_time_factor"] = "1.00"
	}
	if _, ok := c.settings["base"]["proxy"]; !ok {
		c.settings["base"]["proxy"] = ""
	}
}

func cloneSettings(in map[string]map[string]string) map[string]map[string]string {
	out := make(map[string]map[string]string, len(in))
	for mod, kv := range in {
		cp := make(map[string]string, len(kv))
		for k, v := range kv {
			cp[k] = v
		}
		out[mod] = cp
	}
	return out
}

func (c *MemConfig) Username() string { c.mu.RLock(); defer c.mu.RUnlock(); return c.username }
func (c *MemConfig) Password() string { c.mu.RLock(); defer c.mu.RUnlock(); return c.password }
func (c *MemConfig) Package() string  { c.mu.RLock(); defer c.mu.RUnlock(); return c.pkg }
func (c *MemConfig) Server() string   { c.mu.RLock(); defer c.mu.RUnlock(); return c.server }

func (c *MemConfig) ModuleSettings() map[string]map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneSettings(c.settings)
}

func (c *MemConfig) Cookies() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.cookies))
	for k, v := range c.cookies {
		out[k] = v
	}
	return out
}

func (c *MemConfig) SetCookies(cookies map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cookies = make(map[string]string, len(cookies))
	for k, v := range cookies {
		c.cookies[k] = v
	}
}

// InitCommandSequence emits base_set_wait_time_factor first, then every
// other module's settings in alphabetical module/key order with
// "<mod>_set_active" emitted last per module (§6).
func (c *MemConfig) InitCommandSequence() [][2]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var seq [][2]string
	if wtf, ok := c.settings["base"]["wait_time_factor"]; ok {
		seq = append(seq, [2]string{"base_set_wait_time_factor", wtf})
	}

	modNames := make([]string, 0, len(c.settings))
	for mod := range c.settings {
		if mod == "base" {
			continue
		}
		modNames = append(modNames, mod)
	}
	sort.Strings(modNames)

	for _, mod := range modNames {
		keys := make([]string, 0, len(c.settings[mod]))
		var activeValue string
		hasActive := false
		for k := range c.settings[mod] {
			if k == "active" {
				activeValue = c.settings[mod][k]
				hasActive = true
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			seq = append(seq, [2]string{mod + "_set_" + k, c.settings[mod][k]})
		}
		if hasActive {
			seq = append(seq, [2]string{mod + "_set_active", activeValue})
		}
	}
	return seq
}

// ToJSON renders the §6 wire shape, omitting password when withPassword is
// false (property 2: the rendered document then never contains it).
func (c *MemConfig) ToJSON(withPassword bool) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	doc := jsonDoc{
		Username: c.username,
		Package:  c.pkg,
		Server:   c.server,
		Cookies:  c.cookies,
		Modules:  cloneSettings(c.settings),
	}
	if withPassword {
		doc.Password = c.password
	}

	b, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ValueOf resolves a flat "<module>_<key>" status key, transparently
// following one level of sentinel read-through ($name/^name) to
// shared_name (§3).
func (c *MemConfig) ValueOf(flatKey string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.valueOfLocked(flatKey)
}

func (c *MemConfig) valueOfLocked(flatKey string) string {
	mod, key, ok := c.splitFlatKeyLocked(flatKey)
	if !ok {
		return ""
	}
	raw := c.settings[mod][key]
	if strings.HasPrefix(raw, "$") || strings.HasPrefix(raw, "^") {
		return c.settings["shared"][raw[1:]]
	}
	return raw
}

// splitFlatKeyLocked resolves "<module>_<key>" against known module names,
// since both can themselves contain underscores (e.g. "wait_time_factor").
func (c *MemConfig) splitFlatKeyLocked(flatKey string) (module, key string, ok bool) {
	for name := range c.settings {
		if flatKey == name || strings.HasPrefix(flatKey, name+"_") {
			if len(flatKey) == len(name) {
				continue
			}
			return name, strings.TrimPrefix(flatKey, name+"_"), true
		}
	}
	idx := strings.IndexByte(flatKey, '_')
	if idx < 0 {
		return "", "", false
	}
	return flatKey[:idx], flatKey[idx+1:], true
}

func (c *MemConfig) Set(flatKey, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mod, key, ok := c.splitFlatKeyLocked(flatKey)
	if !ok {
		return
	}
	c.setLocked(mod, key, value)
}

func (c *MemConfig) SetModuleKey(module, key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(module, key, value)
}

func (c *MemConfig) setLocked(module, key, value string) {
	if c.settings[module] == nil {
		c.settings[module] = make(map[string]string)
	}
	c.settings[module][key] = value
}

func (c *MemConfig) Inactive() bool     { c.mu.RLock(); defer c.mu.RUnlock(); return c.inactive }
func (c *MemConfig) SetInactive(v bool) { c.mu.Lock(); defer c.mu.Unlock(); c.inactive = v }

func (c *MemConfig) Identifier() string { return "" }

// Valid reports whether the four required scalar fields and the base
// module's wait_time_factor/proxy entries are present (bot_config::valid).
func (c *MemConfig) Valid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.username == "" || c.password == "" || c.pkg == "" || c.server == "" {
		return false
	}
	base, ok := c.settings["base"]
	if !ok {
		return false
	}
	_, hasWTF := base["wait_time_factor"]
	_, hasProxy := base["proxy"]
	return hasWTF && hasProxy
}
