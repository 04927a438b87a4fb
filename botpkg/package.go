// Package botpkg assembles a Package — an immutable bundle of a package's
// module scripts, its server→tag table, and its synthesized interface
// descriptor JSON — from a flat {name → script} map such as collab/loader
// produces.
package botpkg

import (
	"encoding/json"
	"fmt"
)

// reserved module names that are not scheduled as ordinary modules.
const (
	ModuleBase    = "base"
	ModuleServers = "servers"
)

// Resolver executes package-provided scripts that the package builder
// cannot interpret itself: the "servers" table and each module's
// "interface_<module>" table. Implemented by a concrete script engine
// (e.g. collab/luavm), kept as an interface here so botpkg never depends
// on one.
type Resolver interface {
	// ServerTags runs serversScript and returns its url → tag table.
	ServerTags(serversScript []byte) (map[string]string, error)
	// ModuleInterface runs script and extracts the interface_<module>
	// table as a JSON-safe value tree (strings and string-keyed maps;
	// anything else becomes nil).
	ModuleInterface(moduleName string, script []byte) (any, error)
}

// Package is an immutable, shareable bundle: many agents may run against
// the same *Package concurrently.
type Package struct {
	name    string
	modules map[string][]byte
	servers map[string]string
	iface   string
}

// New asserts that base and servers are present in modules, resolves the
// servers table and every other module's interface descriptor through
// resolver, and renders the combined interface JSON (§4.6).
func New(name string, modules map[string][]byte, resolver Resolver) (*Package, error) {
	if _, ok := modules[ModuleBase]; !ok {
		return nil, fmt.Errorf("botpkg: %s: missing base module", name)
	}
	serversScript, ok := modules[ModuleServers]
	if !ok {
		return nil, fmt.Errorf("botpkg: %s: missing servers module", name)
	}

	servers, err := resolver.ServerTags(serversScript)
	if err != nil {
		return nil, fmt.Errorf("botpkg: %s: resolve servers: %w", name, err)
	}

	iface, err := buildInterfaceJSON(name, modules, servers, resolver)
	if err != nil {
		return nil, fmt.Errorf("botpkg: %s: build interface: %w", name, err)
	}

	out := make(map[string][]byte, len(modules))
	for k, v := range modules {
		out[k] = v
	}

	return &Package{name: name, modules: out, servers: servers, iface: iface}, nil
}

// Name returns the package's name.
func (p *Package) Name() string { return p.name }

// Tag maps a server URL to its short tag; unknown URLs are returned
// unchanged, matching package::tag's fallback.
func (p *Package) Tag(server string) (string, error) {
	if tag, ok := p.servers[server]; ok {
		return tag, nil
	}
	return server, nil
}

// Modules returns every loaded module's source, including "base" and
// "servers".
func (p *Package) Modules() map[string][]byte {
	out := make(map[string][]byte, len(p.modules))
	for k, v := range p.modules {
		out[k] = v
	}
	return out
}

// InterfaceJSON returns the synthesized UI schema document.
func (p *Package) InterfaceJSON() string { return p.iface }

// sliderInput describes one field of the synthesized "base" pseudo-module
// every package's interface descriptor carries regardless of script content.
type sliderInput struct {
	InputType   string `json:"input_type"`
	DisplayName string `json:"display_name"`
	ValueRange  string `json:"value_range,omitempty"`
}

func buildInterfaceJSON(name string, modules map[string][]byte, servers map[string]string, resolver Resolver) (string, error) {
	serverNames := make([]string, 0, len(servers))
	for s := range servers {
		serverNames = append(serverNames, s)
	}

	doc := map[string]any{
		"name":    name,
		"servers": serverNames,
		"base": map[string]any{
			"wait_time_factor": sliderInput{InputType: "slider", DisplayName: "Wartezeiten Faktor", ValueRange: "0.2,3.0"},
			"proxy":            sliderInput{InputType: "textarea", DisplayName: "Proxy"},
			"module":           "Basis Konfiguration",
		},
	}

	for mod, script := range modules {
		if mod == ModuleBase || mod == ModuleServers {
			continue
		}
		iface, err := resolver.ModuleInterface(mod, script)
		if err != nil {
			return "", fmt.Errorf("module %s: %w", mod, err)
		}
		doc[mod] = iface
	}

	b, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
