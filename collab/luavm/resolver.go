package luavm

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// Resolver implements botpkg.Resolver by executing the package-provided
// "servers" script and each module's interface_<module> declaration in a
// disposable *lua.LState — these never touch a live http session, so they
// need no *scripthost.Capabilities bound in.
type Resolver struct{}

// ServerTags runs serversScript and reads its global "servers" table
// (url -> tag), mirroring lua_connection::server_list.
func (Resolver) ServerTags(serversScript []byte) (map[string]string, error) {
	L := lua.NewState()
	defer L.Close()

	if err := L.DoString(string(serversScript)); err != nil {
		return nil, fmt.Errorf("luavm: execute servers script: %w", err)
	}

	tbl, ok := L.GetGlobal("servers").(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("luavm: servers script declares no servers table")
	}

	out := make(map[string]string)
	tbl.ForEach(func(k, v lua.LValue) {
		out[k.String()] = v.String()
	})
	return out, nil
}

// ModuleInterface runs script and reads its global interface_<moduleName>
// table, converting it into a JSON-safe value tree of strings and
// string-keyed maps (lua_connection::iface, simplified: the original also
// handles arrays and numbers, which no interface descriptor in this corpus
// actually uses). Any other value, numbers and booleans included, becomes
// nil.
func (Resolver) ModuleInterface(moduleName string, script []byte) (any, error) {
	L := lua.NewState()
	defer L.Close()

	if err := L.DoString(string(script)); err != nil {
		return nil, fmt.Errorf("luavm: execute module %s: %w", moduleName, err)
	}

	v := L.GetGlobal("interface_" + moduleName)
	if v == lua.LNil {
		return nil, nil
	}
	return luaToValue(v), nil
}

func luaToValue(v lua.LValue) any {
	switch t := v.(type) {
	case *lua.LTable:
		out := make(map[string]any)
		t.ForEach(func(k, val lua.LValue) {
			out[k.String()] = luaToValue(val)
		})
		return out
	case lua.LString:
		return string(t)
	default:
		return nil
	}
}
