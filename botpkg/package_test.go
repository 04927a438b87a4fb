package botpkg

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	servers map[string]string
	ifaces  map[string]any
}

func (r *fakeResolver) ServerTags(serversScript []byte) (map[string]string, error) {
	return r.servers, nil
}

func (r *fakeResolver) ModuleInterface(moduleName string, script []byte) (any, error) {
	return r.ifaces[moduleName], nil
}

func TestNewRejectsMissingBaseOrServers(t *testing.T) {
	resolver := &fakeResolver{servers: map[string]string{}}

	_, err := New("demo", map[string][]byte{"servers": []byte("")}, resolver)
	require.Error(t, err)

	_, err = New("demo", map[string][]byte{"base": []byte("")}, resolver)
	require.Error(t, err)
}

func TestTagFallsBackToURLWhenUnknown(t *testing.T) {
	resolver := &fakeResolver{servers: map[string]string{"http://s1.example": "s1"}}
	pkg, err := New("demo", map[string][]byte{
		"base":    []byte(""),
		"servers": []byte(""),
		"gather":  []byte(""),
	}, resolver)
	require.NoError(t, err)

	tag, err := pkg.Tag("http://s1.example")
	require.NoError(t, err)
	require.Equal(t, "s1", tag)

	tag, err = pkg.Tag("http://unknown.example")
	require.NoError(t, err)
	require.Equal(t, "http://unknown.example", tag)
}

func TestInterfaceJSONCarriesSynthesizedBaseAndModules(t *testing.T) {
	resolver := &fakeResolver{
		servers: map[string]string{"http://s1.example": "s1"},
		ifaces: map[string]any{
			"gather": map[string]any{"interval": "textfield"},
		},
	}
	pkg, err := New("demo", map[string][]byte{
		"base":    []byte(""),
		"servers": []byte(""),
		"gather":  []byte(""),
	}, resolver)
	require.NoError(t, err)

	iface := pkg.InterfaceJSON()
	require.Contains(t, iface, "wait_time_factor")
	require.Contains(t, iface, "0.2,3.0")
	require.Contains(t, iface, "gather")
	require.NotContains(t, iface, `"servers":null`)
}

func TestModulesReturnsACopyIncludingReserved(t *testing.T) {
	resolver := &fakeResolver{servers: map[string]string{}}
	pkg, err := New("demo", map[string][]byte{
		"base":    []byte("b"),
		"servers": []byte("s"),
	}, resolver)
	require.NoError(t, err)

	mods := pkg.Modules()
	require.Equal(t, []byte("b"), mods["base"])
	mods["base"] = []byte("mutated")
	require.Equal(t, []byte("b"), pkg.Modules()["base"])
}
