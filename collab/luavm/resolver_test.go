package luavm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const serversScript = `
servers = {
  ["http://s1.example"] = "s1",
  ["http://s2.example"] = "s2",
}
`

func TestServerTagsReadsServersTable(t *testing.T) {
	tags, err := Resolver{}.ServerTags([]byte(serversScript))
	require.NoError(t, err)
	require.Equal(t, map[string]string{"http://s1.example": "s1", "http://s2.example": "s2"}, tags)
}

func TestServerTagsRejectsMissingTable(t *testing.T) {
	_, err := Resolver{}.ServerTags([]byte("-- no servers here"))
	require.Error(t, err)
}

const gatherInterfaceScript = `
interface_gather = {
  interval = { input_type = "textfield", display_name = "Interval" },
  module = "Gather",
}
`

func TestModuleInterfaceReadsNestedTable(t *testing.T) {
	v, err := Resolver{}.ModuleInterface("gather", []byte(gatherInterfaceScript))
	require.NoError(t, err)

	doc, ok := v.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "Gather", doc["module"])

	interval, ok := doc["interval"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "textfield", interval["input_type"])
}

func TestModuleInterfaceReturnsNilWhenVariableAbsent(t *testing.T) {
	v, err := Resolver{}.ModuleInterface("gather", []byte("-- nothing declared"))
	require.NoError(t, err)
	require.Nil(t, v)
}
