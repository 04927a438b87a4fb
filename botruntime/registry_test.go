package botruntime

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/botscript-go/botscript/agent"
)

func TestAddRejectsDuplicateIdentifier(t *testing.T) {
	r := New()
	var a *agent.Agent

	require.NoError(t, r.Add("id-1", a))
	require.True(t, r.Contains("id-1"))
	require.Error(t, r.Add("id-1", a))
}

func TestRemoveDeletesIdentifier(t *testing.T) {
	r := New()
	var a *agent.Agent
	require.NoError(t, r.Add("id-1", a))

	r.Remove("id-1")
	require.False(t, r.Contains("id-1"))
	require.Equal(t, 0, r.Len())
}

func TestIdentifiersListsEveryRegisteredAgent(t *testing.T) {
	r := New()
	var a *agent.Agent
	require.NoError(t, r.Add("id-1", a))
	require.NoError(t, r.Add("id-2", a))

	require.ElementsMatch(t, []string{"id-1", "id-2"}, r.Identifiers())
}
