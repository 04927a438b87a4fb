package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestFromDirectoryReadsModulesAndStripsExtension(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.lua", "-- base")
	writeFile(t, dir, "servers.lua", "-- servers")
	writeFile(t, dir, "gather.lua", "-- gather")
	writeFile(t, dir, ".hidden.lua", "-- skip me")

	modules, err := FromDirectory(dir)
	require.NoError(t, err)
	require.Equal(t, []byte("-- base"), modules["base"])
	require.Equal(t, []byte("-- servers"), modules["servers"])
	require.Equal(t, []byte("-- gather"), modules["gather"])
	require.NotContains(t, modules, ".hidden")
	require.Len(t, modules, 3)
}

func TestFromDirectoryRejectsMissingBaseOrServers(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "servers.lua", "-- servers")

	_, err := FromDirectory(dir)
	require.Error(t, err)
}

func TestNameFromPathStripsPackageSuffixAndDirectory(t *testing.T) {
	require.Equal(t, "demo", NameFromPath("/var/lib/packages/demo.package"))
	require.Equal(t, "demo", NameFromPath("/var/lib/packages/demo"))
}
