// Package loader reads a package's module scripts off disk: one file per
// module (base.lua, servers.lua, and any number of feature modules),
// directly in a directory — not core (§1 scopes package-file loading out
// as a collaborator's concern; botpkg.New takes an already-assembled
// map[string][]byte so it never touches a filesystem).
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FromDirectory reads every non-hidden file directly inside dir into a
// name → content map, stripping each file's extension (the part from its
// first '.' onward) to derive the module name, mirroring
// package::from_folder. It does not recurse into subdirectories.
func FromDirectory(dir string) (map[string][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("loader: read %s: %w", dir, err)
	}

	modules := make(map[string][]byte, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if dot := strings.IndexByte(name, '.'); dot >= 0 {
			name = name[:dot]
		}

		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("loader: read %s: %w", entry.Name(), err)
		}
		modules[name] = content
	}

	if _, ok := modules["base"]; !ok {
		return nil, fmt.Errorf("loader: %s doesn't contain base/servers", dir)
	}
	if _, ok := modules["servers"]; !ok {
		return nil, fmt.Errorf("loader: %s doesn't contain base/servers", dir)
	}

	return modules, nil
}

// NameFromPath derives a package's name from its directory or archive
// path: the final path segment, with a trailing ".package" suffix
// stripped if present (package::name_from_path).
func NameFromPath(path string) string {
	stripped := strings.TrimSuffix(filepath.Clean(path), ".package")
	return filepath.Base(stripped)
}
