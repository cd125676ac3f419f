package registry

import (
	"errors"
	"os"
	"path/filepath"
)

// ErrRuntimeNotFound means no install layout contained the bundled
// registry runtime.
var ErrRuntimeNotFound = errors.New("verdaccio runtime not found; run 'npm install verdaccio' inside the resources directory or point resource_dir at an existing installation")

// Resolver probes a single candidate install layout and reports the
// resolved path when that layout exists. Resolvers are pure with respect
// to the supervisor: they read the environment, never mutate it.
type Resolver func() (string, bool)

// Resolve tries resolvers in order and returns the first hit.
func Resolve(resolvers []Resolver) (string, bool) {
	for _, r := range resolvers {
		if p, ok := r(); ok {
			return p, true
		}
	}
	return "", false
}

// fileResolver reports path when it exists as a regular file or directory.
func fileResolver(path string) Resolver {
	return func() (string, bool) {
		if path == "" {
			return "", false
		}
		if _, err := os.Stat(path); err != nil {
			return "", false
		}
		return path, true
	}
}

// candidateRoots lists the install layouts probed for bundled resources,
// in priority order: an explicitly configured resource directory, the
// development-mode ./resources directory, and resources next to the
// running executable.
func candidateRoots(resourceDir string) []string {
	roots := make([]string, 0, 3)
	if resourceDir != "" {
		roots = append(roots, resourceDir)
	}
	if cwd, err := os.Getwd(); err == nil {
		roots = append(roots, filepath.Join(cwd, "resources"))
	}
	if exe, err := os.Executable(); err == nil {
		roots = append(roots, filepath.Join(filepath.Dir(exe), "resources"))
	}
	return roots
}

// EntryResolvers builds the default probe chain for the registry's
// executable entry script.
func EntryResolvers(resourceDir string) []Resolver {
	rs := make([]Resolver, 0, 3)
	for _, root := range candidateRoots(resourceDir) {
		rs = append(rs, fileResolver(filepath.Join(root, "node_modules", "verdaccio", "bin", "verdaccio")))
	}
	return rs
}

// PackageJSONResolvers builds the probe chain for the runtime's
// package.json, used for version reporting.
func PackageJSONResolvers(resourceDir string) []Resolver {
	rs := make([]Resolver, 0, 3)
	for _, root := range candidateRoots(resourceDir) {
		rs = append(rs, fileResolver(filepath.Join(root, "node_modules", "verdaccio", "package.json")))
	}
	return rs
}

// ResolveEntry resolves the entry script or fails with a remediation hint.
func ResolveEntry(resolvers []Resolver) (string, error) {
	if p, ok := Resolve(resolvers); ok {
		return p, nil
	}
	return "", ErrRuntimeNotFound
}
