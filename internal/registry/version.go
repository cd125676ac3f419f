package registry

import (
	"encoding/json"
	"fmt"
	"os"
)

// Version reads the bundled runtime's package.json and returns its
// version string.
func Version(resolvers []Resolver) (string, error) {
	path, ok := Resolve(resolvers)
	if !ok {
		return "", ErrRuntimeNotFound
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read package.json: %w", err)
	}
	var pkg struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(b, &pkg); err != nil {
		return "", fmt.Errorf("parse package.json: %w", err)
	}
	if pkg.Version == "" {
		return "unknown", nil
	}
	return pkg.Version, nil
}
