package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// defaultDirs are searched, in order, when no explicit path is given.
func defaultDirs() []string {
	var dirs []string
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".funtonic"))
	}
	return append(dirs, "/etc/funtonic")
}

// Resolve returns the first existing candidate for a config file: the
// explicit path when given, otherwise name under the default directories.
func Resolve(explicit, name string) (string, error) {
	candidates := []string{}
	if explicit != "" {
		candidates = append(candidates, explicit)
	} else {
		for _, dir := range defaultDirs() {
			candidates = append(candidates, filepath.Join(dir, name))
		}
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("config file not found: %s (searched %v)", name, candidates)
}

// Load resolves and decodes a config file into cfg.
func Load[T any](explicit, name string) (*T, error) {
	path, err := Resolve(explicit, name)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}
	cfg := new(T)
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	return cfg, nil
}
