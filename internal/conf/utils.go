package conf

import (
	"os"
	"path/filepath"
)

const appDir = "streamworker"

// DefaultConfigPaths returns the directories searched for config.yaml in
// order: the working directory, the user config directory and /etc.
func DefaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", appDir))
	}
	return append(paths, filepath.Join("/etc", appDir))
}

// FindConfigFile returns the first existing config.yaml, or "".
func FindConfigFile() string {
	for _, dir := range DefaultConfigPaths() {
		path := filepath.Join(dir, "config.yaml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
