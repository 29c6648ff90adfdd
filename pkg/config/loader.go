package config

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TargetsLoader provides scan-target configuration loading. It abstracts the
// source so implementations can read from files, environment variables, or a
// remote configuration service.
type TargetsLoader interface {
	// Load retrieves and parses the scan-target configuration.
	Load(ctx context.Context) (*Targets, error)
}

// FileLoader loads scan-target configuration from a YAML file on disk.
type FileLoader struct {
	// path is the filesystem path to the configuration file.
	path string
}

// NewFileLoader creates a FileLoader that reads the given file path.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

// Load reads and parses the configuration file. A missing file is not an
// error: it yields the empty configuration, which scans everything.
func (l *FileLoader) Load(ctx context.Context) (*Targets, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Targets{}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Targets
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}
