package fileloader

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ahrav/flawtracker/internal/config"
)

var _ config.Loader = (*FileLoader)(nil)

// FileLoader loads the collector configuration from a YAML file on disk.
type FileLoader struct {
	path string
}

// NewFileLoader creates a FileLoader reading from path.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

// Load reads and parses the configuration file. Unknown keys are rejected so
// typos in keyword lists surface early.
func (l *FileLoader) Load(ctx context.Context) (*config.Config, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var cfg config.Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}
