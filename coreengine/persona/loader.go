package persona

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// registryFile is the on-disk shape of a persona preset.
type registryFile struct {
	Personas []Persona `yaml:"personas"`
}

// LoadFile loads and validates a persona registry from a YAML preset file.
//
// The file holds a top-level `personas` list; order in the file is voting
// order. Loading happens once per session, before any round runs.
func LoadFile(path string) (Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read persona registry: %w", err)
	}
	return Parse(data)
}

// Parse parses a YAML persona registry from raw bytes.
func Parse(data []byte) (Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse persona registry: %w", err)
	}

	registry := Registry(file.Personas)
	if err := registry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid persona registry: %w", err)
	}
	return registry, nil
}
