package screen

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Load reads and validates a screen definition from a YAML file.
func Load(path string) (Screen, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Screen{}, fmt.Errorf("failed to read screen file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a screen definition from YAML bytes.
func Parse(data []byte) (Screen, error) {
	var s Screen
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Screen{}, fmt.Errorf("failed to parse screen YAML: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Screen{}, err
	}
	return s, nil
}
