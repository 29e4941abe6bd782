package space

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ParseYAML parses and compiles a space definition. JSON documents are
// accepted as well since they are valid YAML.
func ParseYAML(data []byte, opts ...Option) (*Space, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, invalidSpace("ParseYAML", fmt.Errorf("failed to parse space yaml: %w", err))
	}
	return New(def, opts...)
}

// Load reads a space definition file.
func Load(path string, opts ...Option) (*Space, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read space file %s: %w", path, err)
	}
	s, err := ParseYAML(data, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load space file %s: %w", path, err)
	}
	return s, nil
}

// MarshalYAML encodes the definition of s.
func (s *Space) MarshalYAML() (interface{}, error) {
	return s.def, nil
}
