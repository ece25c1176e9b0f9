package circuit

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a YAML circuit document and validates it. The document shape
// mirrors the Circuit struct:
//
//	qubits: 4
//	gates:
//	  - kind: H
//	    targets: [0]
//	  - kind: CX
//	    targets: [1]
//	    controls: [0]
func LoadFile(path string) (*Circuit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read circuit file: %w", err)
	}
	var c Circuit
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveFile writes the circuit back out as YAML.
func SaveFile(path string, c *Circuit) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal circuit: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
