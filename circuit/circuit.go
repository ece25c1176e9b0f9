// Package circuit defines the gate-level model consumed by the paging engine:
// gate descriptors, whole-circuit validation, and the structure-only
// fingerprint used to key the schedule cache.
//
// Numeric gate parameters (rotation angles) are carried as payload but never
// participate in validation beyond arity checks and never influence the
// fingerprint: two circuits that differ only in parameters are structurally
// identical.
package circuit

import (
	"errors"
	"fmt"
)

// ErrMalformed tags every validation failure: a gate referencing a qubit
// outside [0, n), a duplicated operand, or a kind/arity mismatch.
// Callers test with errors.Is.
var ErrMalformed = errors.New("malformed circuit")

// Kind identifies a gate type. The set is closed: unknown kinds are rejected
// during validation rather than defaulting to identity.
type Kind string

const (
	KindH    Kind = "H"
	KindX    Kind = "X"
	KindY    Kind = "Y"
	KindZ    Kind = "Z"
	KindS    Kind = "S"
	KindT    Kind = "T"
	KindRX   Kind = "RX"
	KindRY   Kind = "RY"
	KindRZ   Kind = "RZ"
	KindCX   Kind = "CX"
	KindCZ   Kind = "CZ"
	KindCRZ  Kind = "CRZ"
	KindSWAP Kind = "SWAP"
	KindCCX  Kind = "CCX"
)

// arity describes the operand and parameter shape of a gate kind.
type arity struct {
	targets  int
	controls int
	params   int
}

// arities is the closed registry of supported gate kinds.
var arities = map[Kind]arity{
	KindH:    {targets: 1},
	KindX:    {targets: 1},
	KindY:    {targets: 1},
	KindZ:    {targets: 1},
	KindS:    {targets: 1},
	KindT:    {targets: 1},
	KindRX:   {targets: 1, params: 1},
	KindRY:   {targets: 1, params: 1},
	KindRZ:   {targets: 1, params: 1},
	KindCX:   {targets: 1, controls: 1},
	KindCZ:   {targets: 1, controls: 1},
	KindCRZ:  {targets: 1, controls: 1, params: 1},
	KindSWAP: {targets: 2},
	KindCCX:  {targets: 1, controls: 2},
}

// Gate is a single operation in a circuit. Targets are the qubits the gate's
// unitary acts on; controls condition the application on |1>. Params hold
// rotation angles for parameterized kinds and are ignored by all structural
// machinery.
type Gate struct {
	Kind     Kind      `yaml:"kind" json:"kind"`
	Targets  []int     `yaml:"targets" json:"targets"`
	Controls []int     `yaml:"controls,omitempty" json:"controls,omitempty"`
	Params   []float64 `yaml:"params,omitempty" json:"params,omitempty"`
}

// Operands returns all qubit indices the gate names, targets first.
func (g Gate) Operands() []int {
	ops := make([]int, 0, len(g.Targets)+len(g.Controls))
	ops = append(ops, g.Targets...)
	ops = append(ops, g.Controls...)
	return ops
}

// validate checks the gate against the arity registry and the qubit range.
func (g Gate) validate(gateIdx, numQubits int) error {
	a, ok := arities[g.Kind]
	if !ok {
		return fmt.Errorf("%w: gate %d has unknown kind %q", ErrMalformed, gateIdx, g.Kind)
	}
	if len(g.Targets) != a.targets {
		return fmt.Errorf("%w: gate %d (%s) expects %d targets, got %d",
			ErrMalformed, gateIdx, g.Kind, a.targets, len(g.Targets))
	}
	if len(g.Controls) != a.controls {
		return fmt.Errorf("%w: gate %d (%s) expects %d controls, got %d",
			ErrMalformed, gateIdx, g.Kind, a.controls, len(g.Controls))
	}
	if len(g.Params) != a.params {
		return fmt.Errorf("%w: gate %d (%s) expects %d params, got %d",
			ErrMalformed, gateIdx, g.Kind, a.params, len(g.Params))
	}
	seen := make(map[int]bool, len(g.Targets)+len(g.Controls))
	for _, q := range g.Operands() {
		if q < 0 || q >= numQubits {
			return fmt.Errorf("%w: gate %d (%s) references qubit %d outside [0, %d)",
				ErrMalformed, gateIdx, g.Kind, q, numQubits)
		}
		if seen[q] {
			return fmt.Errorf("%w: gate %d (%s) names qubit %d more than once",
				ErrMalformed, gateIdx, g.Kind, q)
		}
		seen[q] = true
	}
	return nil
}

// Circuit is an ordered gate sequence over a fixed qubit register.
type Circuit struct {
	NumQubits int    `yaml:"qubits" json:"qubits"`
	Gates     []Gate `yaml:"gates" json:"gates"`
}

// Validate rejects malformed circuits before any analysis work happens.
// All failures wrap ErrMalformed.
func (c *Circuit) Validate() error {
	if c.NumQubits <= 0 {
		return fmt.Errorf("%w: qubit count must be positive, got %d", ErrMalformed, c.NumQubits)
	}
	for i, g := range c.Gates {
		if err := g.validate(i, c.NumQubits); err != nil {
			return err
		}
	}
	return nil
}
