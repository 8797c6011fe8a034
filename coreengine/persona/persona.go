// Package persona provides the read-only registry of voting participants.
//
// A persona is a configured reviewer with a fixed weight, optional veto
// power, and a directive describing its review criteria. The registry is
// loaded once before a session begins and never mutated by the core;
// registry order determines voting order and which personas are selected
// under participant caps.
package persona

import (
	"fmt"
)

// Persona is a single voting participant. Immutable after load.
type Persona struct {
	Name      string  `json:"name" yaml:"name"`
	Weight    float64 `json:"weight" yaml:"weight"` // In (0, 1]
	Veto      bool    `json:"veto" yaml:"veto"`
	Directive string  `json:"directive" yaml:"directive"`
}

// Validate checks a single persona for configuration defects.
func (p Persona) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("persona has empty name")
	}
	if p.Weight <= 0 || p.Weight > 1 {
		return fmt.Errorf("persona '%s' weight must be in (0,1], got %v", p.Name, p.Weight)
	}
	return nil
}

// Registry is an ordered, read-only collection of personas.
type Registry []Persona

// Validate checks the whole registry. A malformed registry is a configuration
// defect and propagates as a hard failure.
func (r Registry) Validate() error {
	if len(r) == 0 {
		return fmt.Errorf("persona registry is empty")
	}
	seen := make(map[string]bool, len(r))
	for _, p := range r {
		if err := p.Validate(); err != nil {
			return err
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate persona name '%s'", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// Partition splits the registry into veto-empowered and advisory personas,
// preserving registry order within each partition.
func (r Registry) Partition() (vetoers, advisors Registry) {
	for _, p := range r {
		if p.Veto {
			vetoers = append(vetoers, p)
		} else {
			advisors = append(advisors, p)
		}
	}
	return vetoers, advisors
}

// Cap returns the first n personas in registry order. A cap below zero or
// beyond the registry length returns the registry unchanged.
func (r Registry) Cap(n int) Registry {
	if n < 0 || n >= len(r) {
		return r
	}
	return r[:n]
}
