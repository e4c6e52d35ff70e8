package models

// Persona is a named behavioral profile used as decision context during
// simulation. Attributes are opaque to the graph builder; the simulator only
// ever reads them, never mutates them.
type Persona struct {
	ID         int            `json:"id" yaml:"id"`
	Name       string         `json:"name" yaml:"name"`
	Attributes map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}
