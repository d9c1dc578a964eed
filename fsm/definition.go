package fsm

import (
	"fmt"
	"io/fs"

	"gopkg.in/yaml.v3"
)

// Definition is the YAML form of a machine: its initial state, declared dead ends
// and transition table.
//
//	name: product-machine
//	initial: initial
//	states:
//	  initial:
//	    request: loading
//	  loading:
//	    complete: complete
type Definition struct {
	Name     string                       `yaml:"name"`
	Initial  string                       `yaml:"initial"`
	Terminal []string                     `yaml:"terminal"`
	States   map[string]map[string]string `yaml:"states"`
}

// LoadDefinition parses and validates a YAML machine definition.
func LoadDefinition(data []byte) (*Definition, error) {
	var def Definition

	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}

	return &def, nil
}

// LoadDefinitionFromFS loads a definition from an embedded filesystem.
func LoadDefinitionFromFS(fsys fs.FS, path string) (*Definition, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition from FS: %w", err)
	}

	return LoadDefinition(data)
}

// Validate checks the definition is complete and its table is consistent.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: %w", ErrInvalidDefinition, ErrNameRequired)
	}

	if d.Initial == "" {
		return fmt.Errorf("%w: initial state is required", ErrInvalidDefinition)
	}

	if err := Validate(d.Initial, TableFrom[string, string](d), d.Terminal...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	return nil
}

// TableFrom converts a definition into a typed transition table.
func TableFrom[S ~string, E ~string](d *Definition) Table[S, E] {
	table := make(Table[S, E], len(d.States))

	for from, row := range d.States {
		typed := make(map[E]S, len(row))
		for event, to := range row {
			typed[E(event)] = S(to)
		}

		table[S(from)] = typed
	}

	return table
}

// TerminalFrom returns the definition's declared dead ends as typed states.
func TerminalFrom[S ~string](d *Definition) []S {
	out := make([]S, 0, len(d.Terminal))
	for _, s := range d.Terminal {
		out = append(out, S(s))
	}

	return out
}

// MustLoadDefinitionFromFS is LoadDefinitionFromFS for definitions compiled into the
// binary, where a failure is a programming error.
func MustLoadDefinitionFromFS(fsys fs.FS, path string) *Definition {
	def, err := LoadDefinitionFromFS(fsys, path)
	if err != nil {
		panic(err)
	}

	return def
}
