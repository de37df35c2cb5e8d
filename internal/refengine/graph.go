package refengine

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

var ErrInvalidGraph = errors.New("refengine: invalid graph")

// Graph is the YAML graph descriptor accepted by the reference engine.
//
//	name: d2s
//	ops:
//	  - name: d2s
//	    type: DepthToSpace
//	    inputs: [Input]
//	    outputs: [Output]
//	    args: {block_size: 2}
type Graph struct {
	Name string  `yaml:"name" json:"name"`
	Ops  []OpDef `yaml:"ops" json:"ops"`
}

// OpDef is one operator node.
type OpDef struct {
	Name    string         `yaml:"name" json:"name"`
	Type    string         `yaml:"type" json:"type"`
	Inputs  []string       `yaml:"inputs" json:"inputs"`
	Outputs []string       `yaml:"outputs" json:"outputs"`
	Args    map[string]int `yaml:"args,omitempty" json:"args,omitempty"`
}

// ParseGraph decodes and validates a graph against the tensors the harness
// will feed and fetch.
func ParseGraph(data []byte, inputs, outputs []string) (*Graph, error) {
	var g Graph
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGraph, err)
	}
	for i, op := range g.Ops {
		if op.Name == "" {
			g.Ops[i].Name = fmt.Sprintf("%s_%d", op.Type, i)
		}
	}
	if err := validate(&g, inputs, outputs); err != nil {
		return nil, err
	}
	return &g, nil
}

// validate checks that every op has a known kernel with valid arguments,
// reads only defined tensors, and that every output is produced.
func validate(g *Graph, inputs, outputs []string) error {
	if len(g.Ops) == 0 {
		return fmt.Errorf("%w: no ops", ErrInvalidGraph)
	}
	defined := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		defined[in] = true
	}
	for _, op := range g.Ops {
		kernel, ok := kernels[op.Type]
		if !ok {
			return fmt.Errorf("%w: op %s has unknown type %q", ErrInvalidGraph, op.Name, op.Type)
		}
		if len(op.Inputs) != 1 || len(op.Outputs) != 1 {
			return fmt.Errorf("%w: op %s wants one input and one output", ErrInvalidGraph, op.Name)
		}
		if !defined[op.Inputs[0]] {
			return fmt.Errorf("%w: op %s reads undefined tensor %q", ErrInvalidGraph, op.Name, op.Inputs[0])
		}
		if err := kernel.check(op); err != nil {
			return fmt.Errorf("%w: op %s: %v", ErrInvalidGraph, op.Name, err)
		}
		defined[op.Outputs[0]] = true
	}
	for _, out := range outputs {
		if !defined[out] {
			return fmt.Errorf("%w: output %q is never produced", ErrInvalidGraph, out)
		}
	}
	return nil
}

// Digest identifies the graph content for accelerator caches.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// OpTypes returns the sorted set of operator types used by g.
func (g *Graph) OpTypes() []string {
	var types []string
	for _, op := range g.Ops {
		if !slices.Contains(types, op.Type) {
			types = append(types, op.Type)
		}
	}
	slices.Sort(types)
	return types
}
