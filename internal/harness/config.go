// Package harness drives an engine through warm-up, timed rounds and
// directory batches, moving tensors between files and pooled buffers.
package harness

import (
	"errors"
	"fmt"

	"github.com/samcharles93/modelrun/internal/tensor"
)

var (
	ErrNoTensors     = errors.New("harness: no input or output tensors configured")
	ErrNoBatchInputs = errors.New("harness: no batch input files found")
)

// Config is the resolved, read-only run configuration. It is built once from
// the command line and never mutated afterwards.
type Config struct {
	RunID     string
	ModelName string

	Inputs  []tensor.Spec
	Outputs []tensor.Spec

	// InputFile and OutputFile are path prefixes: tensor files are named
	// "<prefix>_<formatted name>".
	InputFile  string
	OutputFile string

	// InputDir selects batch mode. OutputDir is optional in batch mode.
	InputDir  string
	OutputDir string

	Rounds           int
	MallocCheckCycle int
	Benchmark        bool

	// ReportPath receives a JSON copy of the summary when set.
	ReportPath string
}

// Batch reports whether the config selects directory batch mode.
func (c Config) Batch() bool { return c.InputDir != "" }

// Validate checks the invariants the driver relies on.
func (c Config) Validate() error {
	if len(c.Inputs) == 0 || len(c.Outputs) == 0 {
		return ErrNoTensors
	}
	if c.Rounds < 0 {
		return fmt.Errorf("harness: round count %d is negative", c.Rounds)
	}
	if c.MallocCheckCycle < -1 {
		return fmt.Errorf("harness: malloc check cycle %d is invalid", c.MallocCheckCycle)
	}
	if !c.Batch() && c.InputFile == "" {
		return errors.New("harness: input file prefix is required outside batch mode")
	}
	return nil
}

// InputNames returns the input tensor names in configured order.
func (c Config) InputNames() []string { return names(c.Inputs) }

// OutputNames returns the output tensor names in configured order.
func (c Config) OutputNames() []string { return names(c.Outputs) }

func names(specs []tensor.Spec) []string {
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.Name
	}
	return out
}
