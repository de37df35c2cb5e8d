// Package engine defines the contract between the harness and an inference
// engine. The harness never executes graphs itself; it hands an Engine
// borrowed buffers for the duration of one Run call.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/samcharles93/modelrun/internal/tensor"
)

// Engine is a constructed, ready-to-run engine instance.
type Engine interface {
	// Run executes the graph once. inputs and outputs are keyed by tensor
	// name and must not be retained after Run returns. md is filled with
	// per-operator timings when non-nil.
	Run(inputs, outputs map[string]*tensor.Buffer, md *RunMetadata) error
	Close() error
}

// Factory constructs engines from a serialized model.
type Factory interface {
	Create(ctx context.Context, m Model, cfg Config) (Engine, error)
}

// CapabilityProber is implemented by factories that can report a CPU
// float32 performance figure (lower is faster).
type CapabilityProber interface {
	Capability() (float64, error)
}

// Model is the serialized graph plus weights. Weights must stay valid for
// the lifetime of every engine created from it.
type Model struct {
	Name        string
	Graph       []byte
	Weights     []byte
	InputNames  []string
	OutputNames []string
}

// RunMetadata collects per-operator timings for one run.
type RunMetadata struct {
	Ops []OpRun
}

// OpRun is one operator execution.
type OpRun struct {
	Name     string
	Type     string
	Duration time.Duration
}

// AffinityPolicy selects which CPU cores engine threads may use.
type AffinityPolicy int

const (
	AffinityNone AffinityPolicy = iota
	AffinityPerformance
	AffinityEfficiency
)

func (p AffinityPolicy) String() string {
	switch p {
	case AffinityNone:
		return "none"
	case AffinityPerformance:
		return "performance"
	case AffinityEfficiency:
		return "efficiency"
	default:
		return fmt.Sprintf("affinity(%d)", int(p))
	}
}

// Hint is an accelerator performance or priority hint.
type Hint int

const (
	HintDefault Hint = iota
	HintLow
	HintNormal
	HintHigh
)

// CachePolicy controls accelerator init caches.
type CachePolicy int

const (
	CacheNone CachePolicy = iota
	CacheStore
	CacheLoad
)

func (p CachePolicy) String() string {
	switch p {
	case CacheNone:
		return "none"
	case CacheStore:
		return "store"
	case CacheLoad:
		return "load"
	default:
		return fmt.Sprintf("cache(%d)", int(p))
	}
}

// ReusePolicy controls whether a GPU program cache may be reused.
type ReusePolicy int

const (
	ReuseNone ReusePolicy = iota
	ReuseSameGPU
)

// Config is the engine configuration record.
type Config struct {
	Threads  int
	Affinity AffinityPolicy

	GPUPerfHint      Hint
	GPUPriorityHint  Hint
	StoragePath      string
	GPUCachePath     string
	GPUBinaryPath    string
	GPUParameterPath string
	GPUCacheReuse    ReusePolicy

	APUCachePolicy CachePolicy
	APUBinaryPath  string
	APUStoragePath string

	// Profiling asks accelerators to collect per-operator timings.
	Profiling bool
}

// ParseAffinity maps the numeric flag value (0 none, 1 performance cores,
// 2 efficiency cores).
func ParseAffinity(v int) (AffinityPolicy, error) {
	if v < 0 || v > 2 {
		return 0, fmt.Errorf("invalid cpu affinity policy %d (want 0, 1 or 2)", v)
	}
	return AffinityPolicy(v), nil
}

// ParseHint maps 0..3 to a Hint.
func ParseHint(v int) (Hint, error) {
	if v < 0 || v > 3 {
		return 0, fmt.Errorf("invalid hint %d (want 0-3)", v)
	}
	return Hint(v), nil
}

// ParseCachePolicy maps 0..2 to a CachePolicy.
func ParseCachePolicy(v int) (CachePolicy, error) {
	if v < 0 || v > 2 {
		return 0, fmt.Errorf("invalid cache policy %d (want 0, 1 or 2)", v)
	}
	return CachePolicy(v), nil
}

// ParseReusePolicy maps 0..1 to a ReusePolicy.
func ParseReusePolicy(v int) (ReusePolicy, error) {
	if v < 0 || v > 1 {
		return 0, fmt.Errorf("invalid cache reuse policy %d (want 0 or 1)", v)
	}
	return ReusePolicy(v), nil
}
