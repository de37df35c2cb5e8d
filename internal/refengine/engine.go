// Package refengine is a small float32 CPU engine that executes YAML graph
// descriptors. It implements the engine contract so the harness can be run
// and validated end to end without an accelerator runtime.
package refengine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	json "github.com/goccy/go-json"

	"github.com/samcharles93/modelrun/internal/affinity"
	"github.com/samcharles93/modelrun/internal/engine"
	"github.com/samcharles93/modelrun/internal/logger"
	"github.com/samcharles93/modelrun/internal/tensor"
)

var (
	ErrMissingTensor = errors.New("refengine: missing tensor")
	ErrClosed        = errors.New("refengine: engine closed")
)

// Factory builds reference engines.
type Factory struct {
	Log logger.Logger
}

func (f Factory) log() logger.Logger {
	if f.Log == nil {
		return logger.Default()
	}
	return f.Log
}

// cacheFile is what the accelerator cache paths hold for this engine: the
// validated graph keyed by the digest of its source.
type cacheFile struct {
	Digest string `json:"digest"`
	Graph  Graph  `json:"graph"`
}

// Create implements engine.Factory.
func (f Factory) Create(ctx context.Context, m engine.Model, cfg engine.Config) (engine.Engine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := f.log()

	if cfg.Affinity != engine.AffinityNone {
		if err := affinity.Apply(cfg.Affinity, cfg.Threads); err != nil {
			log.Warn("set cpu affinity failed", "policy", cfg.Affinity, "error", err)
		}
	}

	digest := Digest(m.Graph)
	g := f.loadCache(cfg, digest, m)
	if g == nil {
		var err error
		if g, err = ParseGraph(m.Graph, m.InputNames, m.OutputNames); err != nil {
			return nil, err
		}
	}
	if cfg.APUCachePolicy == engine.CacheStore && cfg.APUStoragePath != "" {
		if err := storeCache(cfg.APUStoragePath, cacheFile{Digest: digest, Graph: *g}); err != nil {
			log.Warn("store engine cache failed", "path", cfg.APUStoragePath, "error", err)
		}
	}

	log.Debug("reference engine ready", "graph", g.Name, "ops", len(g.Ops), "types", g.OpTypes(), "threads", cfg.Threads)
	return &Engine{
		graph:   g,
		weights: m.Weights,
		inputs:  m.InputNames,
		outputs: m.OutputNames,
	}, nil
}

// loadCache returns the cached graph when it matches digest and still
// validates against the model's input and output names.
func (f Factory) loadCache(cfg engine.Config, digest string, m engine.Model) *Graph {
	if cfg.APUCachePolicy != engine.CacheLoad || cfg.APUBinaryPath == "" {
		return nil
	}
	data, err := os.ReadFile(cfg.APUBinaryPath)
	if err != nil {
		f.log().Warn("read engine cache failed, compiling", "path", cfg.APUBinaryPath, "error", err)
		return nil
	}
	var c cacheFile
	if err := json.Unmarshal(data, &c); err != nil || c.Digest != digest {
		f.log().Warn("engine cache does not match graph, compiling", "path", cfg.APUBinaryPath)
		return nil
	}
	if err := validate(&c.Graph, m.InputNames, m.OutputNames); err != nil {
		f.log().Warn("engine cache rejected, compiling", "path", cfg.APUBinaryPath, "error", err)
		return nil
	}
	return &c.Graph
}

func storeCache(path string, c cacheFile) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Capability times a fixed float32 workload and returns milliseconds.
func (f Factory) Capability() (float64, error) {
	const n = 64
	a := make([]float32, n*n)
	b := make([]float32, n*n)
	c := make([]float32, n*n)
	for i := range a {
		a[i] = float32(i%7) * 0.5
		b[i] = float32(i%5) * 0.25
	}
	const iters = 8
	start := time.Now()
	for range iters {
		for i := range n {
			for k := range n {
				av := a[i*n+k]
				for j := range n {
					c[i*n+j] += av * b[k*n+j]
				}
			}
		}
	}
	return float64(time.Since(start)) / float64(time.Millisecond) / iters, nil
}

// Engine runs one validated graph.
type Engine struct {
	graph   *Graph
	weights []byte
	inputs  []string
	outputs []string
	closed  bool
}

// Run implements engine.Engine.
func (e *Engine) Run(inputs, outputs map[string]*tensor.Buffer, md *engine.RunMetadata) error {
	if e.closed {
		return ErrClosed
	}
	values := make(map[string]value, len(e.graph.Ops)+len(e.inputs))
	for _, name := range e.inputs {
		buf, ok := inputs[name]
		if !ok {
			return fmt.Errorf("%w: input %q", ErrMissingTensor, name)
		}
		data, err := tensor.DecodeFloat32(buf)
		if err != nil {
			return fmt.Errorf("input %s: %w", name, err)
		}
		values[name] = value{shape: buf.Spec.Shape, layout: buf.Spec.Layout, data: data}
	}

	for _, op := range e.graph.Ops {
		start := time.Now()
		out, err := kernels[op.Type].run(op, values[op.Inputs[0]], e.weights)
		if err != nil {
			return fmt.Errorf("op %s (%s): %w", op.Name, op.Type, err)
		}
		values[op.Outputs[0]] = out
		if md != nil {
			md.Ops = append(md.Ops, engine.OpRun{Name: op.Name, Type: op.Type, Duration: time.Since(start)})
		}
	}

	for _, name := range e.outputs {
		buf, ok := outputs[name]
		if !ok {
			return fmt.Errorf("%w: output %q", ErrMissingTensor, name)
		}
		v := values[name]
		if len(v.data) != buf.Len() {
			return fmt.Errorf("output %s: produced shape %v (%d elements) but buffer holds %v (%d elements)",
				name, v.shape, len(v.data), buf.Spec.Shape, buf.Len())
		}
		if err := tensor.EncodeFloat32(buf, v.data); err != nil {
			return fmt.Errorf("output %s: %w", name, err)
		}
	}
	return nil
}

// Close implements engine.Engine.
func (e *Engine) Close() error {
	e.closed = true
	e.weights = nil
	return nil
}
