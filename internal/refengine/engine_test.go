package refengine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/samcharles93/modelrun/internal/engine"
	"github.com/samcharles93/modelrun/internal/logger"
	"github.com/samcharles93/modelrun/internal/tensor"
)

const d2sGraph = `
name: d2s
ops:
  - name: d2s
    type: DepthToSpace
    inputs: [Input]
    outputs: [Output]
    args: {block_size: 2}
`

func newFactory() Factory {
	return Factory{Log: logger.JSON(&bytes.Buffer{}, slog.LevelError)}
}

func buildEngine(t *testing.T, graph string, weights []byte, cfg engine.Config) engine.Engine {
	t.Helper()
	m := engine.Model{
		Name:        "test",
		Graph:       []byte(graph),
		Weights:     weights,
		InputNames:  []string{"Input"},
		OutputNames: []string{"Output"},
	}
	eng, err := newFactory().Create(context.Background(), m, cfg)
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func run(t *testing.T, eng engine.Engine, in tensor.Spec, data []float32, out tensor.Spec) []float32 {
	t.Helper()
	inBuf, err := tensor.NewBuffer(in)
	if err != nil {
		t.Fatalf("input buffer: %v", err)
	}
	if err := tensor.EncodeFloat32(inBuf, data); err != nil {
		t.Fatalf("encode input: %v", err)
	}
	outBuf, err := tensor.NewBuffer(out)
	if err != nil {
		t.Fatalf("output buffer: %v", err)
	}
	md := &engine.RunMetadata{}
	if err := eng.Run(map[string]*tensor.Buffer{in.Name: inBuf}, map[string]*tensor.Buffer{out.Name: outBuf}, md); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(md.Ops) == 0 {
		t.Fatal("expected per-op metadata")
	}
	got, err := tensor.DecodeFloat32(outBuf)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	return got
}

func seq(n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = float32(i)
	}
	return v
}

func expectNear(t *testing.T, got, want []float32, relTol, absTol float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d want %d", len(got), len(want))
	}
	for i := range want {
		diff := math.Abs(float64(got[i] - want[i]))
		if diff > absTol+relTol*math.Abs(float64(want[i])) {
			t.Fatalf("value %d: got %v want %v", i, got[i], want[i])
		}
	}
}

func TestDepthToSpaceBlock2(t *testing.T) {
	t.Parallel()

	want := []float32{
		0, 1, 2, 3, 4, 5, 6, 7, 16, 17, 18, 19, 20, 21, 22, 23,
		8, 9, 10, 11, 12, 13, 14, 15, 24, 25, 26, 27, 28, 29, 30, 31,
	}
	eng := buildEngine(t, d2sGraph, nil, engine.Config{})

	ref := run(t, eng,
		tensor.Spec{Name: "Input", Shape: []int64{1, 1, 2, 16}, Layout: tensor.NHWC}, seq(32),
		tensor.Spec{Name: "Output", Shape: []int64{1, 2, 4, 4}, Layout: tensor.NHWC})
	expectNear(t, ref, want, 0, 1e-5)

	for _, enc := range []tensor.Encoding{tensor.Float16, tensor.BFloat16} {
		t.Run(enc.String(), func(t *testing.T) {
			got := run(t, eng,
				tensor.Spec{Name: "Input", Shape: []int64{1, 1, 2, 16}, Encoding: enc, Layout: tensor.NHWC}, seq(32),
				tensor.Spec{Name: "Output", Shape: []int64{1, 2, 4, 4}, Encoding: enc, Layout: tensor.NHWC})
			expectNear(t, got, ref, 1e-3, 1e-4)
		})
	}
}

func TestDepthToSpaceSingleRow(t *testing.T) {
	t.Parallel()

	eng := buildEngine(t, d2sGraph, nil, engine.Config{})
	in := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	got := run(t, eng,
		tensor.Spec{Name: "Input", Shape: []int64{1, 1, 1, 16}}, in,
		tensor.Spec{Name: "Output", Shape: []int64{1, 2, 2, 4}})
	expectNear(t, got, in, 0, 1e-5)
}

func TestDepthToSpaceNCHWMatchesNHWC(t *testing.T) {
	t.Parallel()

	// NHWC [1,1,2,16] transposed to NCHW [1,16,1,2].
	nhwc := seq(32)
	nchw := make([]float32, 32)
	for w := range 2 {
		for c := range 16 {
			nchw[c*2+w] = nhwc[w*16+c]
		}
	}
	eng := buildEngine(t, d2sGraph, nil, engine.Config{})
	got := run(t, eng,
		tensor.Spec{Name: "Input", Shape: []int64{1, 16, 1, 2}, Layout: tensor.NCHW}, nchw,
		tensor.Spec{Name: "Output", Shape: []int64{1, 4, 2, 4}, Layout: tensor.NCHW})

	// Transpose the NHWC reference [1,2,4,4] into NCHW [1,4,2,4].
	ref := []float32{
		0, 1, 2, 3, 4, 5, 6, 7, 16, 17, 18, 19, 20, 21, 22, 23,
		8, 9, 10, 11, 12, 13, 14, 15, 24, 25, 26, 27, 28, 29, 30, 31,
	}
	want := make([]float32, 32)
	for h := range 2 {
		for w := range 4 {
			for c := range 4 {
				want[(c*2+h)*4+w] = ref[(h*4+w)*4+c]
			}
		}
	}
	expectNear(t, got, want, 0, 1e-5)
}

func TestSpaceToDepthInvertsDepthToSpace(t *testing.T) {
	t.Parallel()

	graph := `
name: roundtrip
ops:
  - {name: d2s, type: DepthToSpace, inputs: [Input], outputs: [mid], args: {block_size: 2}}
  - {name: s2d, type: SpaceToDepth, inputs: [mid], outputs: [Output], args: {block_size: 2}}
`
	eng := buildEngine(t, graph, nil, engine.Config{})
	in := seq(64)
	got := run(t, eng,
		tensor.Spec{Name: "Input", Shape: []int64{1, 2, 2, 16}}, in,
		tensor.Spec{Name: "Output", Shape: []int64{1, 2, 2, 16}})
	expectNear(t, got, in, 0, 0)
}

func TestBiasAddReluUsesWeights(t *testing.T) {
	t.Parallel()

	graph := `
name: bias
ops:
  - {name: bias, type: BiasAdd, inputs: [Input], outputs: [b], args: {offset: 4, count: 2}}
  - {name: relu, type: Relu, inputs: [b], outputs: [Output]}
`
	weights := make([]byte, 12)
	tensor.PutFloat32s(weights, []float32{99, 1, -10})
	eng := buildEngine(t, graph, weights, engine.Config{})

	got := run(t, eng,
		tensor.Spec{Name: "Input", Shape: []int64{2, 2}}, []float32{1, 2, 3, 20},
		tensor.Spec{Name: "Output", Shape: []int64{2, 2}})
	expectNear(t, got, []float32{2, 0, 4, 10}, 0, 0)
}

func TestRunRejectsMismatchedOutput(t *testing.T) {
	t.Parallel()

	eng := buildEngine(t, d2sGraph, nil, engine.Config{})
	in, _ := tensor.NewBuffer(tensor.Spec{Name: "Input", Shape: []int64{1, 1, 2, 16}})
	out, _ := tensor.NewBuffer(tensor.Spec{Name: "Output", Shape: []int64{1, 2, 4}})
	err := eng.Run(map[string]*tensor.Buffer{"Input": in}, map[string]*tensor.Buffer{"Output": out}, nil)
	if err == nil {
		t.Fatal("expected error for undersized output buffer")
	}

	if err := eng.Run(nil, map[string]*tensor.Buffer{"Output": out}, nil); !errors.Is(err, ErrMissingTensor) {
		t.Fatalf("expected ErrMissingTensor, got %v", err)
	}

	_ = eng.Close()
	if err := eng.Run(nil, nil, nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestParseGraphValidation(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"empty":        "name: x\n",
		"unknown type": "ops:\n  - {type: Conv9D, inputs: [Input], outputs: [Output]}\n",
		"undefined":    "ops:\n  - {type: Relu, inputs: [nope], outputs: [Output]}\n",
		"no output":    "ops:\n  - {type: Relu, inputs: [Input], outputs: [other]}\n",
		"bad block":    "ops:\n  - {type: DepthToSpace, inputs: [Input], outputs: [Output]}\n",
		"not yaml":     "ops: [",
	}
	for name, g := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := ParseGraph([]byte(g), []string{"Input"}, []string{"Output"}); !errors.Is(err, ErrInvalidGraph) {
				t.Fatalf("expected ErrInvalidGraph, got %v", err)
			}
		})
	}
}

func TestParseGraphNamesAnonymousOps(t *testing.T) {
	t.Parallel()

	g, err := ParseGraph([]byte("ops:\n  - {type: Relu, inputs: [Input], outputs: [Output]}\n"), []string{"Input"}, []string{"Output"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if g.Ops[0].Name != "Relu_0" {
		t.Fatalf("expected generated op name, got %q", g.Ops[0].Name)
	}
	if !slices.Equal(g.OpTypes(), []string{"Relu"}) {
		t.Fatalf("op types: %v", g.OpTypes())
	}
}

func TestCacheStoreThenLoad(t *testing.T) {
	t.Parallel()

	cachePath := filepath.Join(t.TempDir(), "apu.cache")
	buildEngine(t, d2sGraph, nil, engine.Config{APUCachePolicy: engine.CacheStore, APUStoragePath: cachePath})
	if _, err := os.Stat(cachePath); err != nil {
		t.Fatalf("expected cache file: %v", err)
	}

	// A cache hit means the graph bytes are not parsed again.
	f := newFactory()
	m := engine.Model{Graph: []byte(d2sGraph), InputNames: []string{"Input"}, OutputNames: []string{"Output"}}
	cfg := engine.Config{APUCachePolicy: engine.CacheLoad, APUBinaryPath: cachePath}
	if g := f.loadCache(cfg, Digest(m.Graph), m); g == nil || g.Name != "d2s" {
		t.Fatalf("expected cached graph, got %+v", g)
	}
	if g := f.loadCache(cfg, Digest([]byte("other")), m); g != nil {
		t.Fatal("expected digest mismatch to miss the cache")
	}
	if _, err := f.Create(context.Background(), m, cfg); err != nil {
		t.Fatalf("create from cache: %v", err)
	}
}

func TestCachedGraphRevalidatedAgainstModel(t *testing.T) {
	t.Parallel()

	graph := `
name: bias
ops:
  - {name: b, type: BiasAdd, inputs: [Input], outputs: [Output], args: {offset: 0, count: 2}}
`
	weights := make([]byte, 8)
	tensor.PutFloat32s(weights, []float32{1, 2})
	cachePath := filepath.Join(t.TempDir(), "apu.cache")
	buildEngine(t, graph, weights, engine.Config{APUCachePolicy: engine.CacheStore, APUStoragePath: cachePath})

	f := newFactory()
	m := engine.Model{Graph: []byte(graph), Weights: weights, InputNames: []string{"X"}, OutputNames: []string{"Output"}}
	cfg := engine.Config{APUCachePolicy: engine.CacheLoad, APUBinaryPath: cachePath}
	if g := f.loadCache(cfg, Digest(m.Graph), m); g != nil {
		t.Fatal("expected cache to be rejected for different input names")
	}
	if _, err := f.Create(context.Background(), m, cfg); !errors.Is(err, ErrInvalidGraph) {
		t.Fatalf("expected ErrInvalidGraph after cache rejection, got %v", err)
	}
}

func TestCachedGraphWithUnknownOpRejected(t *testing.T) {
	t.Parallel()

	cachePath := filepath.Join(t.TempDir(), "apu.cache")
	data, err := json.Marshal(cacheFile{
		Digest: Digest([]byte(d2sGraph)),
		Graph:  Graph{Name: "d2s", Ops: []OpDef{{Name: "x", Type: "Conv9D", Inputs: []string{"Input"}, Outputs: []string{"Output"}}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cachePath, data, 0o644); err != nil {
		t.Fatal(err)
	}

	m := engine.Model{Graph: []byte(d2sGraph), InputNames: []string{"Input"}, OutputNames: []string{"Output"}}
	cfg := engine.Config{APUCachePolicy: engine.CacheLoad, APUBinaryPath: cachePath}
	eng, err := newFactory().Create(context.Background(), m, cfg)
	if err != nil {
		t.Fatalf("expected fallback to compiling, got %v", err)
	}
	t.Cleanup(func() { _ = eng.Close() })
	got := run(t, eng,
		tensor.Spec{Name: "Input", Shape: []int64{1, 1, 1, 16}}, seq(16),
		tensor.Spec{Name: "Output", Shape: []int64{1, 2, 2, 4}})
	expectNear(t, got, seq(16), 0, 0)
}

func TestCapability(t *testing.T) {
	t.Parallel()

	v, err := newFactory().Capability()
	if err != nil {
		t.Fatalf("capability: %v", err)
	}
	if v < 0 {
		t.Fatalf("negative capability %v", v)
	}
}
