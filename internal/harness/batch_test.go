package harness

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/samcharles93/modelrun/internal/tensorio"
)

func TestScanGroupsMatchesPrefix(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"input_0_b", "input_0_a", "other_a", "input_1_a"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "input_0_dir"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := ScanGroups(dir, "input:0")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if want := []string{"_a", "_b"}; !slices.Equal(got, want) {
		t.Fatalf("suffixes: got %q want %q", got, want)
	}
}

func TestScanGroupsEmptyIsFatal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "unrelated"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ScanGroups(dir, "Input"); !errors.Is(err, ErrNoBatchInputs) {
		t.Fatalf("expected ErrNoBatchInputs, got %v", err)
	}
	if _, err := ScanGroups(filepath.Join(dir, "nope"), "Input"); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestBatchProcessesEveryGroup(t *testing.T) {
	t.Parallel()

	inDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "out")
	groups := map[string][]float32{
		".0": {1, 2},
		".1": {3, 4},
		".2": {5, 6},
	}
	for suffix, v := range groups {
		writeFloats(t, tensorio.GroupPath(inDir, "Input", suffix), v)
	}

	in, out := specs(2)
	cfg := Config{Inputs: in, Outputs: out, InputDir: inDir, OutputDir: outDir, Rounds: 10}
	// One failure mid-batch is recovered by a rebuild.
	f := &copyFactory{runFails: 1}
	res, err := newDriver(cfg, f, &bytes.Buffer{}).Run(context.Background())
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if f.runs != len(groups)+1 {
		t.Fatalf("expected one run per group plus one retry, got %d", f.runs)
	}
	if res.Rounds != 0 {
		t.Fatalf("batch mode must not record timed rounds, got %d", res.Rounds)
	}
	if res.Capability != 0 {
		t.Fatal("capability is not probed in batch mode")
	}
	for suffix, v := range groups {
		got := readFloats(t, tensorio.GroupPath(outDir, "Output", suffix))
		if want := []float32{v[0] * 2, v[1] * 2}; !slices.Equal(got, want) {
			t.Fatalf("group %s: got %v want %v", suffix, got, want)
		}
	}
}

func TestBatchWithoutOutputDirWritesNothing(t *testing.T) {
	t.Parallel()

	inDir := t.TempDir()
	writeFloats(t, tensorio.GroupPath(inDir, "Input", "_x"), []float32{1})
	in, out := specs(1)
	cfg := Config{Inputs: in, Outputs: out, InputDir: inDir}
	f := &copyFactory{}
	if _, err := newDriver(cfg, f, &bytes.Buffer{}).Run(context.Background()); err != nil {
		t.Fatalf("batch: %v", err)
	}
	entries, err := os.ReadDir(inDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || f.runs != 1 {
		t.Fatalf("expected only the input file and one run, got %d entries, %d runs", len(entries), f.runs)
	}
}

func TestBatchShortGroupFileFails(t *testing.T) {
	t.Parallel()

	inDir := t.TempDir()
	writeFloats(t, tensorio.GroupPath(inDir, "Input", "_a"), []float32{1, 2, 3})
	writeFloats(t, tensorio.GroupPath(inDir, "Input", "_b"), []float32{1})
	in, out := specs(3)
	cfg := Config{Inputs: in, Outputs: out, InputDir: inDir}
	if _, err := newDriver(cfg, &copyFactory{}, &bytes.Buffer{}).Run(context.Background()); !errors.Is(err, tensorio.ErrShortFile) {
		t.Fatalf("expected ErrShortFile, got %v", err)
	}
}

func TestBatchEmptyDirectoryIsFatal(t *testing.T) {
	t.Parallel()

	in, out := specs(1)
	cfg := Config{Inputs: in, Outputs: out, InputDir: t.TempDir()}
	if _, err := newDriver(cfg, &copyFactory{}, &bytes.Buffer{}).Run(context.Background()); !errors.Is(err, ErrNoBatchInputs) {
		t.Fatalf("expected ErrNoBatchInputs, got %v", err)
	}
}
