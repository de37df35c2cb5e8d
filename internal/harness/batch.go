package harness

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/samcharles93/modelrun/internal/descriptor"
	"github.com/samcharles93/modelrun/internal/stats"
	"github.com/samcharles93/modelrun/internal/tensorio"
)

// Group is one set of input files sharing a name suffix.
type Group struct {
	Suffix     string
	InputPaths map[string]string
}

// ScanGroups lists dir and returns one suffix per regular file whose name
// begins with the formatted name of the first input. Suffixes are returned
// in directory-name order.
func ScanGroups(dir, firstInput string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input dir: %w", err)
	}
	prefix := descriptor.FormatName(firstInput)
	var suffixes []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if suffix, ok := strings.CutPrefix(e.Name(), prefix); ok {
			suffixes = append(suffixes, suffix)
		}
	}
	if len(suffixes) == 0 {
		return nil, fmt.Errorf("%w: no file in %s begins with %q", ErrNoBatchInputs, dir, prefix)
	}
	return suffixes, nil
}

func (d *Driver) group(suffix string) Group {
	g := Group{Suffix: suffix, InputPaths: make(map[string]string, len(d.Config.Inputs))}
	for _, spec := range d.Config.Inputs {
		g.InputPaths[spec.Name] = tensorio.GroupPath(d.Config.InputDir, spec.Name, suffix)
	}
	return g
}

func (d *Driver) runBatch(ctx context.Context) error {
	cfg := d.Config
	log := d.log()
	suffixes, err := ScanGroups(cfg.InputDir, cfg.Inputs[0].Name)
	if err != nil {
		return err
	}
	if cfg.OutputDir != "" {
		if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	for _, suffix := range suffixes {
		g := d.group(suffix)
		for _, spec := range cfg.Inputs {
			buf, _ := d.pool.Get(spec.Name)
			if _, err := tensorio.Read(g.InputPaths[spec.Name], spec, buf); err != nil {
				return fmt.Errorf("batch group %q: input %s: %w", suffix, spec.Name, err)
			}
		}
		elapsed, err := d.run(ctx, "batch run", nil)
		if err != nil {
			return err
		}
		log.Info("batch group", "suffix", suffix, "latency_ms", stats.Millis(elapsed))
		if cfg.OutputDir != "" {
			if err := d.writeOutputs(func(name string) string { return tensorio.GroupPath(cfg.OutputDir, name, suffix) }); err != nil {
				return err
			}
		}
	}
	log.Info("batch done", "groups", len(suffixes))
	return nil
}
