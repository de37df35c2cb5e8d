package harness

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/samcharles93/modelrun/internal/bootstrap"
	"github.com/samcharles93/modelrun/internal/engine"
	"github.com/samcharles93/modelrun/internal/logger"
	"github.com/samcharles93/modelrun/internal/stats"
	"github.com/samcharles93/modelrun/internal/tensor"
	"github.com/samcharles93/modelrun/internal/tensorio"
)

// Driver runs one configured model. Buffers are owned by the driver's pool
// and lent to the engine for the duration of a single run call.
type Driver struct {
	Config     Config
	Controller *bootstrap.Controller

	// Prober, when set, supplies the capability column of the summary.
	Prober engine.CapabilityProber

	Log logger.Logger
	Out io.Writer

	pool *tensor.Pool
}

func (d *Driver) log() logger.Logger {
	if d.Log == nil {
		return logger.Default()
	}
	return d.Log
}

func (d *Driver) out() io.Writer {
	if d.Out == nil {
		return os.Stdout
	}
	return d.Out
}

// Run executes the configured mode and returns the collected statistics.
func (d *Driver) Run(ctx context.Context) (*stats.Run, error) {
	cfg := d.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := d.log()
	res := &stats.Run{}
	if cfg.Benchmark {
		res.Ops = stats.NewOpStats()
	}

	if d.Prober != nil && !cfg.Batch() {
		c, err := d.Prober.Capability()
		if err != nil {
			log.Warn("probe capability failed", "error", err)
		} else {
			res.Capability = c
		}
	}

	if err := d.allocate(); err != nil {
		return nil, err
	}

	if _, err := d.Controller.Acquire(ctx); err != nil {
		return nil, err
	}
	res.Init = d.Controller.LastCreateLatency()

	if cfg.Batch() {
		if err := d.runBatch(ctx); err != nil {
			return nil, err
		}
	} else {
		if err := d.runRounds(ctx, res); err != nil {
			return nil, err
		}
		if err := d.writeOutputs(func(name string) string { return tensorio.OutputPath(cfg.OutputFile, name) }); err != nil {
			return nil, err
		}
	}

	res.PrintSummary(d.out())
	if cfg.ReportPath != "" {
		if err := writeReport(cfg.ReportPath, res.Report(cfg.RunID, cfg.ModelName)); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// allocate creates every buffer once. Outside batch mode inputs are read
// from their files; batch mode fills them per group.
func (d *Driver) allocate() error {
	cfg := d.Config
	d.pool = tensor.NewPool()
	for _, spec := range cfg.Inputs {
		var (
			buf *tensor.Buffer
			err error
		)
		if cfg.Batch() {
			buf, err = tensor.NewBuffer(spec)
		} else {
			buf, err = tensorio.Read(tensorio.InputPath(cfg.InputFile, spec.Name), spec, nil)
		}
		if err != nil {
			return fmt.Errorf("input %s: %w", spec.Name, err)
		}
		d.pool.Put(buf)
	}
	for _, spec := range cfg.Outputs {
		buf, err := tensor.NewBuffer(spec)
		if err != nil {
			return fmt.Errorf("output %s: %w", spec.Name, err)
		}
		d.pool.Put(buf)
	}
	d.log().Debug("buffers allocated", "tensors", d.pool.Names())
	return nil
}

// run lends the pooled buffers to the engine for one recovering call.
func (d *Driver) run(ctx context.Context, stage string, md *engine.RunMetadata) (time.Duration, error) {
	inputs, err := d.pool.Checkout(d.Config.InputNames()...)
	if err != nil {
		return 0, err
	}
	defer d.pool.Checkin(inputs)
	outputs, err := d.pool.Checkout(d.Config.OutputNames()...)
	if err != nil {
		return 0, err
	}
	defer d.pool.Checkin(outputs)
	return d.Controller.Run(ctx, stage, inputs, outputs, md)
}

func (d *Driver) runRounds(ctx context.Context, res *stats.Run) error {
	cfg := d.Config
	log := d.log()

	warm, err := d.run(ctx, "warm up", nil)
	if err != nil {
		return err
	}
	res.Warmup = warm
	log.Info("warm up", "latency_ms", stats.Millis(warm))

	var md *engine.RunMetadata
	if cfg.Benchmark {
		md = &engine.RunMetadata{}
	}
	for i := range cfg.Rounds {
		sample := cfg.MallocCheckCycle >= 1 && i%cfg.MallocCheckCycle == 0
		var before stats.MemSample
		if sample {
			before = stats.SampleMem()
		}

		elapsed, err := d.run(ctx, "run", md)
		if err != nil {
			return err
		}
		res.AddRound(elapsed, md)

		if sample {
			delta := stats.SampleMem().Sub(before)
			log.Info("memory", "round", i, "alloc", delta.Alloc, "sys", delta.Sys,
				"mallocs", delta.Mallocs, "frees", delta.Frees)
		}
	}
	if avg, ok := res.Average(); ok {
		log.Info("average latency", "rounds", res.Rounds, "latency", avg, "ops", res.Ops.Len())
	}
	return nil
}

// writeOutputs persists every output buffer to the path returned by path.
func (d *Driver) writeOutputs(path func(name string) string) error {
	for _, spec := range d.Config.Outputs {
		buf, ok := d.pool.Get(spec.Name)
		if !ok {
			return fmt.Errorf("output %s: %w", spec.Name, tensor.ErrUnknownBuffer)
		}
		if d.pool.Lent(spec.Name) {
			return fmt.Errorf("output %s: %w", spec.Name, tensor.ErrLent)
		}
		p := path(spec.Name)
		n, err := tensorio.Write(p, buf)
		if err != nil {
			return fmt.Errorf("output %s: %w", spec.Name, err)
		}
		d.log().Info("write output file", "name", spec.Name, "path", p, "elements", n)
	}
	return nil
}

func writeReport(path string, rep stats.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := rep.WriteJSON(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write report: %w", err)
	}
	return f.Close()
}
