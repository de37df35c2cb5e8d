// Package stats accumulates harness timings and renders the summary table
// consumed by metrics tooling.
package stats

import (
	"fmt"
	"io"
	"runtime"
	"time"

	json "github.com/goccy/go-json"

	"github.com/samcharles93/modelrun/internal/engine"
)

// Run holds the timings of one harness invocation.
type Run struct {
	Capability float64
	Init       time.Duration
	Warmup     time.Duration
	Rounds     int
	Total      time.Duration

	// Ops is nil unless per-operator benchmarking is enabled.
	Ops *OpStats
}

// AddRound records one successful timed round.
func (r *Run) AddRound(d time.Duration, md *engine.RunMetadata) {
	r.Rounds++
	r.Total += d
	if r.Ops != nil && md != nil {
		r.Ops.Merge(md)
	}
}

// Average returns total/rounds; ok is false when no round ran.
func (r *Run) Average() (avg time.Duration, ok bool) {
	if r.Rounds == 0 {
		return 0, false
	}
	return r.Total / time.Duration(r.Rounds), true
}

// AverageMillis is the exact mean round latency in milliseconds.
func (r *Run) AverageMillis() (float64, bool) {
	if r.Rounds == 0 {
		return 0, false
	}
	return Millis(r.Total) / float64(r.Rounds), true
}

// Millis converts d to fractional milliseconds.
func Millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

const rule = "========================================================"

// PrintSummary writes the fixed-format timing table. Metrics tooling parses
// this layout; keep column widths stable.
func (r *Run) PrintSummary(w io.Writer) {
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "     capability(CPU)        init      warmup     run_avg")
	fmt.Fprintln(w, rule)
	if avg, ok := r.AverageMillis(); ok {
		fmt.Fprintf(w, "time %15.3f %11.3f %11.3f %11.3f\n",
			r.Capability, Millis(r.Init), Millis(r.Warmup), avg)
	} else {
		fmt.Fprintf(w, "time %15.3f %11.3f %11.3f %11s\n",
			r.Capability, Millis(r.Init), Millis(r.Warmup), "-")
	}
	if r.Ops != nil {
		r.Ops.Print(w)
	}
}

// Report is the machine-readable form of a Run.
type Report struct {
	RunID        string     `json:"run_id,omitempty"`
	Model        string     `json:"model,omitempty"`
	Capability   float64    `json:"capability"`
	InitMillis   float64    `json:"init_ms"`
	WarmupMillis float64    `json:"warmup_ms"`
	Rounds       int        `json:"rounds"`
	AvgMillis    *float64   `json:"run_avg_ms"`
	Ops          []OpReport `json:"ops,omitempty"`
}

// OpReport is one row of the per-operator breakdown.
type OpReport struct {
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	Count     int     `json:"count"`
	AvgMillis float64 `json:"avg_ms"`
	Percent   float64 `json:"percent"`
}

// Report converts r to a Report.
func (r *Run) Report(runID, model string) Report {
	rep := Report{
		RunID:        runID,
		Model:        model,
		Capability:   r.Capability,
		InitMillis:   Millis(r.Init),
		WarmupMillis: Millis(r.Warmup),
		Rounds:       r.Rounds,
	}
	if avg, ok := r.AverageMillis(); ok {
		rep.AvgMillis = &avg
	}
	if r.Ops.Len() > 0 {
		rep.Ops = r.Ops.Rows()
	}
	return rep
}

// WriteJSON encodes the report, indented, to w.
func (rep Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

// MemSample is a snapshot of Go heap statistics.
type MemSample struct {
	Alloc   uint64
	Sys     uint64
	Mallocs uint64
	Frees   uint64
}

// SampleMem reads the runtime memory statistics.
func SampleMem() MemSample {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemSample{Alloc: m.Alloc, Sys: m.Sys, Mallocs: m.Mallocs, Frees: m.Frees}
}

// Sub returns the allocation activity between two samples.
func (s MemSample) Sub(prev MemSample) MemSample {
	return MemSample{
		Alloc:   s.Alloc,
		Sys:     s.Sys,
		Mallocs: s.Mallocs - prev.Mallocs,
		Frees:   s.Frees - prev.Frees,
	}
}
