package stats

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/samcharles93/modelrun/internal/engine"
)

type opKey struct {
	name string
	typ  string
}

type opAcc struct {
	order int
	count int
	total time.Duration
	min   time.Duration
	max   time.Duration
}

// OpStats aggregates per-operator timings across rounds.
type OpStats struct {
	ops map[opKey]*opAcc
}

func NewOpStats() *OpStats {
	return &OpStats{ops: make(map[opKey]*opAcc)}
}

// Merge adds one run's operator timings.
func (s *OpStats) Merge(md *engine.RunMetadata) {
	for _, op := range md.Ops {
		k := opKey{name: op.Name, typ: op.Type}
		a, ok := s.ops[k]
		if !ok {
			a = &opAcc{order: len(s.ops), min: op.Duration, max: op.Duration}
			s.ops[k] = a
		}
		a.count++
		a.total += op.Duration
		a.min = min(a.min, op.Duration)
		a.max = max(a.max, op.Duration)
	}
}

// Len returns the number of distinct operators seen.
func (s *OpStats) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ops)
}

// Rows returns the breakdown sorted by total time, slowest first. Ties keep
// graph order.
func (s *OpStats) Rows() []OpReport {
	type row struct {
		k opKey
		a *opAcc
	}
	rows := make([]row, 0, len(s.ops))
	var all time.Duration
	for k, a := range s.ops {
		rows = append(rows, row{k, a})
		all += a.total
	}
	slices.SortFunc(rows, func(x, y row) int {
		if c := cmp.Compare(y.a.total, x.a.total); c != 0 {
			return c
		}
		return cmp.Compare(x.a.order, y.a.order)
	})

	out := make([]OpReport, len(rows))
	for i, r := range rows {
		pct := 0.0
		if all > 0 {
			pct = 100 * float64(r.a.total) / float64(all)
		}
		out[i] = OpReport{
			Name:      r.k.name,
			Type:      r.k.typ,
			Count:     r.a.count,
			AvgMillis: Millis(r.a.total) / float64(r.a.count),
			Percent:   pct,
		}
	}
	return out
}

// ByType sums operator time per operator type.
func (s *OpStats) ByType() map[string]time.Duration {
	out := make(map[string]time.Duration)
	for k, a := range s.ops {
		out[k.typ] += a.total
	}
	return out
}

// Print writes the per-operator table.
func (s *OpStats) Print(w io.Writer) {
	rows := s.Rows()
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Sort by Run Duration")
	fmt.Fprintf(w, "%-32s %-16s %8s %10s %8s\n", "Op", "Type", "Count", "Avg(ms)", "%")
	for _, r := range rows {
		fmt.Fprintf(w, "%-32s %-16s %8d %10.3f %7.2f%%\n", trim(r.Name, 32), trim(r.Type, 16), r.Count, r.AvgMillis, r.Percent)
	}

	byType := s.ByType()
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	slices.SortFunc(types, func(a, b string) int {
		if c := cmp.Compare(byType[b], byType[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Stat by Op Type")
	fmt.Fprintf(w, "%-16s %12s\n", "Type", "Total(ms)")
	for _, t := range types {
		fmt.Fprintf(w, "%-16s %12.3f\n", trim(t, 16), Millis(byType[t]))
	}
}

func trim(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "~"
}
