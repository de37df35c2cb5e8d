// Package affinity pins the calling thread to a class of CPU cores.
package affinity

import (
	"errors"
	"fmt"
	"slices"

	"github.com/samcharles93/modelrun/internal/engine"
)

var (
	ErrUnsupported = errors.New("affinity: not supported on this platform")
	ErrNoCores     = errors.New("affinity: no cores match policy")
)

// Core is one logical CPU and its maximum frequency in kHz.
type Core struct {
	ID      int
	MaxFreq int64
}

// Select returns the IDs of the cores allowed by policy, at most threads of
// them when threads > 0. Performance cores are those with the highest
// maximum frequency; efficiency cores are the rest, or every core when all
// share one frequency.
func Select(cores []Core, policy engine.AffinityPolicy, threads int) ([]int, error) {
	if len(cores) == 0 {
		return nil, ErrNoCores
	}
	var top int64
	for _, c := range cores {
		top = max(top, c.MaxFreq)
	}

	var ids []int
	for _, c := range cores {
		switch policy {
		case engine.AffinityNone:
			ids = append(ids, c.ID)
		case engine.AffinityPerformance:
			if c.MaxFreq == top {
				ids = append(ids, c.ID)
			}
		case engine.AffinityEfficiency:
			if c.MaxFreq < top {
				ids = append(ids, c.ID)
			}
		default:
			return nil, fmt.Errorf("affinity: unknown policy %v", policy)
		}
	}
	if len(ids) == 0 && policy == engine.AffinityEfficiency {
		for _, c := range cores {
			ids = append(ids, c.ID)
		}
	}
	slices.Sort(ids)
	if threads > 0 && len(ids) > threads {
		ids = ids[:threads]
	}
	return ids, nil
}
