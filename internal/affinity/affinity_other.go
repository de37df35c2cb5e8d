//go:build !linux

package affinity

import "github.com/samcharles93/modelrun/internal/engine"

// Apply is not available outside Linux.
func Apply(engine.AffinityPolicy, int) error {
	return ErrUnsupported
}
