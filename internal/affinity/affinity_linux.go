//go:build linux

package affinity

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/samcharles93/modelrun/internal/engine"
)

const sysCPU = "/sys/devices/system/cpu"

var (
	// threadLocked records that the calling goroutine has been wired to its
	// OS thread. Engines are rebuilt on one goroutine, so one lock suffices.
	threadLocked atomic.Bool
	lockThread   = runtime.LockOSThread
)

// Apply locks the calling goroutine to its OS thread and restricts that
// thread to the cores selected by policy. Repeated calls lock only once.
func Apply(policy engine.AffinityPolicy, threads int) error {
	cores, err := readCores(sysCPU)
	if err != nil {
		return err
	}
	ids, err := Select(cores, policy, threads)
	if err != nil {
		return err
	}
	var set unix.CPUSet
	set.Zero()
	for _, id := range ids {
		set.Set(id)
	}
	if threadLocked.CompareAndSwap(false, true) {
		lockThread()
	}
	var cur unix.CPUSet
	if err := unix.SchedGetaffinity(0, &cur); err == nil && cur == set {
		return nil
	}
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("affinity: sched_setaffinity %v: %w", ids, err)
	}
	return nil
}

func readCores(root string) ([]Core, error) {
	matches, err := filepath.Glob(filepath.Join(root, "cpu[0-9]*"))
	if err != nil {
		return nil, err
	}
	cores := make([]Core, 0, len(matches))
	for _, dir := range matches {
		id, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(dir), "cpu"))
		if err != nil {
			continue
		}
		var freq int64
		if raw, err := os.ReadFile(filepath.Join(dir, "cpufreq", "cpuinfo_max_freq")); err == nil {
			freq, _ = strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
		}
		cores = append(cores, Core{ID: id, MaxFreq: freq})
	}
	if len(cores) == 0 {
		return nil, fmt.Errorf("%w under %s", ErrNoCores, root)
	}
	return cores, nil
}
