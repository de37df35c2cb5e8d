//go:build linux

package affinity

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/samcharles93/modelrun/internal/engine"
)

func TestReadCores(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for id, freq := range map[string]string{"cpu0": "1800000\n", "cpu1": "2800000\n"} {
		dir := filepath.Join(root, id, "cpufreq")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "cpuinfo_max_freq"), []byte(freq), 0o644); err != nil {
			t.Fatalf("write freq: %v", err)
		}
	}
	// Not a core directory.
	if err := os.MkdirAll(filepath.Join(root, "cpufreq"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	cores, err := readCores(root)
	if err != nil {
		t.Fatalf("read cores: %v", err)
	}
	if len(cores) != 2 {
		t.Fatalf("expected 2 cores, got %v", cores)
	}
	for _, c := range cores {
		if (c.ID == 0 && c.MaxFreq != 1800000) || (c.ID == 1 && c.MaxFreq != 2800000) {
			t.Fatalf("unexpected core %+v", c)
		}
	}
}

func TestApplyLocksThreadOnce(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var saved unix.CPUSet
	if err := unix.SchedGetaffinity(0, &saved); err != nil {
		t.Skipf("sched_getaffinity: %v", err)
	}
	defer func() { _ = unix.SchedSetaffinity(0, &saved) }()

	locks := 0
	prevLock, prevLocked := lockThread, threadLocked.Load()
	lockThread = func() { locks++ }
	threadLocked.Store(false)
	t.Cleanup(func() {
		lockThread = prevLock
		threadLocked.Store(prevLocked)
	})

	for range 3 {
		if err := Apply(engine.AffinityPerformance, 1); err != nil {
			t.Skipf("affinity unavailable: %v", err)
		}
	}
	if locks != 1 {
		t.Fatalf("expected one thread lock across repeated applies, got %d", locks)
	}
}
