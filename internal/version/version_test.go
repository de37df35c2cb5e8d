package version

import (
	"runtime/debug"
	"testing"
)

func TestResolveLinkerValuesWin(t *testing.T) {
	bi := &debug.BuildInfo{
		GoVersion: "go1.26.0",
		Main:      debug.Module{Version: "v0.3.0"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "ffffffffffffffff"},
			{Key: "vcs.time", Value: "2026-01-01T00:00:00Z"},
		},
	}
	info := resolve("v1.2.3", "0123456789abcdef0123", "", bi)
	if info.Version != "v1.2.3" || info.Commit != "0123456789abcdef0123" {
		t.Fatalf("linker values overridden: %+v", info)
	}
	if info.BuildTime != "2026-01-01T00:00:00Z" {
		t.Fatalf("expected vcs time fallback, got %q", info.BuildTime)
	}
	if got := info.String(); got != "v1.2.3 (0123456789ab)" {
		t.Fatalf("String() = %q", got)
	}
}

func TestResolveFromBuildInfo(t *testing.T) {
	bi := &debug.BuildInfo{
		Main: debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "abc123"},
			{Key: "vcs.modified", Value: "true"},
		},
	}
	info := resolve("", "", "", bi)
	if info.Version != "devel" {
		t.Fatalf("expected devel version, got %q", info.Version)
	}
	if got := info.String(); got != "devel (abc123+dirty)" {
		t.Fatalf("String() = %q", got)
	}
}

func TestResolveWithoutBuildInfo(t *testing.T) {
	info := resolve("", "", "", nil)
	if info.Version != "devel" || info.Commit != "" || info.GoVersion == "" {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.String() != "devel" {
		t.Fatalf("String() = %q", info.String())
	}
}
