package version

import "testing"

func TestDefaults(t *testing.T) {
	if Version != "dev" {
		t.Errorf("default Version = %q, want %q", Version, "dev")
	}
	if GitCommit != "unknown" {
		t.Errorf("default GitCommit = %q, want %q", GitCommit, "unknown")
	}
}

func TestInfoAndGet(t *testing.T) {
	saved := Version
	defer func() { Version = saved }()

	Version = "v1.2.3"
	if got := Info(); got != "v1.2.3 (unknown) built unknown" {
		t.Errorf("Info() = %q", got)
	}
	if got := Get(); got.Version != "v1.2.3" || got.BuildDate != "unknown" {
		t.Errorf("Get() = %+v", got)
	}
}
