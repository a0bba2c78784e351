package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseBind(t *testing.T) {
	tests := []struct {
		name string
		spec string
		want Bind
	}{
		{"symmetric", "/data", Bind{Host: "/data", Guest: "/data"}},
		{"asymmetric", "/host/data:/guest/data", Bind{Host: "/host/data", Guest: "/guest/data"}},
		{"guest with colon-free suffix", "/a:/b/c", Bind{Host: "/a", Guest: "/b/c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseBind(tt.spec); got != tt.want {
				t.Errorf("ParseBind(%q) = %+v, want %+v", tt.spec, got, tt.want)
			}
		})
	}
}

func TestLoadRCFileMissing(t *testing.T) {
	cfg := Defaults()
	if err := LoadRCFile(&cfg, filepath.Join(t.TempDir(), "does-not-exist")); err != nil {
		t.Fatalf("LoadRCFile on a missing file returned %v, want nil", err)
	}
}

func TestLoadRCFileEmptyPath(t *testing.T) {
	cfg := Defaults()
	if err := LoadRCFile(&cfg, ""); err != nil {
		t.Fatalf("LoadRCFile(\"\") returned %v, want nil", err)
	}
}

func TestLoadRCFileMergesBindsAndOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".prootgorc")
	contents := `
verbose = 2
cwd = "/work"

[[bind]]
host = "/srv/a"
guest = "/a"

[[bind]]
host = "/srv/b"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing test rc-file: %v", err)
	}

	cfg := Config{}
	if err := LoadRCFile(&cfg, path); err != nil {
		t.Fatalf("LoadRCFile: %v", err)
	}

	if cfg.Verbose != 2 {
		t.Errorf("Verbose = %d, want 2", cfg.Verbose)
	}
	if cfg.Cwd != "/work" {
		t.Errorf("Cwd = %q, want /work", cfg.Cwd)
	}
	want := []Bind{{Host: "/srv/a", Guest: "/a"}, {Host: "/srv/b", Guest: ""}}
	if len(cfg.Binds) != len(want) {
		t.Fatalf("Binds = %+v, want %+v", cfg.Binds, want)
	}
	for i := range want {
		if cfg.Binds[i] != want[i] {
			t.Errorf("Binds[%d] = %+v, want %+v", i, cfg.Binds[i], want[i])
		}
	}
}

func TestDefaultsReadsEnv(t *testing.T) {
	t.Setenv("PROOT_VERBOSE", "3")
	t.Setenv("PROOT_ASSUME_NEW_SECCOMP", "1")
	t.Setenv("PROOT_DONT_POLLUTE_ROOTFS", "0")

	cfg := Defaults()
	if cfg.Verbose != 3 {
		t.Errorf("Verbose = %d, want 3", cfg.Verbose)
	}
	if !cfg.AssumeNewSeccomp {
		t.Errorf("AssumeNewSeccomp = false, want true")
	}
	if cfg.DontPolluteRootfs {
		t.Errorf("DontPolluteRootfs = true, want false (\"0\" means unset)")
	}
}

func TestDefaultRCPath(t *testing.T) {
	t.Setenv("HOME", "/home/someone")
	if got := DefaultRCPath(); got != "/home/someone/.prootgorc" {
		t.Errorf("DefaultRCPath() = %q, want /home/someone/.prootgorc", got)
	}
}
