// Package config resolves the CLI surface and environment variables
// spec.md §6 describes into one Config value pkg/supervisor bootstraps
// from. Flags take precedence over an optional rc-file, which takes
// precedence over built-in defaults; environment variables are merged in
// wherever the CLI exposes no equivalent flag (spec.md §6's env-only
// knobs, e.g. PROOT_TMP_DIR) and act as defaults under the flags that do
// have one (PROOT_VERBOSE, PROOT_ASSUME_NEW_SECCOMP).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Bind is one -b/--bind occurrence, or one [[bind]] rc-file table: a
// host path optionally bound to a distinct guest path (spec.md §3
// Binding, §6 "-b host[:guest]").
type Bind struct {
	Host  string `toml:"host"`
	Guest string `toml:"guest"`
}

// Config is the fully merged set of knobs pkg/supervisor needs to build
// the initial namespace, tracer and syscalls.Engine.
type Config struct {
	Rootfs string
	Binds  []Bind
	Cwd    string

	Verbose     int
	KillOnExit  bool

	LoaderPath   string
	Loader32Path string
	TempDir      string

	IgnoreMissingBindings bool
	DontPolluteRootfs     bool
	AssumeNewSeccomp      bool

	Command []string
}

// rcFile mirrors the optional $HOME/.prootgorc TOML document (SPEC_FULL.md
// §A "Configuration"): an ordered list of default bindings and a default
// verbosity, read before CLI flags are applied on top.
type rcFile struct {
	Verbose int    `toml:"verbose"`
	Cwd     string `toml:"cwd"`
	Bind    []Bind `toml:"bind"`
}

// Defaults returns a Config with every value the environment and a
// standard rc-file location would leave unset still populated
// (spec.md §6's env vars), ready for a CLI layer to overlay flags onto.
func Defaults() Config {
	cfg := Config{
		Verbose:      envInt("PROOT_VERBOSE", 0),
		LoaderPath:   os.Getenv("PROOT_LOADER"),
		Loader32Path: os.Getenv("PROOT_LOADER_32"),
		TempDir:      os.Getenv("PROOT_TMP_DIR"),

		IgnoreMissingBindings: envBool("PROOT_IGNORE_MISSING_BINDINGS"),
		DontPolluteRootfs:     envBool("PROOT_DONT_POLLUTE_ROOTFS"),
		AssumeNewSeccomp:      envBool("PROOT_ASSUME_NEW_SECCOMP"),
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	return cfg
}

// LoadRCFile reads path (typically $HOME/.prootgorc) as TOML and merges
// it onto cfg: an rc-file sets defaults a later CLI flag can still
// override, so LoadRCFile must run before flags are applied. A missing
// file is not an error — the rc-file is always optional.
func LoadRCFile(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading rc-file %s: %w", path, err)
	}

	var rc rcFile
	if _, err := toml.Decode(string(data), &rc); err != nil {
		return fmt.Errorf("parsing rc-file %s: %w", path, err)
	}

	if rc.Verbose != 0 {
		cfg.Verbose = rc.Verbose
	}
	if rc.Cwd != "" {
		cfg.Cwd = rc.Cwd
	}
	cfg.Binds = append(cfg.Binds, rc.Bind...)
	return nil
}

// DefaultRCPath returns $HOME/.prootgorc, or "" if $HOME can't be
// resolved (in which case no rc-file is read).
func DefaultRCPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".prootgorc")
}

// ParseBind splits a "-b host[:guest]" argument into a Bind, defaulting
// Guest to Host for a symmetric binding (spec.md §6).
func ParseBind(spec string) Bind {
	for i := 0; i < len(spec); i++ {
		if spec[i] == ':' {
			return Bind{Host: spec[:i], Guest: spec[i+1:]}
		}
	}
	return Bind{Host: spec, Guest: spec}
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(name string) bool {
	v := os.Getenv(name)
	return v != "" && v != "0"
}
