package syscalls

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/prootgo/prootgo/pkg/pathengine"
)

// Glue implements pathengine.GlueBuilder (spec.md §4.2): when a binding
// needs an intermediate directory or final entry that doesn't exist on
// the host side, it is synthesized either directly in the guest rootfs
// (when that's writable and --dont-pollute-rootfs wasn't given) or in a
// scratch directory with an induced binding pointing back to the
// expected guest path, mirroring original_source/path/glue.c.
type Glue struct {
	TempDir     string
	DontPollute bool

	mu      sync.Mutex
	ns      *pathengine.Namespace
	created []string // host paths this Glue created (in the rootfs or under TempDir), for cleanup at exit
}

// Attach records the namespace AddInduced bindings go into; called once
// by the supervisor after the namespace is built.
func (g *Glue) Attach(ns *pathengine.Namespace) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ns = ns
}

// BuildGlue synthesizes hostPath (a directory for a non-final component,
// a regular file placeholder for a final one) so canonicalize's lstat
// can proceed past a binding whose host side doesn't exist yet.
func (g *Glue) BuildGlue(guestPath, hostPath string, finality pathengine.Finality) (os.FileMode, error) {
	wantDir := finality != pathengine.FinalNormal

	parent := filepath.Dir(hostPath)
	if fi, err := os.Stat(parent); err == nil && fi.IsDir() && !g.DontPollute {
		if err := g.createInPlace(hostPath, wantDir); err != nil {
			return 0, err
		}
		if wantDir {
			return os.ModeDir, nil
		}
		return 0, nil
	}

	tmpPath := filepath.Join(g.TempDir, "glue", guestPath)
	if err := g.createInPlace(tmpPath, wantDir); err != nil {
		return 0, err
	}

	g.mu.Lock()
	ns := g.ns
	g.mu.Unlock()
	if ns != nil {
		ns.AddInduced(tmpPath, guestPath)
	}

	if wantDir {
		return os.ModeDir, nil
	}
	return 0, nil
}

func (g *Glue) createInPlace(path string, wantDir bool) error {
	if wantDir {
		if err := os.MkdirAll(path, 0755); err != nil {
			return err
		}
		g.mu.Lock()
		g.created = append(g.created, path)
		g.mu.Unlock()
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	f.Close()
	g.mu.Lock()
	g.created = append(g.created, path)
	g.mu.Unlock()
	return nil
}

// Cleanup removes every placeholder this Glue created, in the guest
// rootfs or under TempDir, newest first. Called once at supervisor
// shutdown.
func (g *Glue) Cleanup() {
	g.mu.Lock()
	paths := g.created
	g.created = nil
	g.mu.Unlock()

	for i := len(paths) - 1; i >= 0; i-- {
		os.Remove(paths[i])
	}
}

var _ pathengine.GlueBuilder = (*Glue)(nil)
