package syscalls

import "github.com/prootgo/prootgo/pkg/pathengine"

// ResolvePath canonicalizes guestPath against ns and substitutes it to a
// host path, exactly as translatePath does for an in-flight syscall, but
// without a tracee — used by pkg/supervisor to resolve the initial
// command's path and initial cwd before any tracee exists to attribute
// the lookup to (spec.md §6 bootstrap: "-w <cwd>", the initial command
// argument itself).
func (e *Engine) ResolvePath(ns *pathengine.Namespace, guestPath string, derefFinal bool) (string, error) {
	resolver := &pathengine.Resolver{
		NS:   ns,
		FS:   hostFS{},
		Glue: e.Glue,
		Proc: &ProcFS{Table: e.Table},
	}

	base := "/"
	if len(guestPath) > 0 && guestPath[0] != '/' {
		base = ns.Cwd
	}
	joined := pathengine.Join(base, guestPath)

	guestResolved, err := resolver.Canonicalize(joined, derefFinal, "/", 0)
	if err != nil {
		return "", err
	}
	hostPath, _, _ := ns.Substitute(pathengine.Guest, guestResolved)
	return hostPath, nil
}

// CanonicalizeGuestPath is like ResolvePath but returns the canonical
// guest-side path instead of its host substitution, used to normalize
// "-w <cwd>" into the form stored as Namespace.Cwd (spec.md §3
// FileSystemNameSpace.Cwd).
func (e *Engine) CanonicalizeGuestPath(ns *pathengine.Namespace, guestPath string) (string, error) {
	resolver := &pathengine.Resolver{
		NS:   ns,
		FS:   hostFS{},
		Glue: e.Glue,
		Proc: &ProcFS{Table: e.Table},
	}

	base := "/"
	if len(guestPath) > 0 && guestPath[0] != '/' {
		base = ns.Cwd
	}
	joined := pathengine.Join(base, guestPath)
	return resolver.Canonicalize(joined, true, "/", 0)
}
