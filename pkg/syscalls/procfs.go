package syscalls

import (
	"strconv"
	"strings"

	"github.com/prootgo/prootgo/pkg/pathengine"
	"github.com/prootgo/prootgo/pkg/tracee"
)

// ProcFS implements pathengine.ProcResolver: the handful of /proc
// entries the kernel itself generates dynamically and that canonicalize
// must therefore emulate rather than lstat/readlink on the host (spec.md
// §4.2, original_source/path/proc.c readlink_proc).
type ProcFS struct {
	Table *tracee.Table
	Self  *tracee.Tracee // the tracee making this canonicalize call, for /proc/self
}

// ReadlinkProc resolves a guest path under /proc. component is the
// single path element being dereferenced; cmp tells the caller whether
// guestPath is itself "/proc" or merely rooted under it.
func (p *ProcFS) ReadlinkProc(guestPath, component string, cmp pathengine.Comparison) (string, pathengine.ProcAction, error) {
	rest := strings.TrimPrefix(strings.TrimPrefix(guestPath, "/proc"), "/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		return guestPath, pathengine.ProcPassthrough, nil
	}

	if parts[0] == "self" {
		if p.Self == nil {
			return guestPath, pathengine.ProcPassthrough, nil
		}
		newPath := "/proc/" + strconv.Itoa(p.Self.Pid())
		if len(parts) > 1 {
			newPath += "/" + parts[1]
		}
		return newPath, pathengine.ProcCanonicalize, nil
	}

	pid, err := strconv.Atoi(parts[0])
	if err != nil || len(parts) < 2 {
		return guestPath, pathengine.ProcPassthrough, nil
	}
	tr := p.Table.Lookup(pid)
	if tr == nil {
		return guestPath, pathengine.ProcPassthrough, nil
	}

	switch parts[1] {
	case "exe":
		if tr.Exe == "" {
			return guestPath, pathengine.ProcPassthrough, nil
		}
		return tr.Exe, pathengine.ProcDontCanonicalize, nil

	case "cwd":
		if tr.NS == nil {
			return guestPath, pathengine.ProcPassthrough, nil
		}
		return tr.NS.Cwd, pathengine.ProcDontCanonicalize, nil

	case "root":
		return "/", pathengine.ProcDontCanonicalize, nil
	}

	if strings.HasPrefix(parts[1], "fd/") {
		// Resolved only syntactically: the fd may name a pipe, socket,
		// or anonymous inode, none of which are symlinks to a real
		// path, so canonicalize must not try to dereference further.
		return guestPath, pathengine.ProcDontCanonicalize, nil
	}

	return guestPath, pathengine.ProcPassthrough, nil
}

var _ pathengine.ProcResolver = (*ProcFS)(nil)
