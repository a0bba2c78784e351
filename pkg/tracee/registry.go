package tracee

import (
	"sync"
	"syscall"

	"github.com/prootgo/prootgo/pkg/arch"
	"github.com/prootgo/prootgo/pkg/ownership"
	"github.com/prootgo/prootgo/pkg/ptraceemu"
)

// Table is the process-wide pid->Tracee map: pkg/tracer's single
// instance of it, and the concrete type behind pkg/ptraceemu's Registry
// interface.
type Table struct {
	mu    sync.Mutex
	byPid map[int]*Tracee
	root  *ownership.Node
}

// NewTable creates an empty table rooted at root (spec.md §9 "one root
// arena created in main()").
func NewTable(root *ownership.Node) *Table {
	return &Table{byPid: make(map[int]*Tracee), root: root}
}

// Add registers tr under its pid, replacing any placeholder entry
// created by a prior GetTracee(..., create=true).
func (t *Table) Add(tr *Tracee) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byPid[tr.Pid()] = tr
}

// Lookup returns the concrete *Tracee for pid, or nil.
func (t *Table) Lookup(pid int) *Tracee {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byPid[pid]
}

// Remove drops pid from the table entirely.
func (t *Table) Remove(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byPid, pid)
}

// All returns a snapshot of every live tracee, for the event loop's
// shutdown/detach-all path.
func (t *Table) All() []*Tracee {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Tracee, 0, len(t.byPid))
	for _, tr := range t.byPid {
		out = append(out, tr)
	}
	return out
}

// GetTracee implements ptraceemu.Registry: an unknown pid becomes a bare
// placeholder (profile, a copy of the namespace and Exe taken from
// parent; a fresh arena under the table's root) when create is set,
// the same lazy-creation original_source/tracee/tracee.c's get_tracee
// does for a pid seen in a wait*(2) stop before its own fork/clone event
// was processed.
func (t *Table) GetTracee(parent ptraceemu.Tracee, pid int, create bool) ptraceemu.Tracee {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tr, ok := t.byPid[pid]; ok {
		return tr
	}
	if !create {
		return nil
	}

	var p *Tracee
	profile := arch.Arm64
	is32on64 := false
	if parent != nil {
		p, _ = parent.(*Tracee)
	}
	if p != nil {
		profile = p.profile
		is32on64 = p.is32on64
	}

	tr := New(pid, p, profile, is32on64, t.root.NewChild())
	if p != nil {
		// A plain fork gets its own copy of the namespace (bindings may
		// diverge afterwards); CLONE_FS sharing is re-pointed to the
		// same *Namespace by the clone/vfork handler once it knows
		// which flag was used (spec.md §3, §9).
		if p.NS != nil {
			ns := *p.NS
			tr.NS = &ns
		}
		tr.Exe = p.Exe
	}
	t.byPid[pid] = tr
	return tr
}

// GetStoppedPtracee finds a living ptracee of ptracer with a pending
// event matching pid (-1 for any) and the __WCLONE/__WALL rule in
// options. consume is accepted for interface symmetry with the original
// get_stopped_ptracee(..., peek) signature; the actual pending-event
// clear happens in ptraceemu.updateWaitStatus once the caller commits to
// reporting it.
func (t *Table) GetStoppedPtracee(ptracer ptraceemu.Tracee, pid int, consume bool, options uint64) ptraceemu.Tracee {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, tr := range t.byPid {
		st := tr.PtraceeState()
		if st.Ptracer != ptracer || !st.Event4Ptracer.Pending {
			continue
		}
		if pid != -1 && tr.Pid() != pid {
			continue
		}
		if !ptraceemu.ExpectedWaitClone(options, tr) {
			continue
		}
		return tr
	}
	return nil
}

// HasPtracees reports whether ptracer has any living ptracee matching
// pid/options, regardless of whether an event is currently pending —
// used by the WNOHANG "nothing to report yet, but don't return ECHILD
// either" path.
func (t *Table) HasPtracees(ptracer ptraceemu.Tracee, pid int, options uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, tr := range t.byPid {
		st := tr.PtraceeState()
		if st.Ptracer != ptracer {
			continue
		}
		if pid != -1 && tr.Pid() != pid {
			continue
		}
		if !ptraceemu.ExpectedWaitClone(options, tr) {
			continue
		}
		return true
	}
	return false
}

// Kill signals pid via the real kernel, used for TRACEME/ATTACH's
// implicit SIGSTOP and to wake a ptracer blocked in the kernel's own
// wait4 once an emulated ptracee event becomes available.
func (t *Table) Kill(pid int, signal syscall.Signal) error {
	return syscall.Kill(pid, signal)
}

// Detach removes ptracee from the table entirely, the terminal step
// once both the real kernel and any emulated ptracer have nothing left
// to learn about it.
func (t *Table) Detach(ptracee ptraceemu.Tracee) {
	tr, ok := ptracee.(*Tracee)
	if !ok {
		return
	}
	t.mu.Lock()
	delete(t.byPid, tr.Pid())
	t.mu.Unlock()
	tr.Destroy()
}

var _ ptraceemu.Registry = (*Table)(nil)
