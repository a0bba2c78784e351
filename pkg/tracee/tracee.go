// Package tracee is the per-process state table: one Tracee per traced
// pid, carrying its register bank, memory accessor, chained-syscall
// queue, brk emulation, and the ptrace-emulation bookkeeping a tracee
// needs when it is itself ptracing another tracee (spec.md §3).
package tracee

import (
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/prootgo/prootgo/pkg/arch"
	"github.com/prootgo/prootgo/pkg/chain"
	"github.com/prootgo/prootgo/pkg/heap"
	"github.com/prootgo/prootgo/pkg/mem"
	"github.com/prootgo/prootgo/pkg/ownership"
	"github.com/prootgo/prootgo/pkg/pathengine"
	"github.com/prootgo/prootgo/pkg/ptraceemu"
	"github.com/prootgo/prootgo/pkg/regs"
)

// RestartMode selects which ptrace request resumes a stopped tracee.
type RestartMode int

const (
	RestartSyscall RestartMode = iota
	RestartCont
	RestartSinglestep
	RestartSingleblock
)

// ptraceSingleBlock mirrors pkg/ptraceemu's local PTRACE_SINGLEBLOCK
// constant: the request has no golang.org/x/sys/unix identifier on
// non-amd64 builds.
const ptraceSingleBlock = 0x21

// Tracee is one traced process. A fork/clone child gets its own Tracee,
// sharing *heap.Heap with its parent under CLONE_VM and nothing under a
// plain fork (spec.md §3, §9 "heap sharing").
type Tracee struct {
	pid    int
	parent *Tracee

	profile  *arch.Profile
	is32on64 bool

	bank  *regs.Bank
	mem   mem.IO
	Heap  *heap.Heap
	Chain chain.Queue

	// NS is this tracee's file-system namespace, shared with its parent
	// under CLONE_FS and copied on a plain fork (spec.md §3, §9).
	NS *pathengine.Namespace

	// Exe is the host path of the currently loaded program, set at
	// execve exit, used to answer /proc/<pid>/exe.
	Exe string

	// CloneChild marks a CLONE_THREAD-style child for pkg/ptraceemu's
	// __WCLONE/__WALL matching.
	CloneChild bool

	// inSysexit is true once the sysenter half of the current syscall
	// has run, until the matching sysexit stop is consumed. Reported to
	// pkg/ptraceemu via the optional InSysexit() method.
	inSysexit bool

	Terminated  bool
	RestartMode RestartMode

	// Arena is this tracee's ownership node: destructors registered here
	// (close glue fds, drop path-binding references) run when Destroy is
	// called on process death.
	Arena *ownership.Node

	ptraceeSt ptraceemu.PtraceeState
	ptracerSt ptraceemu.PtracerState
}

// New creates a tracee for pid. parent is nil for the initial tracee
// started by the supervisor. arena should be a fresh child of the
// process table's root node.
func New(pid int, parent *Tracee, profile *arch.Profile, is32on64 bool, arena *ownership.Node) *Tracee {
	return &Tracee{
		pid:      pid,
		parent:   parent,
		profile:  profile,
		is32on64: is32on64,
		bank:     regs.NewBank(profile, is32on64),
		mem:      mem.IO{PID: pid},
		Arena:    arena,
	}
}

func (t *Tracee) Pid() int { return t.pid }

// Parent returns t's parent as a ptraceemu.Tracee, or a genuine nil
// interface (not a typed nil *Tracee) when there is none.
func (t *Tracee) Parent() ptraceemu.Tracee {
	if t.parent == nil {
		return nil
	}
	return t.parent
}

// ParentTracee returns t's parent as a concrete *Tracee, for callers
// (the registry, pkg/tracer) that need more than the ptraceemu.Tracee
// view.
func (t *Tracee) ParentTracee() *Tracee { return t.parent }

func (t *Tracee) Bank() *regs.Bank      { return t.bank }
func (t *Tracee) Profile() *arch.Profile { return t.profile }
func (t *Tracee) MemIO() *mem.IO         { return &t.mem }

func (t *Tracee) PtraceeState() *ptraceemu.PtraceeState { return &t.ptraceeSt }
func (t *Tracee) PtracerState() *ptraceemu.PtracerState { return &t.ptracerSt }

func (t *Tracee) SetSysnum(s arch.Sysnum) {
	t.bank.SetSysnum(regs.CURRENT, s)
}

// SetInSysexit records whether t is currently stopped at a syscall exit;
// called by pkg/tracer's event loop once per stop.
func (t *Tracee) SetInSysexit(v bool) { t.inSysexit = v }

// InSysexit implements pkg/ptraceemu's optional sysexitReporter.
func (t *Tracee) InSysexit() bool { return t.inSysexit }

// IsCloneChild implements pkg/ptraceemu's optional cloneReporter.
func (t *Tracee) IsCloneChild() bool { return t.CloneChild }

// HandleEvent is the ordinary (non-ptrace-emulated) wait-status handler:
// a stop not otherwise claimed by ptraceemu is either a plain signal
// (redelivered as-is) or SIGSTOP/group-stop machinery PRoot itself
// triggers and must swallow. The richer per-event bookkeeping (new
// child registration, exec reload) lives in pkg/tracer, which calls
// this only for the signal-delivery decision ptraceemu needs.
func (t *Tracee) HandleEvent(event int) int {
	status := syscall.WaitStatus(event)
	if !status.Stopped() {
		return 0
	}
	sig := status.StopSignal()
	if sig == syscall.SIGTRAP || sig == syscall.SIGSTOP {
		return 0
	}
	return int(sig)
}

// RestartTracee resumes t with the given signal, using whichever ptrace
// request its RestartMode names. Reports false if the kernel says the
// tracee is already gone (ESRCH) rather than treating that as an error.
func (t *Tracee) RestartTracee(signal int) bool {
	var err error
	switch t.RestartMode {
	case RestartCont:
		err = syscall.PtraceCont(t.pid, signal)
	case RestartSinglestep:
		err = syscall.PtraceSingleStep(t.pid)
	case RestartSingleblock:
		_, _, e := unix.Syscall6(unix.SYS_PTRACE, ptraceSingleBlock, uintptr(t.pid), 0, uintptr(signal), 0, 0)
		if e != 0 {
			err = e
		}
	default:
		err = syscall.PtraceSyscall(t.pid, signal)
	}
	if err == syscall.ESRCH {
		t.Terminated = true
		return false
	}
	return true
}

func (t *Tracee) ChainNextSyscall() bool {
	return chain.Advance(t.bank, t.profile, &t.Chain)
}

func (t *Tracee) RestartOriginalSyscall() {
	chain.RestartOriginal(t.bank, &t.Chain)
}

func (t *Tracee) ReadWord(addr uint64) (uint64, error) {
	v, err := t.mem.ReadWord(uintptr(addr))
	return uint64(v), err
}

func (t *Tracee) WriteWord(addr, value uint64) error {
	return t.mem.WriteWord(uintptr(addr), uintptr(value))
}

func (t *Tracee) ReadBytes(addr uint64, n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := t.mem.ReadBuf(uintptr(addr), buf)
	if err != nil {
		return nil, err
	}
	return buf[:got], nil
}

func (t *Tracee) WriteBytes(addr uint64, data []byte) error {
	_, err := t.mem.WriteBuf(uintptr(addr), data)
	return err
}

func (t *Tracee) Is32on64() bool { return t.is32on64 }

// Destroy runs every destructor registered on t's arena (closing glue
// fds, dropping shared-heap references) once t has been reaped.
func (t *Tracee) Destroy() {
	if t.Arena != nil {
		t.Arena.Free()
	}
}

var _ ptraceemu.Tracee = (*Tracee)(nil)
