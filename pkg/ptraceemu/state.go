// Package ptraceemu lets a tracee itself be a ptracer of another tracee
// (spec.md §4.9, original_source/ptrace/ptrace.c and ptrace/wait.c). Since
// the Linux kernel forbids a process from being ptraced by two trackers at
// once, a traced process that calls ptrace(2) on one of its own children
// can't be handed through to the real kernel ptrace: PRoot emulates the
// whole request/response protocol itself, using the same waitpid event
// loop that drives every other tracee.
package ptraceemu

import (
	"syscall"

	"github.com/prootgo/prootgo/pkg/arch"
	"github.com/prootgo/prootgo/pkg/regs"
)

// Event mirrors one half of event4: a wait-status value together with
// whether it is still pending delivery to whichever side hasn't seen it
// yet (PRoot itself, or the emulated ptracer).
type Event struct {
	Value   int
	Pending bool
}

// WaitState is a ptracer's current relationship to wait4/waitpid.
type WaitState int

const (
	DoesntWait WaitState = iota
	WaitsInKernel
	WaitsInProot
)

// PtraceeState is the slice of a tracee's state relevant when it is
// (possibly) someone else's ptracee.
type PtraceeState struct {
	Ptracer        Tracee
	IsZombie       bool
	Options        uint64
	IgnoreSyscalls bool
	IgnoreLoaderSyscalls bool
	TracingStarted bool
	Event4Proot    Event
	Event4Ptracer  Event
}

// PtracerState is the slice of a tracee's state relevant when it is
// (possibly) ptracing others.
type PtracerState struct {
	NbPtracees  int
	WaitsIn     WaitState
	WaitPid     int
	WaitOptions uint64
}

// Tracee is the minimal view ptraceemu needs of a tracee; pkg/tracee's
// concrete Tracee type implements it, keeping this package free of any
// import on pkg/tracee (mirroring pathengine's HostFS/GlueBuilder split).
type Tracee interface {
	Pid() int
	Parent() Tracee
	Bank() *regs.Bank
	Profile() *arch.Profile

	// PtraceeState/PtracerState return this tracee's own ptrace-emulation
	// bookkeeping, mutated in place by this package's functions.
	PtraceeState() *PtraceeState
	PtracerState() *PtracerState

	// SetSysnum cancels or rewrites the syscall this tracee is currently
	// stopped in.
	SetSysnum(s arch.Sysnum)

	// HandleEvent runs the ordinary (non-ptrace-emulated) event handler
	// for a wait-status value seen on this tracee and returns the signal
	// that should accompany its restart.
	HandleEvent(event int) int

	// RestartTracee resumes this tracee with the given signal (0 for
	// none), honoring its current restart mode (CONT/SYSCALL/SINGLESTEP/
	// SINGLEBLOCK). It reports whether the tracee was actually still
	// alive to restart.
	RestartTracee(signal int) bool

	// ChainNextSyscall pops and installs this tracee's next chained
	// syscall, if any, returning whether one was installed.
	ChainNextSyscall() bool

	// RestartOriginalSyscall re-queues this tracee's ORIGINAL syscall as
	// a chained call, used to let a kernel-visible wait4 collect a
	// terminating child PRoot has already seen.
	RestartOriginalSyscall()

	// ReadWord/WriteWord/WriteBytes access this tracee's memory, used by
	// the register/siginfo marshalling requests.
	ReadWord(addr uint64) (uint64, error)
	WriteWord(addr, value uint64) error
	ReadBytes(addr uint64, n int) ([]byte, error)
	WriteBytes(addr uint64, data []byte) error

	Is32on64() bool
}

// Registry resolves pids to Tracees, the job pkg/tracee's process table
// does; kept as an interface here for the same reason Tracee is.
type Registry interface {
	// GetTracee looks up pid among parent's descendants, optionally
	// creating a placeholder entry if create is true and none exists.
	GetTracee(parent Tracee, pid int, create bool) Tracee

	// GetStoppedPtracee finds a ptracee of ptracer matching pid/options
	// whose event is ready to report. If consume is true, a matching
	// event is treated as delivered. Returns nil if none matches.
	GetStoppedPtracee(ptracer Tracee, pid int, consume bool, options uint64) Tracee

	// HasPtracees reports whether ptracer currently has any living
	// ptracee matching pid/options, used by the WNOHANG wait(2) path.
	HasPtracees(ptracer Tracee, pid int, options uint64) bool

	// Kill sends signal to pid via the real kernel (not ptrace), used
	// for TRACEME/ATTACH's implicit SIGSTOP and for waking a ptracer
	// blocked in the kernel.
	Kill(pid int, signal syscall.Signal) error

	// Detach removes ptracee from ptracer's bookkeeping entirely,
	// freeing a zombie once both sides have nothing left to emulate.
	Detach(ptracee Tracee)
}

// AttachToPtracer records ptracer as ptracee's tracer (attach_to_ptracer).
func AttachToPtracer(ptracee, ptracer Tracee) {
	st := ptracee.PtraceeState()
	*st = PtraceeState{Ptracer: ptracer}
	ptracer.PtracerState().NbPtracees++
}

// DetachFromPtracer clears ptracee's tracer (detach_from_ptracer).
func DetachFromPtracer(ptracee Tracee) {
	st := ptracee.PtraceeState()
	ptracer := st.Ptracer
	st.Ptracer = nil
	if ptracer != nil {
		ptracer.PtracerState().NbPtracees--
	}
}
