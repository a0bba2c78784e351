// Package syscalls is the per-syscall dispatch layer: it turns a
// classified sysenter/sysexit stop into guest<->host path translation,
// brk/heap emulation, AF_UNIX socket path shortening, and ELF load
// orchestration (spec.md §4.4-§4.9). pkg/tracer's event loop calls
// Engine.Enter/Engine.Exit once per stop; everything else in this
// package is a helper those two entry points dispatch into.
package syscalls

import (
	"os"
	"sync"

	"github.com/prootgo/prootgo/pkg/arch"
	"github.com/prootgo/prootgo/pkg/errno"
	"github.com/prootgo/prootgo/pkg/heap"
	"github.com/prootgo/prootgo/pkg/pathengine"
	"github.com/prootgo/prootgo/pkg/regs"
	"github.com/prootgo/prootgo/pkg/tracee"
)

// Config carries the startup-time knobs spec.md §6's environment
// variables and CLI flags resolve into, down to the rewriters that need
// them.
type Config struct {
	LoaderPath            string
	Loader32Path          string
	TempDir               string
	IgnoreMissingBindings bool
	DontPolluteRootfs     bool
}

// Engine is the process-wide state every syscall rewriter needs beyond
// the tracee it's currently acting on.
type Engine struct {
	Config Config
	Table  *tracee.Table
	Glue   *Glue

	mu        sync.Mutex
	execState map[int]*execState
}

// NewEngine builds an Engine. table is the shared pid->Tracee registry
// the supervisor's event loop owns.
func NewEngine(cfg Config, table *tracee.Table) *Engine {
	return &Engine{
		Config:    cfg,
		Table:     table,
		Glue:      &Glue{TempDir: cfg.TempDir, DontPollute: cfg.DontPolluteRootfs},
		execState: make(map[int]*execState),
	}
}

// hostFS implements pathengine.HostFS against the real host filesystem.
type hostFS struct{}

func (hostFS) Lstat(hostPath string) (os.FileMode, error) {
	fi, err := os.Lstat(hostPath)
	if err != nil {
		return 0, err
	}
	return fi.Mode(), nil
}

func (hostFS) Readlink(hostPath string) (string, error) {
	return os.Readlink(hostPath)
}

// resolver builds a pathengine.Resolver scoped to tr's namespace.
func (e *Engine) resolver(tr *tracee.Tracee) *pathengine.Resolver {
	return &pathengine.Resolver{
		NS:   tr.NS,
		FS:   hostFS{},
		Glue: e.Glue,
		Proc: &ProcFS{Table: e.Table, Self: tr},
	}
}

// Enter dispatches a syscall-entry stop. enterDispatch's return value,
// if negative, cancels the syscall: its number is set to the
// architecture's invalid-syscall sentinel and the forced return value
// is stashed on the chain queue, which chain.Advance (called once this
// stop's exit side finishes) pokes into place since the queue is
// otherwise empty (spec.md §4.4, §4.7).
func (e *Engine) Enter(tr *tracee.Tracee) {
	sysnum := tr.Bank().Sysnum(regs.ORIGINAL)

	if rewritten, ok := rewriteLegacy(tr, sysnum); ok {
		sysnum = rewritten
	}

	result := e.enterDispatch(tr, sysnum)
	if result < 0 {
		cancelSyscall(tr, result)
	}
}

// cancelSyscall voids the current syscall and forces the tracee's
// eventual sysexit result to result, regardless of what the (never
// actually run) real syscall would have returned. Rewriters call this
// directly when spec.md marks a syscall as always cancelled — success
// included, not merely on translation error (chdir, fchdir, getcwd) —
// rather than relying on Enter's generic "negative return cancels"
// convention, which only fires for errors.
func cancelSyscall(tr *tracee.Tracee, result int64) int64 {
	tr.SetSysnum(arch.Void)
	tr.Chain.ForceFinalResult = true
	tr.Chain.FinalResult = uint64(result)
	return 0
}

// Exit dispatches a syscall-exit stop.
func (e *Engine) Exit(tr *tracee.Tracee) {
	sysnum := tr.Bank().Sysnum(regs.ORIGINAL)
	e.exitDispatch(tr, sysnum)
}

// enterDispatch is the per-syscall sysenter table. A non-negative
// return (including 0) lets the syscall proceed unmodified beyond
// whatever in-place register rewriting the handler already did.
func (e *Engine) enterDispatch(tr *tracee.Tracee, sysnum arch.Sysnum) int64 {
	switch sysnum {
	case arch.PR_mkdir, arch.PR_mkdirat, arch.PR_rmdir, arch.PR_unlink,
		arch.PR_unlinkat, arch.PR_truncate, arch.PR_chmod, arch.PR_fchmodat,
		arch.PR_chown, arch.PR_lchown, arch.PR_fchownat, arch.PR_mknod, arch.PR_mknodat,
		arch.PR_statfs, arch.PR_faccessat, arch.PR_faccessat2,
		arch.PR_newfstatat, arch.PR_openat, arch.PR_openat2,
		arch.PR_readlinkat, arch.PR_symlinkat, arch.PR_utimensat, arch.PR_futimesat,
		arch.PR_acct, arch.PR_chroot, arch.PR_swapon, arch.PR_swapoff, arch.PR_mount,
		arch.PR_statx:
		return e.enterSingleAtPath(tr, sysnum)

	case arch.PR_link, arch.PR_linkat, arch.PR_rename, arch.PR_renameat, arch.PR_renameat2:
		return e.enterTwoPath(tr, sysnum)

	case arch.PR_chdir:
		return e.enterChdir(tr)

	case arch.PR_fchdir:
		return e.enterFchdir(tr)

	case arch.PR_getcwd:
		// The real getcwd never runs; exitGetcwd synthesizes the result
		// from the stashed cwd once this stop reaches sysexit (spec.md
		// §4.4).
		return cancelSyscall(tr, 0)

	case arch.PR_execve, arch.PR_execveat:
		return e.enterExecve(tr, sysnum)

	case arch.PR_brk:
		if tr.Heap == nil {
			// Neither the initial tracee (exec'd before tracing began) nor
			// a plain fork child has been through exitExecve.
			tr.Heap = &heap.Heap{}
		}
		heap.TranslateBrkEnter(tr.Bank(), tr.Profile(), tr.Heap, e.execHeapBase(tr), tr.Is32on64())
		return 0

	case arch.PR_bind, arch.PR_connect:
		return e.enterSocketAddr(tr, 1, 2)

	case arch.PR_ptrace:
		return 0 // passed to the kernel unchanged; nothing calls pkg/ptraceemu's ptrace or wait translators.

	case arch.PR_getrlimit, arch.PR_setrlimit, arch.PR_prlimit64:
		return e.enterRlimit(tr, sysnum)
	}

	return 0
}

// exitDispatch is the per-syscall sysexit table.
func (e *Engine) exitDispatch(tr *tracee.Tracee, sysnum arch.Sysnum) {
	switch sysnum {
	case arch.PR_getcwd:
		e.exitGetcwd(tr)

	case arch.PR_brk:
		heap.TranslateBrkExit(tr.Bank(), tr.Profile(), tr.Heap)

	case arch.PR_execve, arch.PR_execveat:
		e.exitExecve(tr, sysnum)

	case arch.PR_accept, arch.PR_accept4, arch.PR_getsockname, arch.PR_getpeername:
		e.exitSocketAddr(tr)

	case arch.PR_statfs, arch.PR_fstatfs:
		e.exitStatfs(tr)
	}

	// Whether a chained syscall (or a stashed forced result) follows is
	// pkg/tracer's call, made once per stop via tr.ChainNextSyscall()
	// after every rewriter here has run.
}

// execHeapBase returns the end-of-BSS address the currently loaded
// program's heap grows from, recorded by enterExecve/exitExecve.
func (e *Engine) execHeapBase(tr *tracee.Tracee) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st := e.execState[tr.Pid()]; st != nil {
		return st.bssEnd
	}
	return 0
}

func (e *Engine) state(tr *tracee.Tracee) *execState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.execState[tr.Pid()]
	if st == nil {
		st = &execState{}
		e.execState[tr.Pid()] = st
	}
	return st
}

func (e *Engine) clearState(tr *tracee.Tracee) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.execState, tr.Pid())
}

// cancel wraps a translation error into the negative-errno convention
// Enter/enterDispatch use to signal "don't let this syscall run".
func cancel(err error) int64 {
	if err == nil {
		return 0
	}
	return errno.Value(err)
}
