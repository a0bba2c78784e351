package syscalls

import (
	"os"
	"strconv"
	"syscall"

	"github.com/prootgo/prootgo/pkg/arch"
	"github.com/prootgo/prootgo/pkg/errno"
	"github.com/prootgo/prootgo/pkg/mem"
	"github.com/prootgo/prootgo/pkg/pathengine"
	"github.com/prootgo/prootgo/pkg/regs"
	"github.com/prootgo/prootgo/pkg/tracee"
)

// atPathArgIndex gives the (dirfd-arg, path-arg) pair (0-based) for each
// *at-style syscall translate_path needs to resolve relative to.
func atPathArgIndex(sysnum arch.Sysnum) (dirfdIdx, pathIdx int, hasDirfd bool) {
	switch sysnum {
	case arch.PR_symlinkat: // (target, newdirfd, linkpath)
		return 1, 2, true
	case arch.PR_openat, arch.PR_openat2, arch.PR_mkdirat, arch.PR_newfstatat,
		arch.PR_unlinkat, arch.PR_readlinkat, arch.PR_fchmodat,
		arch.PR_fchownat, arch.PR_mknodat, arch.PR_faccessat, arch.PR_faccessat2,
		arch.PR_utimensat, arch.PR_futimesat, arch.PR_statx:
		return 0, 1, true
	default:
		return 0, 0, false
	}
}

// derefFinal reports whether sysnum's last path component should be
// dereferenced if it is itself a symlink.
func derefFinal(sysnum arch.Sysnum, flags uint64) bool {
	const atSymlinkNofollow = 0x100
	switch sysnum {
	case arch.PR_symlinkat, arch.PR_readlinkat, arch.PR_unlinkat:
		return false
	case arch.PR_newfstatat, arch.PR_fchownat, arch.PR_faccessat, arch.PR_faccessat2, arch.PR_utimensat:
		return flags&atSymlinkNofollow == 0
	default:
		return true
	}
}

// enterSingleAtPath rewrites a single-path (optionally *at-style)
// syscall's path argument from guest to host, in place (spec.md §4.4).
func (e *Engine) enterSingleAtPath(tr *tracee.Tracee, sysnum arch.Sysnum) int64 {
	dirfdIdx, pathIdx, hasDirfd := atPathArgIndex(sysnum)

	var dirFd int32 = atFdcwd
	if hasDirfd {
		dirFd = int32(tr.Bank().Arg(regs.CURRENT, dirfdIdx))
	}

	var flags uint64
	switch sysnum {
	case arch.PR_newfstatat, arch.PR_faccessat2, arch.PR_utimensat:
		flags = tr.Bank().Arg(regs.CURRENT, pathIdx+2)
	case arch.PR_fchownat:
		flags = tr.Bank().Arg(regs.CURRENT, pathIdx+3) // after owner and group
	}

	addr := tr.Bank().Arg(regs.CURRENT, pathIdx)
	userPath, err := tr.MemIO().ReadPath(uintptr(addr))
	if err != nil {
		return cancel(err)
	}

	hostPath, err := e.translatePath(tr, dirFd, userPath, derefFinal(sysnum, flags))
	if err != nil {
		return cancel(err)
	}

	return e.writeBackPath(tr, pathIdx, hostPath)
}

// enterTwoPath rewrites both path arguments of a two-path syscall
// (link/rename and their *at forms), each relative to its own base
// directory argument (spec.md §4.4). symlink/symlinkat are not handled
// here: they go through enterSingleAtPath, which translates the link
// path only and leaves the symlink target as given.
func (e *Engine) enterTwoPath(tr *tracee.Tracee, sysnum arch.Sysnum) int64 {
	var oldDirIdx, oldPathIdx, newDirIdx, newPathIdx int
	var hasDirfds bool

	switch sysnum {
	case arch.PR_linkat:
		oldDirIdx, oldPathIdx, newDirIdx, newPathIdx, hasDirfds = 0, 1, 2, 3, true
	case arch.PR_renameat, arch.PR_renameat2:
		oldDirIdx, oldPathIdx, newDirIdx, newPathIdx, hasDirfds = 0, 1, 2, 3, true
	default: // PR_link, PR_rename (already rewritten to *at by legacy.go)
		oldDirIdx, oldPathIdx, newDirIdx, newPathIdx, hasDirfds = -1, 0, -1, 1, false
	}

	oldDir, newDir := int32(atFdcwd), int32(atFdcwd)
	if hasDirfds {
		oldDir = int32(tr.Bank().Arg(regs.CURRENT, oldDirIdx))
		newDir = int32(tr.Bank().Arg(regs.CURRENT, newDirIdx))
	}

	oldUser, err := tr.MemIO().ReadPath(uintptr(tr.Bank().Arg(regs.CURRENT, oldPathIdx)))
	if err != nil {
		return cancel(err)
	}
	newUser, err := tr.MemIO().ReadPath(uintptr(tr.Bank().Arg(regs.CURRENT, newPathIdx)))
	if err != nil {
		return cancel(err)
	}

	// link()/linkat() follow the source unless AT_SYMLINK_FOLLOW isn't
	// set and it's a link-type call; rename* never follows either path.
	const atSymlinkFollow = 0x400
	oldDeref := sysnum == arch.PR_linkat && tr.Bank().Arg(regs.CURRENT, 4)&atSymlinkFollow != 0
	oldHost, err := e.translatePath(tr, oldDir, oldUser, oldDeref)
	if err != nil {
		return cancel(err)
	}
	newHost, err := e.translatePath(tr, newDir, newUser, false)
	if err != nil {
		return cancel(err)
	}

	if r := e.writeBackPath(tr, oldPathIdx, oldHost); r < 0 {
		return r
	}
	return e.writeBackPath(tr, newPathIdx, newHost)
}

// writeBackPath stages hostPath onto tr's stack and rewrites argument
// index argIdx to point at it.
func (e *Engine) writeBackPath(tr *tracee.Tracee, argIdx int, hostPath string) int64 {
	alloc := mem.Allocator{Bank: tr.Bank(), Profile: tr.Profile()}
	addr := alloc.Alloc(uintptr(len(hostPath) + 1))
	if err := tr.MemIO().WriteString(addr, hostPath); err != nil {
		return cancel(err)
	}
	tr.Bank().SetArg(regs.CURRENT, argIdx, uint64(addr))
	return 0
}

// translatePath is the generic guest-to-host path resolver every path-
// taking syscall handler calls into (spec.md §4.2 translate_path):
// join userPath onto dirFd's base (cwd, or a /proc/<pid>/fd/<n>
// readlink for an explicit directory fd), canonicalize it against tr's
// namespace, and substitute the matching binding's host prefix.
func (e *Engine) translatePath(tr *tracee.Tracee, dirFd int32, userPath string, derefFinal bool) (string, error) {
	if tr.NS == nil {
		return userPath, nil
	}

	var base string
	if len(userPath) > 0 && userPath[0] == '/' {
		base = "/"
	} else if dirFd != atFdcwd {
		resolved, err := e.readlinkProcFd(tr, int(dirFd))
		if err != nil {
			return "", err
		}
		if len(resolved) == 0 || resolved[0] != '/' {
			return "", errno.New(syscall.ENOTDIR)
		}
		base = e.resolver(tr).Detranslate(resolved)
	} else {
		base = tr.NS.Cwd
	}

	joined := pathengine.Join(base, userPath)

	cacheTag := "S:" + joined
	if derefFinal {
		cacheTag = "D:" + joined
	}

	return tr.NS.Cache.GetOrCompute(pathengine.Guest, cacheTag, func() (string, error) {
		resolver := e.resolver(tr)
		guestResolved, err := resolver.Canonicalize(joined, derefFinal, "/", 0)
		if err != nil {
			return "", err
		}
		hostPath, _, _ := tr.NS.Substitute(pathengine.Guest, guestResolved)
		return hostPath, nil
	})
}

// enterChdir resolves chdir(2)'s target, enforces EACCES on a
// non-searchable directory, stashes the canonical guest path into the
// tracee's cwd, and cancels the syscall outright — the kernel never
// sees it (spec.md §4.4 "the actual syscall is cancelled").
func (e *Engine) enterChdir(tr *tracee.Tracee) int64 {
	addr := tr.Bank().Arg(regs.CURRENT, 0)
	userPath, err := tr.MemIO().ReadPath(uintptr(addr))
	if err != nil {
		return cancel(err)
	}
	return e.chdirTo(tr, userPath)
}

// enterFchdir resolves fchdir(2)'s already-open directory fd to its
// guest path via /proc/<pid>/fd/<n> (the same trick *at syscalls use for
// dirfd) and applies the same cancel-and-stash semantics as chdir.
func (e *Engine) enterFchdir(tr *tracee.Tracee) int64 {
	fd := int(tr.Bank().Arg(regs.CURRENT, 0))
	hostTarget, err := e.readlinkProcFd(tr, fd)
	if err != nil {
		return cancel(err)
	}
	guestTarget := hostTarget
	if tr.NS != nil {
		guestTarget = e.resolver(tr).Detranslate(hostTarget)
	}
	return e.chdirTo(tr, guestTarget)
}

// chdirTo canonicalizes userPath (absolute, or relative to tr's current
// cwd), lstats the result to reject a non-directory or non-searchable
// target, and — on success — replaces tr.NS.Cwd. Either way the calling
// syscall is cancelled via cancelSyscall, per spec.md §4.4.
func (e *Engine) chdirTo(tr *tracee.Tracee, userPath string) int64 {
	if tr.NS == nil {
		return cancelSyscall(tr, 0)
	}

	base := "/"
	if len(userPath) > 0 && userPath[0] != '/' {
		base = tr.NS.Cwd
	}
	joined := pathengine.Join(base, userPath)

	guestResolved, err := e.resolver(tr).Canonicalize(joined, true, "/", 0)
	if err != nil {
		return cancel(err)
	}
	hostPath, _, _ := tr.NS.Substitute(pathengine.Guest, guestResolved)

	mode, statErr := hostFS{}.Lstat(hostPath)
	if statErr != nil {
		return cancel(errno.New(syscall.ENOENT))
	}
	if mode&os.ModeDir == 0 {
		return cancel(errno.New(syscall.ENOTDIR))
	}
	if mode.Perm()&0o111 == 0 {
		return cancel(errno.New(syscall.EACCES))
	}

	tr.NS.Cwd = guestResolved
	return cancelSyscall(tr, 0)
}

// readlinkProcFd resolves a directory file descriptor to its host path
// via /proc/<pid>/fd/<n>, the same trick the kernel's own *at syscalls
// use internally (spec.md §4.2 readlink_proc_pid_fd).
func (e *Engine) readlinkProcFd(tr *tracee.Tracee, fd int) (string, error) {
	link := "/proc/" + strconv.Itoa(tr.Pid()) + "/fd/" + strconv.Itoa(fd)
	target, err := hostFS{}.Readlink(link)
	if err != nil {
		return "", errno.New(syscall.EBADF)
	}
	return target, nil
}

// exitGetcwd synthesizes getcwd(2)'s result from the tracee's stashed
// cwd: enterDispatch already cancelled the real syscall (the kernel
// never touched the caller's buffer), so this writes the guest-side cwd
// directly and honors the caller's buffer size, returning ERANGE on
// overflow exactly as the kernel contract requires (spec.md §4.4).
// The computed result is stashed on tr.Chain rather than poked directly
// into SYSARG_RESULT, since chain.Advance (called after this) applies
// whatever ForceFinalResult/FinalResult hold once the (empty) chain
// drains, and would otherwise clobber a result written here first.
func (e *Engine) exitGetcwd(tr *tracee.Tracee) {
	if tr.NS == nil {
		return
	}

	addr := tr.Bank().Arg(regs.ORIGINAL, 0)
	size := tr.Bank().Arg(regs.ORIGINAL, 1)

	need := uint64(len(tr.NS.Cwd) + 1)
	if size == 0 || need > size {
		tr.Chain.FinalResult = uint64(cancel(errno.New(syscall.ERANGE)))
		return
	}
	if err := tr.MemIO().WriteString(uintptr(addr), tr.NS.Cwd); err != nil {
		tr.Chain.FinalResult = uint64(cancel(err))
		return
	}
	tr.Chain.FinalResult = need
}
