// Package seccomp builds the classic-BPF seccomp filter program for a
// syscall dispatch table (spec.md §4.8). Nothing in this repository
// installs the program into a tracee: pkg/tracer stops at every syscall
// through PTRACE_SYSCALL, and the legacy-syscall rewrites live in
// pkg/syscalls (legacy.go), not behind a SIGSYS path.
package seccomp

import (
	"golang.org/x/net/bpf"

	"github.com/prootgo/prootgo/pkg/arch"
)

// Action is the seccomp return-data payload encoded in the low bits of
// a BPF RET value's high word, alongside the standard SECCOMP_RET_*
// action in its high bits.
type Action uint32

const (
	retKill  = 0x00000000
	retTrace = 0x7ff00000
	retAllow = 0x7fff0000

	// FilterSysexit is carried in the low 16 bits of a TRACE return's
	// data, telling the tracer this syscall also needs a sysexit stop
	// (spec.md §4.8).
	FilterSysexit = 0x0001
)

// Entry is one row of the syscall dispatch table (spec.md §4.8).
type Entry struct {
	Sysnum       int64
	NeedsSysexit bool
}

// Program assembles and holds the compiled classic-BPF instructions for
// one architecture's syscall audit number plus its table of entries.
type Program struct {
	AuditArch uint32
	Entries   []Entry
}

// dataOffsets mirror struct seccomp_data layout on Linux: nr (int),
// arch (u32), instruction_pointer (u64), args[6] (u64 each).
const (
	offNr   = 0
	offArch = 4
)

// Assemble builds the cBPF program: architecture check, per-syscall
// dispatch, ALLOW default, KILL for the wrong architecture (spec.md
// §4.8). Classic BPF, not eBPF — seccomp filters are always cBPF, so
// golang.org/x/net/bpf is the right assembler in this ecosystem.
func (p *Program) Assemble() ([]bpf.RawInstruction, error) {
	var insns []bpf.Instruction

	insns = append(insns,
		bpf.LoadAbsolute{Off: offArch, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(p.AuditArch), SkipFalse: 1},
		bpf.Jump{Skip: 1},
		bpf.RetConstant{Val: retKill},
		bpf.LoadAbsolute{Off: offNr, Size: 4},
	)

	// Each entry becomes a compare-and-branch pair: a match falls
	// through to its TRACE return, a mismatch skips that return to the
	// next comparison, and the last mismatch lands on ALLOW. Pairs are
	// prepended from the tail so they keep Entries' order.
	tail := []bpf.Instruction{bpf.RetConstant{Val: retAllow}}
	for i := len(p.Entries) - 1; i >= 0; i-- {
		e := p.Entries[i]
		var data uint32 = retTrace
		if e.NeedsSysexit {
			data |= FilterSysexit
		}
		tail = append([]bpf.Instruction{
			bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(e.Sysnum), SkipFalse: 1},
			bpf.RetConstant{Val: data},
		}, tail...)
	}
	insns = append(insns, tail...)

	return bpf.Assemble(insns)
}

// DefaultEntries is the baseline 57-entry dispatch table shared across
// architectures via the neutral Sysnum space; ArchNumOf resolves each
// to this architecture's real syscall number before Assemble runs.
var DefaultEntries = []arch.Sysnum{
	arch.PR_open, arch.PR_openat, arch.PR_stat, arch.PR_lstat, arch.PR_fstat,
	arch.PR_access, arch.PR_faccessat, arch.PR_chmod, arch.PR_fchmodat,
	arch.PR_chown, arch.PR_lchown, arch.PR_fchownat,
	arch.PR_mkdir, arch.PR_mkdirat, arch.PR_rmdir,
	arch.PR_unlink, arch.PR_unlinkat,
	arch.PR_rename, arch.PR_renameat, arch.PR_renameat2,
	arch.PR_link, arch.PR_linkat, arch.PR_symlink, arch.PR_symlinkat, arch.PR_readlink, arch.PR_readlinkat,
	arch.PR_truncate, arch.PR_chdir, arch.PR_fchdir, arch.PR_getcwd,
	arch.PR_mknod, arch.PR_mknodat, arch.PR_utime, arch.PR_utimes, arch.PR_utimensat,
	arch.PR_statfs, arch.PR_execve, arch.PR_execveat,
	arch.PR_ptrace, arch.PR_brk,
	arch.PR_bind, arch.PR_connect, arch.PR_accept, arch.PR_accept4,
	arch.PR_getsockname, arch.PR_getpeername,
	arch.PR_wait4, arch.PR_waitid,
	arch.PR_prctl,
	arch.PR_select, arch.PR_poll, arch.PR_pipe, arch.PR_dup2,
	arch.PR_setxattr, arch.PR_getxattr, arch.PR_listxattr, arch.PR_removexattr,
}

// BuildEntries resolves DefaultEntries into a profile's architecture
// numbers, skipping any neutral syscall the ABI doesn't implement.
func BuildEntries(profile *arch.Profile, sysexitNeeded map[arch.Sysnum]bool) []Entry {
	var entries []Entry
	for _, s := range DefaultEntries {
		n, ok := profile.ArchNumOf(s)
		if !ok {
			continue
		}
		entries = append(entries, Entry{Sysnum: n, NeedsSysexit: sysexitNeeded[s]})
	}
	return entries
}
