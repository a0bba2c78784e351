// Package arch holds the per-ABI profile: syscall-number mapping, register
// layout, stack red-zone, systrap size and loader base addresses
// (spec.md §4.3). Everything here is an immutable lookup table indexed by
// Abi — no global mutable state (spec.md §9 "Global mutable tables").
package arch

// Sysnum is a neutral, architecture-independent syscall identifier. The
// dense arch->Sysnum arrays and their Sysnum->arch inverses below are the
// only place architecture syscall numbers appear; every other package in
// this module speaks Sysnum.
type Sysnum int

// Void is the sentinel "this syscall is cancelled" number (spec.md §4.4).
// It translates, per ABI, to a definitely-invalid architecture number.
const Void Sysnum = -1

// Unknown marks an architecture syscall number with no neutral mapping.
const Unknown Sysnum = 0

const (
	_ Sysnum = iota
	PR_read
	PR_write
	PR_open
	PR_close
	PR_stat
	PR_fstat
	PR_lstat
	PR_poll
	PR_lseek
	PR_mmap
	PR_mmap2
	PR_mprotect
	PR_munmap
	PR_brk
	PR_rt_sigaction
	PR_ioctl
	PR_access
	PR_pipe
	PR_pipe2
	PR_select
	PR_pselect6
	PR_mremap
	PR_dup
	PR_dup2
	PR_dup3
	PR_nanosleep
	PR_getpid
	PR_socket
	PR_connect
	PR_accept
	PR_accept4
	PR_sendto
	PR_recvfrom
	PR_bind
	PR_listen
	PR_getsockname
	PR_getpeername
	PR_execve
	PR_execveat
	PR_exit
	PR_exit_group
	PR_wait4
	PR_waitid
	PR_kill
	PR_uname
	PR_fcntl
	PR_truncate
	PR_ftruncate
	PR_getcwd
	PR_chdir
	PR_fchdir
	PR_rename
	PR_renameat
	PR_renameat2
	PR_mkdir
	PR_mkdirat
	PR_rmdir
	PR_creat
	PR_link
	PR_linkat
	PR_unlink
	PR_unlinkat
	PR_symlink
	PR_symlinkat
	PR_readlink
	PR_readlinkat
	PR_chmod
	PR_fchmod
	PR_fchmodat
	PR_chown
	PR_fchown
	PR_fchownat
	PR_lchown
	PR_umask
	PR_getrlimit
	PR_setrlimit
	PR_prlimit64
	PR_getrusage
	PR_ptrace
	PR_mknod
	PR_mknodat
	PR_statfs
	PR_fstatfs
	PR_newfstatat
	PR_faccessat
	PR_faccessat2
	PR_utime
	PR_utimes
	PR_utimensat
	PR_prctl
	PR_arch_prctl
	PR_mount
	PR_umount2
	PR_seccomp
	PR_clone
	PR_fork
	PR_vfork
	PR_set_tid_address
	PR_set_robust_list
	PR_openat
	PR_openat2
	PR_futimesat
	PR_splice
	PR_epoll_pwait
	PR_signalfd
	PR_fallocate
	PR_eventfd2
	PR_finit_module
	PR_statx
	PR_gettimeofday
	PR_sysinfo
	PR_gettid
	PR_ustat
	PR_acct
	PR_getpriority
	PR_setpriority
	PR_chroot
	PR_sync
	PR_swapoff
	PR_swapon
	PR_sync_file_range
	PR_getrandom
	PR_rseq
	PR_rt_sigtimedwait_time64
	PR_io_uring_setup
	PR_io_uring_enter
	PR_io_uring_register
	PR_pidfd_getfd
	PR_clone3
	PR_reboot
	PR_getdents64
	PR_ppoll
	PR_futex
	PR_clock_gettime
	PR_sched_setaffinity
	PR_tgkill
	PR_socketpair
	PR_shutdown
	PR_madvise
	PR_setxattr
	PR_getxattr
	PR_listxattr
	PR_removexattr
)

// Abi identifies a supported ABI (native, or AArch32-on-AArch64).
type Abi int

const (
	AbiNative Abi = iota
	AbiArm32OnArm64
)

// Reg is a symbolic register name, independent of the underlying ABI
// register layout (spec.md §4.1).
type Reg int

const (
	SYSARG_NUM Reg = iota
	SYSARG_1
	SYSARG_2
	SYSARG_3
	SYSARG_4
	SYSARG_5
	SYSARG_6
	SYSARG_RESULT
	STACK_POINTER
	INSTR_POINTER
	RTLD_FINI
	STATE_FLAGS
	USERARG_1
	numRegs
)

// Profile is the immutable per-ABI table described in spec.md §4.3.
type Profile struct {
	Abi Abi

	// toNeutral is a dense array indexed by architecture syscall
	// number; fromNeutral is its inverse.
	toNeutral   []Sysnum
	fromNeutral map[Sysnum]int64

	// RedZoneSize is the ABI red-zone below SP that must not be
	// clobbered unless SP has not moved since ORIGINAL (0 on ARM/
	// AArch64).
	RedZoneSize uint64

	// SystrapSize is the size in bytes of the trap instruction that
	// raised the syscall (2 on x86_64, 4 on ARM/AArch64, 2 in Thumb mode).
	SystrapSize uint64

	// StackAlignment is the ABI-mandated alignment of the final stack
	// pointer handed to the entry point.
	StackAlignment uint64

	// LoaderBaseExecutable/LoaderBaseInterp are the fixed virtual
	// base addresses applied to ET_DYN mappings, distinguished for
	// 32-on-64 mode.
	LoaderBaseExecutable uint64
	LoaderBaseInterp     uint64

	WordSize int // 4 or 8
}

// SysnumOf maps an architecture-specific syscall number to its neutral
// Sysnum, or Unknown if the ABI has no such syscall.
func (p *Profile) SysnumOf(archNum int64) Sysnum {
	if archNum < 0 || int(archNum) >= len(p.toNeutral) {
		return Unknown
	}
	return p.toNeutral[archNum]
}

// ArchNumOf is the inverse of SysnumOf. ok is false if this ABI has no
// syscall for the given neutral number (e.g. PR_mmap2 on a pure 64-bit
// ABI).
func (p *Profile) ArchNumOf(s Sysnum) (int64, bool) {
	if s == Void {
		return p.voidArchNum(), true
	}
	n, ok := p.fromNeutral[s]
	return n, ok
}

func (p *Profile) voidArchNum() int64 {
	// An architecture number guaranteed to be invalid: one past the
	// largest mapped syscall number on this ABI.
	return int64(len(p.toNeutral))
}

func buildTable(pairs map[int64]Sysnum) ([]Sysnum, map[Sysnum]int64) {
	max := int64(0)
	for n := range pairs {
		if n > max {
			max = n
		}
	}
	dense := make([]Sysnum, max+1)
	inverse := make(map[Sysnum]int64, len(pairs))
	for n, s := range pairs {
		dense[n] = s
		inverse[s] = n
	}
	return dense, inverse
}
