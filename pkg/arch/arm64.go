package arch

// arm64SyscallTable covers the AArch64 syscalls spec.md names explicitly.
// AArch64 has no split mmap/mmap2 — only mmap — and no standalone
// open/link/unlink/etc; everything routes through the *at family, which is
// exactly why spec.md §4.4 calls out the *at dirfd/AT_FDCWD handling as a
// first-class concern rather than an edge case.
var arm64SyscallTable = map[int64]Sysnum{
	24:  PR_dup,
	23:  PR_dup3,
	25:  PR_fcntl,
	29:  PR_ioctl,
	34:  PR_mkdirat,
	35:  PR_unlinkat,
	36:  PR_symlinkat,
	37:  PR_linkat,
	38:  PR_renameat,
	39:  PR_umount2,
	40:  PR_mount,
	44:  PR_fstatfs,
	43:  PR_statfs,
	45:  PR_truncate,
	46:  PR_ftruncate,
	48:  PR_faccessat,
	49:  PR_chdir,
	50:  PR_fchdir,
	52:  PR_fchmod,
	53:  PR_fchmodat,
	54:  PR_fchownat,
	55:  PR_fchown,
	56:  PR_openat,
	57:  PR_close,
	59:  PR_pipe2,
	61:  PR_getdents64,
	62:  PR_lseek,
	63:  PR_read,
	64:  PR_write,
	67:  PR_pselect6,
	73:  PR_ppoll,
	78:  PR_readlinkat,
	79:  PR_newfstatat,
	80:  PR_fstat,
	93:  PR_exit,
	94:  PR_exit_group,
	96:  PR_set_tid_address,
	98:  PR_futex,
	99:  PR_set_robust_list,
	101: PR_nanosleep,
	113: PR_clock_gettime,
	122: PR_sched_setaffinity,
	129: PR_kill,
	131: PR_tgkill,
	135: PR_rt_sigaction,
	160: PR_uname,
	163: PR_getrlimit,
	164: PR_setrlimit,
	165: PR_prlimit64,
	166: PR_getrusage,
	167: PR_umask,
	172: PR_getpid,
	178: PR_gettid,
	198: PR_socket,
	199: PR_socketpair,
	200: PR_bind,
	201: PR_listen,
	202: PR_accept,
	203: PR_connect,
	204: PR_getsockname,
	205: PR_getpeername,
	206: PR_sendto,
	207: PR_recvfrom,
	210: PR_shutdown,
	212: PR_accept4,
	214: PR_brk,
	215: PR_munmap,
	216: PR_mremap,
	220: PR_clone,
	221: PR_execve,
	222: PR_mmap,
	226: PR_mprotect,
	233: PR_madvise,
	260: PR_wait4,
	261: PR_prctl,
	278: PR_getrandom,
	281: PR_execveat,
	117: PR_ptrace,
	439: PR_faccessat2,
	437: PR_openat2,
	435: PR_clone3,
	277: PR_seccomp,
	17:  PR_getcwd,
	5:   PR_setxattr,
	8:   PR_getxattr,
	11:  PR_listxattr,
	14:  PR_removexattr,
}

// Arm64 is the native AArch64 arch profile.
var Arm64 = &Profile{
	Abi:                  AbiNative,
	RedZoneSize:          0,
	SystrapSize:          4, // `svc #0`
	StackAlignment:       16,
	LoaderBaseExecutable: 0x600000000000,
	LoaderBaseInterp:     0x600000000000 + 0x10000000,
	WordSize:             8,
}

// Arm32OnArm64 is the AArch32-compatibility profile: a 32-bit register
// view and word size, but still running under the AArch64 kernel's
// compat syscall table. spec.md §1 documents this as the one supported
// compatibility mode beyond native execution.
var Arm32OnArm64 = &Profile{
	Abi:                  AbiArm32OnArm64,
	RedZoneSize:          0,
	SystrapSize:          4, // `svc #0` in ARM mode, 2 in Thumb (selected at runtime)
	StackAlignment:       8,
	LoaderBaseExecutable: 0x40000000,
	LoaderBaseInterp:     0x40000000 + 0x00400000,
	WordSize:             4,
}

func init() {
	Arm64.toNeutral, Arm64.fromNeutral = buildTable(arm64SyscallTable)
	// The 32-on-64 compat profile reuses the AArch64 table as-is; it does
	// not carry the real AArch32 EABI numbering (see DESIGN.md).
	Arm32OnArm64.toNeutral, Arm32OnArm64.fromNeutral = buildTable(arm64SyscallTable)
}
