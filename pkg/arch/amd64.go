package arch

// amd64SyscallTable is a (partial but representative) subset of the
// x86_64 syscall table, covering every syscall spec.md names explicitly
// (§4.4 dispatch table, §4.8 seccomp table, §4.6 heap, §4.5 execve).
var amd64SyscallTable = map[int64]Sysnum{
	0:   PR_read,
	1:   PR_write,
	2:   PR_open,
	3:   PR_close,
	4:   PR_stat,
	5:   PR_fstat,
	6:   PR_lstat,
	7:   PR_poll,
	8:   PR_lseek,
	9:   PR_mmap,
	10:  PR_mprotect,
	11:  PR_munmap,
	12:  PR_brk,
	13:  PR_rt_sigaction,
	16:  PR_ioctl,
	21:  PR_access,
	22:  PR_pipe,
	23:  PR_select,
	25:  PR_mremap,
	32:  PR_dup,
	33:  PR_dup2,
	35:  PR_nanosleep,
	39:  PR_getpid,
	41:  PR_socket,
	42:  PR_connect,
	43:  PR_accept,
	44:  PR_sendto,
	45:  PR_recvfrom,
	49:  PR_bind,
	50:  PR_listen,
	51:  PR_getsockname,
	52:  PR_getpeername,
	59:  PR_execve,
	60:  PR_exit,
	61:  PR_wait4,
	62:  PR_kill,
	63:  PR_uname,
	72:  PR_fcntl,
	76:  PR_truncate,
	77:  PR_ftruncate,
	79:  PR_getcwd,
	80:  PR_chdir,
	81:  PR_fchdir,
	82:  PR_rename,
	83:  PR_mkdir,
	84:  PR_rmdir,
	85:  PR_creat,
	86:  PR_link,
	87:  PR_unlink,
	88:  PR_symlink,
	89:  PR_readlink,
	90:  PR_chmod,
	91:  PR_fchmod,
	92:  PR_chown,
	93:  PR_fchown,
	94:  PR_lchown,
	95:  PR_umask,
	97:  PR_getrlimit,
	98:  PR_getrusage,
	101: PR_ptrace,
	131: PR_statfs,
	138: PR_fstatfs,
	133: PR_mknod,
	157: PR_prctl,
	158: PR_arch_prctl,
	160: PR_setrlimit,
	165: PR_mount,
	166: PR_umount2,
	218: PR_set_tid_address,
	231: PR_exit_group,
	257: PR_openat,
	258: PR_mkdirat,
	259: PR_mknodat,
	260: PR_fchownat,
	261: PR_futimesat,
	262: PR_newfstatat,
	263: PR_unlinkat,
	264: PR_renameat,
	265: PR_linkat,
	266: PR_symlinkat,
	267: PR_readlinkat,
	268: PR_fchmodat,
	269: PR_faccessat,
	270: PR_pselect6,
	272: PR_set_robust_list,
	275: PR_splice,
	279: PR_utimensat,
	281: PR_epoll_pwait,
	282: PR_signalfd,
	285: PR_fallocate,
	288: PR_accept4,
	290: PR_eventfd2,
	293: PR_pipe2,
	297: PR_renameat2,
	299: PR_finit_module,
	317: PR_seccomp,
	322: PR_execveat,
	332: PR_statx,
	56:  PR_clone,
	57:  PR_fork,
	58:  PR_vfork,
	96:  PR_gettimeofday,
	99:  PR_sysinfo,
	186: PR_gettid,
	137: PR_ustat,
	163: PR_acct,
	140: PR_getpriority,
	141: PR_setpriority,
	161: PR_chroot,
	162: PR_sync,
	171: PR_swapoff,
	168: PR_swapon,
	273: PR_sync_file_range,
	318: PR_getrandom,
	328: PR_rseq,
	334: PR_rt_sigtimedwait_time64,
	425: PR_io_uring_setup,
	426: PR_io_uring_enter,
	427: PR_io_uring_register,
	437: PR_openat2,
	438: PR_pidfd_getfd,
	439: PR_faccessat2,
	435: PR_clone3,
	172: PR_reboot,
	217: PR_getdents64,
	271: PR_ppoll,
	202: PR_futex,
	228: PR_clock_gettime,
	203: PR_sched_setaffinity,
	234: PR_tgkill,
	53:  PR_socketpair,
	48:  PR_shutdown,
	28:  PR_madvise,
	188: PR_setxattr,
	191: PR_getxattr,
	194: PR_listxattr,
	197: PR_removexattr,
}

// Amd64 is the native x86_64 arch profile.
var Amd64 = &Profile{
	Abi:                  AbiNative,
	RedZoneSize:          0,
	SystrapSize:          2, // the two-byte `syscall` instruction
	StackAlignment:       16,
	LoaderBaseExecutable: 0x580000000000,
	LoaderBaseInterp:     0x580000000000 + 0x10000000,
	WordSize:             8,
}

func init() {
	Amd64.toNeutral, Amd64.fromNeutral = buildTable(amd64SyscallTable)
}
