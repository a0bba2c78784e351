package ptraceemu

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/prootgo/prootgo/pkg/arch"
	"github.com/prootgo/prootgo/pkg/errno"
	"github.com/prootgo/prootgo/pkg/note"
	"github.com/prootgo/prootgo/pkg/regs"
)

// A handful of legacy ptrace requests have no portable cross-arch constant
// in golang.org/x/sys/unix (some, like GETFPXREGS, exist only on the
// historical x86 ABI; SET_SYSCALL and GETVFPREGS never got one at all),
// so their raw request numbers are named locally.
const (
	ptraceSetSyscall  = 0x17
	ptraceGetFPXRegs  = 0x12
	ptraceGetVFPRegs  = 0x1b
	ptraceSingleBlock = 0x21 // x86-only ("run until next branch")
	ptraceGetFPRegs   = 0xe
	ptraceSetFPRegs   = 0xf
)

// rawPtrace issues ptrace(2) directly via Syscall6, for requests neither
// package syscall nor golang.org/x/sys/unix wrap (GETFPREGS, GETREGSET,
// SETREGSET, SET_SYSCALL): the same escape hatch gvisor's systrap
// subprocess uses for the ptrace requests its higher-level wrappers don't
// cover.
func rawPtrace(request, pid int, addr, data uintptr) (uintptr, syscall.Errno) {
	r, _, e := unix.Syscall6(unix.SYS_PTRACE, uintptr(request), uintptr(pid), addr, data, 0, 0)
	return r, e
}

// TranslatePtraceEnter cancels the tracee's own ptrace(2) syscall so it
// never reaches the kernel (a traced process can't itself be ptraced by
// two trackers): the whole request is instead emulated at exit.
func TranslatePtraceEnter(tracee Tracee) {
	tracee.SetSysnum(arch.Void)
}

// TranslatePtraceExit emulates the ptrace(2) request @tracee made, acting
// either as a brand-new tracer (TRACEME/ATTACH) or as an established one
// directing one of its own ptracees (original_source/ptrace/ptrace.c
// translate_ptrace_exit). Returns the syscall result to poke into
// SYSARG_RESULT.
func TranslatePtraceExit(tracee Tracee, reg Registry) int64 {
	bank := tracee.Bank()
	request := int64(bank.Peek(regs.ORIGINAL, arch.SYSARG_1))
	pid := int64(bank.Peek(regs.ORIGINAL, arch.SYSARG_2))
	address := bank.Peek(regs.ORIGINAL, arch.SYSARG_3)
	data := bank.Peek(regs.ORIGINAL, arch.SYSARG_4)

	if tracee.Is32on64() && pid == 0xFFFFFFFF {
		pid = -1
	}

	switch request {
	case unix.PTRACE_TRACEME:
		return translateTraceme(tracee, reg)
	case unix.PTRACE_ATTACH:
		return translateAttach(tracee, reg, int(pid))
	}

	// Everything else requires tracee to already be an established
	// ptracer, and the target to be one of its ptracees currently
	// stopped waiting on it.
	ptracer := tracee
	ptracee := reg.GetStoppedPtracee(ptracer, int(pid), false, 0)
	if ptracee == nil {
		found := reg.GetTracee(tracee, int(pid), false)
		if found != nil {
			note.Note(note.WARNING, note.INTERNAL, "ptrace request to an unexpected ptracee")
		}
		return errno.Value(errno.New(syscall.ESRCH))
	}

	st := ptracee.PtraceeState()
	if st.IsZombie || st.Ptracer != ptracer || pid == -1 {
		return errno.Value(errno.New(syscall.ESRCH))
	}

	forcedSignal := -1
	var result int64

	switch request {
	case unix.PTRACE_SYSCALL:
		st.IgnoreSyscalls = false
		forcedSignal = int(data)

	case unix.PTRACE_CONT:
		st.IgnoreSyscalls = true
		forcedSignal = int(data)

	case unix.PTRACE_SINGLESTEP, ptraceSingleBlock:
		forcedSignal = int(data)

	case unix.PTRACE_DETACH:
		reg.Detach(ptracee)

	case unix.PTRACE_KILL:
		if _, e := rawPtrace(unix.PTRACE_KILL, int(pid), 0, 0); e != 0 {
			return errno.Value(errno.New(e))
		}

	case unix.PTRACE_SETOPTIONS:
		st.Options = data
		return 0 // doesn't restart the ptracee

	case unix.PTRACE_GETEVENTMSG:
		msg, err := unix.PtraceGetEventMsg(int(pid))
		if err != nil {
			return errno.Value(errno.New(err.(syscall.Errno)))
		}
		if err := ptracer.WriteWord(data, uint64(msg)); err != nil {
			return errno.Value(err)
		}
		return 0

	case unix.PTRACE_PEEKUSR:
		if tracee.Is32on64() && address == ^uint64(0) {
			return errno.Value(errno.New(syscall.EIO))
		}
		fallthrough
	case unix.PTRACE_PEEKTEXT, unix.PTRACE_PEEKDATA:
		r, e := rawPtrace(int(request), int(pid), uintptr(address), 0)
		if e != 0 {
			return errno.Value(errno.New(e))
		}
		if err := ptracer.WriteWord(data, uint64(r)); err != nil {
			return errno.Value(err)
		}
		return 0

	case unix.PTRACE_POKEUSR:
		if tracee.Is32on64() && address == ^uint64(0) {
			return errno.Value(errno.New(syscall.EIO))
		}
		if _, e := rawPtrace(int(request), int(pid), uintptr(address), uintptr(data)); e != 0 {
			return errno.Value(errno.New(e))
		}
		return 0

	case unix.PTRACE_POKETEXT, unix.PTRACE_POKEDATA:
		if tracee.Is32on64() {
			tmp, e := rawPtrace(unix.PTRACE_PEEKDATA, int(pid), uintptr(address), 0)
			if e != 0 {
				return errno.Value(errno.New(e))
			}
			data |= uint64(tmp) & 0xFFFFFFFF00000000
		}
		if _, e := rawPtrace(int(request), int(pid), uintptr(address), uintptr(data)); e != 0 {
			return errno.Value(errno.New(e))
		}
		return 0

	case unix.PTRACE_GETSIGINFO:
		var siginfo [128]byte
		if _, e := rawPtrace(unix.PTRACE_GETSIGINFO, int(pid), 0, uintptr(unsafe.Pointer(&siginfo[0]))); e != 0 {
			return errno.Value(errno.New(e))
		}
		if err := ptracer.WriteBytes(data, siginfo[:]); err != nil {
			return errno.Value(err)
		}
		return 0

	case unix.PTRACE_SETSIGINFO:
		buf, err := ptracer.ReadBytes(data, 128)
		if err != nil {
			return errno.Value(err)
		}
		if _, e := rawPtrace(unix.PTRACE_SETSIGINFO, int(pid), 0, uintptr(unsafe.Pointer(&buf[0]))); e != 0 {
			return errno.Value(errno.New(e))
		}
		return 0

	case unix.PTRACE_GETREGS:
		var raw syscall.PtraceRegs
		if err := syscall.PtraceGetRegs(int(pid), &raw); err != nil {
			return errno.Value(errno.New(err.(syscall.Errno)))
		}
		size := int(unsafe.Sizeof(raw))
		b := (*[1 << 20]byte)(unsafe.Pointer(&raw))[:size:size]
		if ptracer.Is32on64() {
			size /= 2
			b = b[:size]
		}
		if err := ptracer.WriteBytes(data, b); err != nil {
			return errno.Value(err)
		}
		return 0

	case unix.PTRACE_SETREGS:
		var raw syscall.PtraceRegs
		size := int(unsafe.Sizeof(raw))
		if ptracer.Is32on64() {
			size /= 2
		}
		b, err := ptracer.ReadBytes(data, size)
		if err != nil {
			return errno.Value(err)
		}
		copy((*[1 << 20]byte)(unsafe.Pointer(&raw))[:size:size], b)
		if err := syscall.PtraceSetRegs(int(pid), &raw); err != nil {
			return errno.Value(errno.New(err.(syscall.Errno)))
		}
		return 0

	case ptraceGetFPRegs:
		var buf [512]byte // struct user_fpregs_struct, generously sized
		if tracee.Is32on64() {
			note.Note(note.WARNING, note.INTERNAL, "ptrace 32-bit GETFPREGS not supported on 64-bit yet")
			for i := range buf {
				buf[i] = 0
			}
		} else if _, e := rawPtrace(ptraceGetFPRegs, int(pid), 0, uintptr(unsafe.Pointer(&buf[0]))); e != 0 {
			return errno.Value(errno.New(e))
		}
		if err := ptracer.WriteBytes(data, buf[:]); err != nil {
			return errno.Value(err)
		}
		return 0

	case ptraceSetFPRegs:
		if tracee.Is32on64() {
			note.Note(note.WARNING, note.INTERNAL, "ptrace 32-bit SETFPREGS not supported on 64-bit yet")
			return errno.Value(errno.New(syscall.ENOTSUP))
		}
		buf, err := ptracer.ReadBytes(data, 512)
		if err != nil {
			return errno.Value(err)
		}
		if _, e := rawPtrace(ptraceSetFPRegs, int(pid), 0, uintptr(unsafe.Pointer(&buf[0]))); e != 0 {
			return errno.Value(errno.New(e))
		}
		return 0

	case unix.PTRACE_GETREGSET:
		wordSize := uint64(8)
		if ptracer.Is32on64() {
			wordSize = 4
		}
		remoteBase, err := ptracer.ReadWord(data)
		if err != nil {
			return errno.Value(err)
		}
		remoteLen, err := ptracer.ReadWord(data + wordSize)
		if err != nil {
			return errno.Value(err)
		}
		local := make([]byte, remoteLen)
		iov := unix.Iovec{Base: &local[0]}
		iov.SetLen(int(remoteLen))
		if _, e := rawPtrace(unix.PTRACE_GETREGSET, int(pid), uintptr(address), uintptr(unsafe.Pointer(&iov))); e != 0 {
			return errno.Value(errno.New(e))
		}
		gotLen := iov.Len
		if uint64(gotLen) < remoteLen {
			remoteLen = uint64(gotLen)
		}
		if err := ptracer.WriteBytes(remoteBase, local[:remoteLen]); err != nil {
			return errno.Value(err)
		}
		if err := ptracer.WriteWord(data+wordSize, remoteLen); err != nil {
			return errno.Value(err)
		}
		return 0

	case unix.PTRACE_SETREGSET:
		wordSize := uint64(8)
		if ptracer.Is32on64() {
			wordSize = 4
		}
		remoteBase, err := ptracer.ReadWord(data)
		if err != nil {
			return errno.Value(err)
		}
		remoteLen, err := ptracer.ReadWord(data + wordSize)
		if err != nil {
			return errno.Value(err)
		}
		local, err := ptracer.ReadBytes(remoteBase, int(remoteLen))
		if err != nil {
			return errno.Value(err)
		}
		iov := unix.Iovec{Base: &local[0]}
		iov.SetLen(len(local))
		if _, e := rawPtrace(unix.PTRACE_SETREGSET, int(pid), uintptr(address), uintptr(unsafe.Pointer(&iov))); e != 0 {
			return errno.Value(errno.New(e))
		}
		return 0

	case ptraceGetVFPRegs, ptraceGetFPXRegs:
		note.Note(note.WARNING, note.INTERNAL, "ptrace request not supported yet")
		return errno.Value(errno.New(syscall.ENOTSUP))

	case ptraceSetSyscall:
		if _, e := rawPtrace(ptraceSetSyscall, int(pid), uintptr(address), uintptr(data)); e != 0 {
			return errno.Value(errno.New(e))
		}
		return 0

	default:
		note.Note(note.WARNING, note.INTERNAL, "ptrace request %#x not supported yet", request)
		return errno.Value(errno.New(syscall.ENOTSUP))
	}

	// Requests that fall through to here restart the ptracee, folding
	// in whatever event PRoot itself still owes it.
	signal := st.Event4Proot.Value
	if st.Event4Proot.Pending {
		signal = ptracee.HandleEvent(st.Event4Proot.Value)
	}
	if forcedSignal != -1 {
		signal = forcedSignal
	}
	ptracee.RestartTracee(signal)
	return result
}

func translateTraceme(tracee Tracee, reg Registry) int64 {
	ptracer := tracee.Parent()
	ptracee := tracee

	st := ptracee.PtraceeState()
	if ptracer == nil || st.Ptracer != nil || ptracee == ptracer {
		return errno.Value(errno.New(syscall.EPERM))
	}

	AttachToPtracer(ptracee, ptracer)

	// If the would-be ptracer is already blocked in the real kernel's
	// wait4, it will never see this ptracee's events; SIGSTOP wakes it
	// into PRoot's own emulated wait.
	ptracerState := ptracer.PtracerState()
	if ptracerState.WaitsIn == WaitsInKernel {
		if err := reg.Kill(ptracer.Pid(), syscall.SIGSTOP); err != nil {
			note.Note(note.WARNING, note.INTERNAL, "can't wake ptracer %d", ptracer.Pid())
		} else {
			ptracerState.WaitsIn = WaitsInProot
		}
	}

	return 0
}

func translateAttach(ptracer Tracee, reg Registry, pid int) int64 {
	ptracee := reg.GetTracee(ptracer, pid, false)
	if ptracee == nil {
		return errno.Value(errno.New(syscall.ESRCH))
	}

	st := ptracee.PtraceeState()
	if st.Ptracer != nil || ptracee == ptracer {
		return errno.Value(errno.New(syscall.EPERM))
	}

	AttachToPtracer(ptracee, ptracer)

	// The tracee is sent a SIGSTOP, but will not necessarily have
	// stopped by the completion of this call (man 2 ptrace).
	_ = reg.Kill(pid, syscall.SIGSTOP)

	return 0
}
