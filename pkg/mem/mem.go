// Package mem implements word-granularity tracee memory access via
// ptrace, plus the bulk string/buffer helpers and the tracee-side stack
// allocator built on top of it (spec.md §4.1).
package mem

import (
	"encoding/binary"
	"fmt"
	"os"
	"syscall"

	"github.com/prootgo/prootgo/pkg/arch"
	"github.com/prootgo/prootgo/pkg/errno"
	"github.com/prootgo/prootgo/pkg/regs"
)

// PathMax mirrors Linux's PATH_MAX.
const PathMax = 4096

var hostEndian = binary.LittleEndian // amd64 and arm64 are both LE

// IO reads and writes one tracee's memory.
type IO struct {
	PID int
}

// ReadWord reads a single machine word at addr via PTRACE_PEEKDATA.
func (m *IO) ReadWord(addr uintptr) (uintptr, error) {
	var data [8]byte
	n, err := syscall.PtracePeekData(m.PID, addr, data[:])
	if err != nil {
		return 0, translatePtraceErr(err)
	}
	if n != len(data) {
		return 0, translatePtraceErr(syscall.EFAULT)
	}
	return uintptr(hostEndian.Uint64(data[:])), nil
}

// WriteWord writes a single machine word at addr via PTRACE_POKEDATA.
func (m *IO) WriteWord(addr uintptr, value uintptr) error {
	var data [8]byte
	hostEndian.PutUint64(data[:], uint64(value))
	n, err := syscall.PtracePokeData(m.PID, addr, data[:])
	if err != nil {
		return translatePtraceErr(err)
	}
	if n != len(data) {
		return translatePtraceErr(syscall.EFAULT)
	}
	return nil
}

// ReadBuf bulk-reads len(buf) bytes starting at addr. When /proc/<pid>/mem
// is available this does one read(2) instead of ceil(n/wordsize)
// PEEKDATA round-trips — the same technique sysbox-fs's memParserProcfs
// uses as its /proc/pid/mem fallback path for reading syscall string
// arguments. PTRACE_PEEKDATA remains the fallback for kernels/containers
// where /proc/<pid>/mem isn't readable (e.g. some restricted sandboxes).
func (m *IO) ReadBuf(addr uintptr, buf []byte) (int, error) {
	if f, err := os.OpenFile(fmt.Sprintf("/proc/%d/mem", m.PID), os.O_RDONLY, 0); err == nil {
		defer f.Close()
		n, rerr := f.ReadAt(buf, int64(addr))
		if rerr == nil || n == len(buf) {
			return n, nil
		}
	}
	return syscall.PtracePeekData(m.PID, addr, buf)
}

// WriteBuf bulk-writes buf to tracee memory at addr. For a tail shorter
// than a word, a peek-modify-poke sequence preserves the bytes outside
// the write window (spec.md §4.1).
func (m *IO) WriteBuf(addr uintptr, buf []byte) (int, error) {
	full := (len(buf) / 8) * 8
	if full > 0 {
		n, err := syscall.PtracePokeData(m.PID, addr, buf[:full])
		if err != nil {
			return n, translatePtraceErr(err)
		}
	}
	tail := buf[full:]
	if len(tail) == 0 {
		return len(buf), nil
	}

	tailAddr := addr + uintptr(full)
	word, err := m.ReadWord(tailAddr)
	if err != nil {
		return full, err
	}
	var existing [8]byte
	hostEndian.PutUint64(existing[:], uint64(word))
	copy(existing[:], tail)
	if _, err := syscall.PtracePokeData(m.PID, tailAddr, existing[:]); err != nil {
		return full, translatePtraceErr(err)
	}
	return len(buf), nil
}

// ReadString reads a NUL-terminated string, word at a time, bounded by
// maxLen (spec.md §4.1 "stops at the first NUL byte in a word").
func (m *IO) ReadString(addr uintptr, maxLen int) (string, error) {
	if addr == 0 {
		return "", nil
	}
	out := make([]byte, 0, 64)
	for offset := 0; offset < maxLen; offset += 8 {
		var word [8]byte
		n, err := m.ReadBuf(addr+uintptr(offset), word[:])
		if err != nil {
			return "", err
		}
		for i := 0; i < n; i++ {
			if word[i] == 0 {
				return string(out), nil
			}
			if len(out) >= maxLen {
				return "", errno.New(syscall.ENAMETOOLONG)
			}
			out = append(out, word[i])
		}
	}
	return "", errno.New(syscall.ENAMETOOLONG)
}

// ReadPath is ReadString bounded by PATH_MAX, returning -ENAMETOOLONG if
// the tracee's string would not fit (spec.md §4.1).
func (m *IO) ReadPath(addr uintptr) (string, error) {
	s, err := m.ReadString(addr, PathMax-1)
	if err != nil {
		return "", errno.New(syscall.ENAMETOOLONG)
	}
	return s, nil
}

// WriteString writes s plus a terminating NUL to tracee memory at addr.
func (m *IO) WriteString(addr uintptr, s string) error {
	buf := append([]byte(s), 0)
	_, err := m.WriteBuf(addr, buf)
	return err
}

// Allocator grows a tracee's guest stack downward to stage strings and
// the load script (spec.md §4.1 alloc_mem). It is only valid to call at
// sysenter, since sysexit restores the ORIGINAL stack pointer.
type Allocator struct {
	Bank    *regs.Bank
	Profile *arch.Profile
}

// Alloc reserves n bytes below the current stack pointer, adding the ABI
// red-zone iff the stack pointer has not moved from its ORIGINAL value,
// and returns the new bottom address.
func (a *Allocator) Alloc(n uintptr) uintptr {
	sp := uintptr(a.Bank.Peek(regs.CURRENT, arch.STACK_POINTER))
	origSP := uintptr(a.Bank.Peek(regs.ORIGINAL, arch.STACK_POINTER))

	redZone := uintptr(0)
	if sp == origSP {
		redZone = uintptr(a.Profile.RedZoneSize)
	}

	newSP := sp - redZone - n
	newSP &^= uintptr(a.Profile.WordSize - 1) // keep word-aligned
	a.Bank.Poke(regs.CURRENT, arch.STACK_POINTER, uint64(newSP))
	return newSP
}

func translatePtraceErr(err error) error {
	if err == nil {
		return nil
	}
	// The kernel reports tracee memory failures as either EIO or
	// EFAULT depending on the ptrace variant; both normalize to
	// EFAULT (spec.md §7).
	if err == syscall.EIO || err == syscall.EFAULT {
		return errno.New(syscall.EFAULT)
	}
	if e, ok := err.(syscall.Errno); ok {
		return errno.New(e)
	}
	return errno.New(syscall.EFAULT)
}
