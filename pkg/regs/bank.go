// Package regs implements the tracee register bank (spec.md §3, §4.1): a
// single ptrace fetch per syscall stop, three (or four, including the
// seccomp-rewrite snapshot) named versions of the register set, a dirty
// bit that elides the push-back when nothing changed, and an accessor
// indexed by symbolic register name rather than by raw struct field —
// generalizing the teacher's per-arch Syscall()/Arg()/SetArg() methods
// (pkg/tracer/regs_amd64.go, regs_arm64.go) to the full Reg enum and to
// the ORIGINAL/MODIFIED/CURRENT/ORIGINAL_SECCOMP_REWRITE versioning
// spec.md demands.
package regs

import (
	"fmt"
	"syscall"

	"github.com/prootgo/prootgo/pkg/arch"
)

// Version names one of the four register snapshots a tracee carries.
type Version int

const (
	ORIGINAL Version = iota
	MODIFIED
	CURRENT
	ORIGINAL_SECCOMP_REWRITE
	numVersions
)

// ArchRegs abstracts the raw syscall.PtraceRegs access for one ISA, so
// Bank stays architecture-agnostic. amd64Regs/arm64Regs below implement
// it, mirroring the teacher's build-tagged regs_amd64.go/regs_arm64.go.
type ArchRegs interface {
	Get(reg arch.Reg) uint64
	Set(reg arch.Reg, v uint64)
}

// Bank holds one tracee's register state across all four versions.
type Bank struct {
	profile  *arch.Profile
	raw      [numVersions]syscall.PtraceRegs
	view     [numVersions]ArchRegs
	dirtySet [numVersions]map[arch.Reg]bool
	Is32On64 bool
}

// NewBank creates an empty bank for the given ABI profile.
func NewBank(profile *arch.Profile, is32on64 bool) *Bank {
	b := &Bank{profile: profile, Is32On64: is32on64}
	for v := Version(0); v < numVersions; v++ {
		b.dirtySet[v] = make(map[arch.Reg]bool)
		b.view[v] = newArchView(&b.raw[v], is32on64)
	}
	return b
}

// Fetch pulls the live GP register set from the kernel into CURRENT, then
// snapshots it into ORIGINAL and MODIFIED too (both start out identical
// to what the kernel handed us). This is the tracer's single ptrace
// GETREGS per syscall stop (spec.md §4.1).
func (b *Bank) Fetch(pid int) error {
	var regs syscall.PtraceRegs
	if err := syscall.PtraceGetRegs(pid, &regs); err != nil {
		return fmt.Errorf("ptrace getregs: %w", err)
	}
	b.raw[CURRENT] = regs
	b.raw[ORIGINAL] = regs
	b.raw[MODIFIED] = regs
	for v := Version(0); v < numVersions; v++ {
		b.dirtySet[v] = make(map[arch.Reg]bool)
	}
	return nil
}

// SnapshotSeccompRewrite captures the current register set into
// ORIGINAL_SECCOMP_REWRITE, taken at SIGSYS time so the seccomp rewriter
// can restore it after a blocked-syscall rewrite (spec.md §3, §4.8).
func (b *Bank) SnapshotSeccompRewrite() {
	b.raw[ORIGINAL_SECCOMP_REWRITE] = b.raw[CURRENT]
}

// Push writes CURRENT back to the kernel, but only if something was
// actually modified since the last Fetch (the dirty-bit elision spec.md
// §4.1 requires).
func (b *Bank) Push(pid int) error {
	if len(b.dirtySet[CURRENT]) == 0 {
		return nil
	}
	if err := syscall.PtraceSetRegs(pid, &b.raw[CURRENT]); err != nil {
		return fmt.Errorf("ptrace setregs: %w", err)
	}
	b.dirtySet[CURRENT] = make(map[arch.Reg]bool)
	return nil
}

// Peek reads a register from the given version. 32-on-64 mode masks to
// the low 32 bits, per spec.md §4.1.
func (b *Bank) Peek(version Version, reg arch.Reg) uint64 {
	v := b.view[version].Get(reg)
	if b.Is32On64 {
		return v & 0xffffffff
	}
	return v
}

// Poke writes a register into CURRENT only (the only version that is
// ever pushed back); writing ORIGINAL/MODIFIED is for bookkeeping by
// rewriters that need to remember pre-rewrite state and never reaches
// the kernel directly. 32-on-64 mode only overwrites the low 32 bits,
// leaving the upper half of the kernel's 64-bit slot untouched, as
// required for POKEUSER compatibility (spec.md §4.1, §4.9 POKE* requests).
func (b *Bank) Poke(version Version, reg arch.Reg, value uint64) {
	if b.Is32On64 {
		cur := b.view[version].Get(reg)
		value = (cur &^ 0xffffffff) | (value & 0xffffffff)
	}
	b.view[version].Set(reg, value)
	b.dirtySet[version][reg] = true
}

// Dirty reports whether reg was modified in CURRENT since the last Fetch.
func (b *Bank) Dirty(reg arch.Reg) bool {
	return b.dirtySet[CURRENT][reg]
}

// Sysnum/SetSysnum are convenience wrappers over the SYSARG_NUM register,
// translating to/from the neutral arch.Sysnum space via the bank's
// profile.
func (b *Bank) Sysnum(version Version) arch.Sysnum {
	n := int64(b.Peek(version, arch.SYSARG_NUM))
	if void, _ := b.profile.ArchNumOf(arch.Void); n == void {
		return arch.Void
	}
	return b.profile.SysnumOf(n)
}

func (b *Bank) SetSysnum(version Version, s arch.Sysnum) {
	n, ok := b.profile.ArchNumOf(s)
	if !ok {
		n, _ = b.profile.ArchNumOf(arch.Void)
	}
	b.Poke(version, arch.SYSARG_NUM, uint64(n))
}

// Args returns all six syscall argument registers from the given
// version in one call.
func (b *Bank) Args(version Version) [6]uint64 {
	return [6]uint64{
		b.Peek(version, arch.SYSARG_1),
		b.Peek(version, arch.SYSARG_2),
		b.Peek(version, arch.SYSARG_3),
		b.Peek(version, arch.SYSARG_4),
		b.Peek(version, arch.SYSARG_5),
		b.Peek(version, arch.SYSARG_6),
	}
}

func argReg(index int) arch.Reg {
	return [...]arch.Reg{arch.SYSARG_1, arch.SYSARG_2, arch.SYSARG_3, arch.SYSARG_4, arch.SYSARG_5, arch.SYSARG_6}[index]
}

// Arg/SetArg index a single syscall argument (0-5) in the given version.
func (b *Bank) Arg(version Version, index int) uint64     { return b.Peek(version, argReg(index)) }
func (b *Bank) SetArg(version Version, index int, v uint64) { b.Poke(version, argReg(index), v) }

// PtraceRegsPtr exposes the raw kernel register struct for the given
// version, for code (ptraceemu GETREGS/SETREGS emulation) that must
// expose the whole struct rather than one field at a time.
func (b *Bank) PtraceRegsPtr(version Version) *syscall.PtraceRegs {
	return &b.raw[version]
}
