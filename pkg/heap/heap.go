// Package heap emulates brk(2) on top of mmap/mremap (spec.md §4.6,
// original_source/syscall/heap.c). The kernel brk syscall is cancelled
// the first time it's seen and replaced by an anonymous mapping placed
// right after the BSS; subsequent calls resize that mapping with
// mremap instead of ever reaching the kernel's real brk.
package heap

import (
	"syscall"

	"github.com/prootgo/prootgo/pkg/arch"
	"github.com/prootgo/prootgo/pkg/note"
	"github.com/prootgo/prootgo/pkg/regs"
)

// offset discards the first page of the emulated heap mapping, since a
// heap's size can be zero but a mapping's length cannot.
const offset = 0x1000

// Heap is a tracee's brk emulation state (spec.md §3), shared across
// tracees under CLONE_VM.
type Heap struct {
	Base     uint64
	Size     uint64
	Disabled bool
}

// TranslateBrkEnter rewrites a brk(2) call at sysenter. bssEnd is the
// address right after the BSS mapping (load_info's last Mapping's
// addr+length). The heap mapping is made with PR_mmap2, or with PR_mmap
// when isAarch32 is set or the profile has no mmap2 (x86_64, AArch64).
func TranslateBrkEnter(bank *regs.Bank, profile *arch.Profile, h *Heap, bssEnd uint64, isAarch32 bool) {
	if h.Disabled {
		return
	}

	newBrk := bank.Peek(regs.CURRENT, arch.SYSARG_1)

	if h.Base == 0 {
		// First brk(2) PRoot has observed for this tracee. A
		// nonzero request here is suspicious: it means brk was
		// called before execve's first enter-stage hook ran (e.g.
		// seccomp filter installation triggering an allocator).
		if newBrk != 0 {
			note.Note(note.WARNING, note.INTERNAL, "process is doing suspicious brk()")
			return
		}

		newBrkAddr := bssEnd

		sysnum := arch.PR_mmap2
		if _, ok := profile.ArchNumOf(sysnum); isAarch32 || !ok {
			sysnum = arch.PR_mmap
		}

		bank.SetSysnum(regs.CURRENT, sysnum)
		bank.SetArg(regs.CURRENT, 0, newBrkAddr)
		bank.SetArg(regs.CURRENT, 1, offset)
		bank.SetArg(regs.CURRENT, 2, syscall.PROT_READ|syscall.PROT_WRITE)
		bank.SetArg(regs.CURRENT, 3, syscall.MAP_PRIVATE|syscall.MAP_ANONYMOUS)
		bank.SetArg(regs.CURRENT, 4, ^uint64(0)) // fd = -1
		bank.SetArg(regs.CURRENT, 5, 0)
		return
	}

	if newBrk < h.Base {
		bank.SetSysnum(regs.CURRENT, arch.Void)
		return
	}

	newSize := newBrk - h.Base
	oldSize := h.Size

	bank.SetSysnum(regs.CURRENT, arch.PR_mremap)
	bank.SetArg(regs.CURRENT, 0, h.Base-offset)
	bank.SetArg(regs.CURRENT, 1, oldSize+offset)
	bank.SetArg(regs.CURRENT, 2, newSize+offset)
	bank.SetArg(regs.CURRENT, 3, 0)
	bank.SetArg(regs.CURRENT, 4, 0)
}

// TranslateBrkExit completes the rewrite at sysexit, translating the
// mmap/mremap/void result back into the brk(2) "new program break"
// convention and detecting the disable-on-unexpected-success case
// (spec.md §4.6 / SPEC_FULL.md §C.5): if an unmodified brk(nonzero)
// somehow succeeded with exactly the requested value — meaning the
// kernel brk wasn't actually intercepted, e.g. under a nested tracer —
// heap emulation is disabled for the remainder of this tracee's life.
func TranslateBrkExit(bank *regs.Bank, profile *arch.Profile, h *Heap) {
	if h.Disabled {
		return
	}

	sysnum := bank.Sysnum(regs.MODIFIED)
	result := bank.Peek(regs.CURRENT, arch.SYSARG_RESULT)
	asErrno := int64(result)

	switch sysnum {
	case arch.Void:
		bank.Poke(regs.CURRENT, arch.SYSARG_RESULT, h.Base+h.Size)

	case arch.PR_mmap, arch.PR_mmap2:
		if asErrno < 0 && asErrno > -4096 {
			bank.Poke(regs.CURRENT, arch.SYSARG_RESULT, 0)
			return
		}
		h.Base = result + offset
		h.Size = 0
		bank.Poke(regs.CURRENT, arch.SYSARG_RESULT, h.Base+h.Size)

	case arch.PR_mremap:
		if (asErrno < 0 && asErrno > -4096) || h.Base != result+offset {
			bank.Poke(regs.CURRENT, arch.SYSARG_RESULT, h.Base+h.Size)
			return
		}
		h.Size = bank.Peek(regs.MODIFIED, arch.SYSARG_3) - offset
		bank.Poke(regs.CURRENT, arch.SYSARG_RESULT, h.Base+h.Size)

	case arch.PR_brk:
		// Confirms the suspicious call from TranslateBrkEnter was
		// in fact legitimate: the kernel returned exactly the
		// address that was requested, so it really did handle brk
		// itself rather than PRoot.
		if result == bank.Peek(regs.ORIGINAL, arch.SYSARG_1) {
			h.Disabled = true
		}
	}
}
