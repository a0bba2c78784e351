package heap

import (
	"testing"

	"github.com/prootgo/prootgo/pkg/arch"
	"github.com/prootgo/prootgo/pkg/regs"
)

// refetch mimics Bank.Fetch pulling fresh kernel state into every
// version at a syscall stop, so whatever an enter-stage Poke left in
// CURRENT is what the following exit-stage Fetch reads back, as if the
// kernel had actually run it. (At a real sysexit pkg/tracer puts
// ORIGINAL back to its sysenter values; TranslateBrkExit reads ORIGINAL
// only after an unrewritten brk, where the two agree.)
func refetch(bank *regs.Bank, sysnum arch.Sysnum, result uint64) {
	n, _ := arch.Amd64.ArchNumOf(sysnum)
	arg1 := bank.Peek(regs.CURRENT, arch.SYSARG_1)
	arg3 := bank.Peek(regs.CURRENT, arch.SYSARG_3)
	for _, v := range []regs.Version{regs.ORIGINAL, regs.MODIFIED, regs.CURRENT} {
		bank.Poke(v, arch.SYSARG_NUM, uint64(n))
		bank.Poke(v, arch.SYSARG_1, arg1)
		bank.Poke(v, arch.SYSARG_3, arg3)
		bank.Poke(v, arch.SYSARG_RESULT, result)
	}
}

func TestTranslateBrkFirstCallThenGrow(t *testing.T) {
	bank := regs.NewBank(arch.Amd64, false)
	h := &Heap{}
	const bssEnd = 0x600000

	// First brk(NULL): rewritten into an anonymous mmap at bssEnd
	// (x86_64 has no mmap2).
	bank.Poke(regs.CURRENT, arch.SYSARG_1, 0)
	TranslateBrkEnter(bank, arch.Amd64, h, bssEnd, false)

	if got := bank.Sysnum(regs.CURRENT); got != arch.PR_mmap {
		t.Fatalf("enter rewrote sysnum to %v, want PR_mmap", got)
	}
	if got := bank.Peek(regs.CURRENT, arch.SYSARG_1); got != bssEnd {
		t.Fatalf("mmap addr = %#x, want %#x", got, uint64(bssEnd))
	}

	// The kernel "runs" the mmap and returns bssEnd as the mapping
	// address; refetch simulates the exit-stage Fetch seeing that.
	refetch(bank, arch.PR_mmap, bssEnd)
	TranslateBrkExit(bank, arch.Amd64, h)

	wantBase := uint64(bssEnd) + offset
	if h.Base != wantBase {
		t.Fatalf("h.Base = %#x, want %#x", h.Base, wantBase)
	}
	if h.Size != 0 {
		t.Fatalf("h.Size = %d, want 0", h.Size)
	}
	if got := bank.Peek(regs.CURRENT, arch.SYSARG_RESULT); got != h.Base {
		t.Fatalf("brk() result = %#x, want %#x (new break)", got, h.Base)
	}

	// Grow the heap by 0x2000: rewritten into an mremap.
	bank.Poke(regs.CURRENT, arch.SYSARG_1, h.Base+0x2000)
	TranslateBrkEnter(bank, arch.Amd64, h, bssEnd, false)

	if got := bank.Sysnum(regs.CURRENT); got != arch.PR_mremap {
		t.Fatalf("enter rewrote sysnum to %v, want PR_mremap", got)
	}

	refetch(bank, arch.PR_mremap, h.Base-offset)
	bank.Poke(regs.MODIFIED, arch.SYSARG_3, 0x2000+offset)
	TranslateBrkExit(bank, arch.Amd64, h)

	if h.Size != 0x2000 {
		t.Fatalf("h.Size = %#x, want 0x2000", h.Size)
	}
	if got := bank.Peek(regs.CURRENT, arch.SYSARG_RESULT); got != h.Base+h.Size {
		t.Fatalf("brk() result = %#x, want %#x", got, h.Base+h.Size)
	}
}

func TestTranslateBrkEnterShrinkBelowBaseIsCancelled(t *testing.T) {
	bank := regs.NewBank(arch.Amd64, false)
	h := &Heap{Base: 0x601000, Size: 0x1000}

	bank.Poke(regs.CURRENT, arch.SYSARG_1, h.Base-1)
	TranslateBrkEnter(bank, arch.Amd64, h, 0x600000, false)

	if got := bank.Sysnum(regs.CURRENT); got != arch.Void {
		t.Fatalf("sysnum = %v, want Void (cancelled)", got)
	}
}

func TestTranslateBrkDisabledSkipsRewrite(t *testing.T) {
	bank := regs.NewBank(arch.Amd64, false)
	h := &Heap{Disabled: true}

	bank.Poke(regs.CURRENT, arch.SYSARG_NUM, 999)
	TranslateBrkEnter(bank, arch.Amd64, h, 0x600000, false)

	if got := bank.Peek(regs.CURRENT, arch.SYSARG_NUM); got != 999 {
		t.Fatalf("disabled heap should leave the syscall untouched, got sysnum reg %d", got)
	}
}

func TestTranslateBrkExitDetectsRealKernelBrk(t *testing.T) {
	bank := regs.NewBank(arch.Amd64, false)
	h := &Heap{}

	bank.Poke(regs.CURRENT, arch.SYSARG_1, 0x700000)
	refetch(bank, arch.PR_brk, 0x700000)

	TranslateBrkExit(bank, arch.Amd64, h)

	if !h.Disabled {
		t.Fatal("expected heap emulation to disable itself when the kernel handled brk directly")
	}
}
