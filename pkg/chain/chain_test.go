package chain

import (
	"syscall"
	"testing"

	"github.com/prootgo/prootgo/pkg/arch"
	"github.com/prootgo/prootgo/pkg/regs"
)

func TestRegisterAndAdvance(t *testing.T) {
	bank := regs.NewBank(arch.Amd64, false)
	bank.Poke(regs.CURRENT, arch.INSTR_POINTER, 0x1000+uint64(arch.Amd64.SystrapSize))

	var q Queue
	if !q.Empty() {
		t.Fatal("new Queue should be empty")
	}

	q.Register(arch.PR_getpid, [6]uint64{1, 2, 3, 4, 5, 6})
	if q.Empty() {
		t.Fatal("Queue should not be empty after Register")
	}

	continueChain := Advance(bank, arch.Amd64, &q)
	if !continueChain {
		t.Fatal("Advance should report continueChain=true when a syscall was dequeued")
	}
	if !q.Empty() {
		t.Fatal("Advance should have drained the single queued entry")
	}

	if got := bank.Sysnum(regs.CURRENT); got != arch.PR_getpid {
		t.Errorf("Sysnum(CURRENT) = %v, want %v", got, arch.PR_getpid)
	}
	if got := bank.Arg(regs.CURRENT, 0); got != 1 {
		t.Errorf("Arg(0) = %d, want 1", got)
	}
	if got := bank.Peek(regs.CURRENT, arch.INSTR_POINTER); got != 0x1000 {
		t.Errorf("instruction pointer = %#x, want %#x (rewound by SystrapSize)", got, 0x1000)
	}
}

func TestAdvanceDrainedQueueForcesFinalResult(t *testing.T) {
	bank := regs.NewBank(arch.Amd64, false)

	var q Queue
	q.ForceFinalResult = true
	q.FinalResult = 42

	continueChain := Advance(bank, arch.Amd64, &q)
	if continueChain {
		t.Fatal("Advance on an empty queue should report continueChain=false")
	}
	if got := bank.Peek(regs.CURRENT, arch.SYSARG_RESULT); got != 42 {
		t.Errorf("SYSARG_RESULT = %d, want 42", got)
	}
	if q.ForceFinalResult {
		t.Error("ForceFinalResult should be cleared after Advance")
	}
}

func TestRestartOriginal(t *testing.T) {
	bank := regs.NewBank(arch.Amd64, false)
	bank.Poke(regs.ORIGINAL, arch.SYSARG_NUM, func() uint64 {
		n, _ := arch.Amd64.ArchNumOf(arch.PR_open)
		return uint64(n)
	}())

	var q Queue
	RestartOriginal(bank, &q)

	if q.Empty() {
		t.Fatal("RestartOriginal should have queued the ORIGINAL syscall")
	}
	next := q.Next()
	if next.Sysnum != arch.PR_open {
		t.Errorf("queued Sysnum = %v, want %v", next.Sysnum, arch.PR_open)
	}
}

func TestRestartCurrentAsChainedRejectsReentry(t *testing.T) {
	bank := regs.NewBank(arch.Amd64, false)
	var q Queue

	if err := RestartCurrentAsChained(bank, &q); err != nil {
		t.Fatalf("first RestartCurrentAsChained: %v", err)
	}
	if q.WorkaroundState != WorkaroundProcessFaultyCall {
		t.Fatalf("WorkaroundState = %v, want WorkaroundProcessFaultyCall", q.WorkaroundState)
	}

	if err := RestartCurrentAsChained(bank, &q); err != syscall.EINVAL {
		t.Fatalf("second RestartCurrentAsChained = %v, want EINVAL", err)
	}
}
