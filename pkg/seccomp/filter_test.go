package seccomp

import (
	"testing"

	"github.com/prootgo/prootgo/pkg/arch"
)

func TestBuildEntriesResolvesArchNumbers(t *testing.T) {
	sysexitNeeded := map[arch.Sysnum]bool{arch.PR_execve: true}

	entries := BuildEntries(arch.Amd64, sysexitNeeded)
	if len(entries) == 0 {
		t.Fatal("expected at least one resolved entry")
	}

	wantExecve, _ := arch.Amd64.ArchNumOf(arch.PR_execve)
	var found bool
	for _, e := range entries {
		if e.Sysnum == wantExecve {
			found = true
			if !e.NeedsSysexit {
				t.Error("execve entry should have NeedsSysexit=true")
			}
		}
	}
	if !found {
		t.Fatal("execve not found among resolved entries")
	}
}

func TestBuildEntriesSkipsUnmappedSyscalls(t *testing.T) {
	// arch.Unknown (0) is never a real DefaultEntries member, so no
	// direct "unmapped" case exists on Amd64 itself; instead confirm
	// every resolved entry really does round-trip back to a DefaultEntries
	// member, i.e. nothing bogus slipped through ArchNumOf.
	entries := BuildEntries(arch.Amd64, nil)
	for _, e := range entries {
		s := arch.Amd64.SysnumOf(e.Sysnum)
		if s == arch.Unknown {
			t.Errorf("entry %d resolved to an unknown neutral syscall", e.Sysnum)
		}
	}
}

func TestProgramAssembleProducesInstructions(t *testing.T) {
	p := &Program{
		AuditArch: 0xc000003e, // AUDIT_ARCH_X86_64
		Entries:   BuildEntries(arch.Amd64, map[arch.Sysnum]bool{arch.PR_execve: true}),
	}
	insns, err := p.Assemble()
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	// arch-check (4 insns) + nr load (1) + 2 insns per entry + final allow.
	want := 5 + 2*len(p.Entries) + 1
	if len(insns) != want {
		t.Errorf("Assemble produced %d instructions, want %d", len(insns), want)
	}
}

func TestProgramAssembleEmptyEntries(t *testing.T) {
	p := &Program{AuditArch: 0xc000003e}
	insns, err := p.Assemble()
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(insns) != 6 {
		t.Fatalf("got %d instructions for an empty table, want 6 (arch check + nr load + allow)", len(insns))
	}
}
