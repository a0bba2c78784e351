package elfload

import (
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/prootgo/prootgo/pkg/errno"
)

func TestProgFlagsToProt(t *testing.T) {
	tests := []struct {
		name  string
		flags elf.ProgFlag
		want  uint32
	}{
		{"none", 0, 0},
		{"read only", elf.PF_R, 0x1},
		{"read write", elf.PF_R | elf.PF_W, 0x3},
		{"read exec", elf.PF_R | elf.PF_X, 0x5},
		{"rwx", elf.PF_R | elf.PF_W | elf.PF_X, 0x7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := progFlagsToProt(tt.flags); got != tt.want {
				t.Errorf("progFlagsToProt(%v) = %#x, want %#x", tt.flags, got, tt.want)
			}
		})
	}
}

func TestBuildLoadMappingsFileOnly(t *testing.T) {
	ph := elf.ProgHeader{
		Vaddr:  0x1000,
		Filesz: 0x500,
		Memsz:  0x500,
		Off:    0,
		Flags:  elf.PF_R | elf.PF_X,
	}
	mappings := buildLoadMappings(ph, 0)
	if len(mappings) != 1 {
		t.Fatalf("got %d mappings, want 1 (no BSS)", len(mappings))
	}
	m := mappings[0]
	if m.Addr != 0x1000 {
		t.Errorf("Addr = %#x, want %#x", m.Addr, uint64(0x1000))
	}
	if m.Fd != FileMapFd {
		t.Errorf("Fd = %d, want FileMapFd", m.Fd)
	}
	if m.Prot != 0x5 {
		t.Errorf("Prot = %#x, want 0x5 (R|X)", m.Prot)
	}
}

func TestBuildLoadMappingsWithBSS(t *testing.T) {
	ph := elf.ProgHeader{
		Vaddr:  0x2000,
		Filesz: 0x100,
		Memsz:  0x3000, // memsz far exceeds filesz: BSS needs its own anon page
		Off:    0,
		Flags:  elf.PF_R | elf.PF_W,
	}
	mappings := buildLoadMappings(ph, 0)
	if len(mappings) != 2 {
		t.Fatalf("got %d mappings, want 2 (file + anonymous BSS tail)", len(mappings))
	}
	anon := mappings[1]
	if anon.Flags&mapAnonymous == 0 {
		t.Errorf("second mapping should be anonymous, flags=%#x", anon.Flags)
	}
	if anon.Fd != -1 {
		t.Errorf("anonymous mapping Fd = %d, want -1", anon.Fd)
	}
}

func TestBuildLoadMappingsWithFixedBase(t *testing.T) {
	ph := elf.ProgHeader{
		Vaddr:  0x1000,
		Filesz: 0x500,
		Memsz:  0x500,
		Flags:  elf.PF_R,
	}
	const base = 0x555500000000
	mappings := buildLoadMappings(ph, base)
	if mappings[0].Addr != base+0x1000 {
		t.Errorf("Addr = %#x, want %#x (relocated by fixedBase)", mappings[0].Addr, uint64(base+0x1000))
	}
}

func TestReadPhdrLayout64(t *testing.T) {
	var hdr [64]byte
	order := binary.LittleEndian
	order.PutUint64(hdr[32:40], 0x40)   // e_phoff
	order.PutUint16(hdr[54:56], 56)     // e_phentsize
	order.PutUint16(hdr[56:58], 9)      // e_phnum

	dir := t.TempDir()
	path := filepath.Join(dir, "hdr")
	if err := os.WriteFile(path, hdr[:], 0o644); err != nil {
		t.Fatalf("writing test header: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening test header: %v", err)
	}
	defer f.Close()

	phoff, phentsize, phnum, err := readPhdrLayout(f, elf.ELFCLASS64, order)
	if err != nil {
		t.Fatalf("readPhdrLayout: %v", err)
	}
	if phoff != 0x40 || phentsize != 56 || phnum != 9 {
		t.Errorf("got (%#x, %d, %d), want (0x40, 56, 9)", phoff, phentsize, phnum)
	}
}

func TestTranslateOpenErrMissingFile(t *testing.T) {
	_, err := os.Open(filepath.Join(t.TempDir(), "does-not-exist"))
	got := translateOpenErr(err)
	if got == nil {
		t.Fatal("expected a non-nil error")
	}
	ne, ok := got.(*errno.NegErrno)
	if !ok {
		t.Fatalf("translateOpenErr returned %T, want *errno.NegErrno", got)
	}
	if ne.Errno != syscall.ENOENT {
		t.Errorf("translateOpenErr errno = %v, want ENOENT", ne.Errno)
	}
}
