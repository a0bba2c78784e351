// Package elfload builds the LoadInfo/Mapping model and the tracer-loader
// load script described in spec.md §4.5/§6. ELF header parsing itself
// uses the standard library's debug/elf — none of the retrieval pack's
// third-party dependencies offer an ELF reader, and debug/elf is the
// idiomatic, actively-maintained choice for this (see DESIGN.md).
package elfload

import (
	"debug/elf"
	"encoding/binary"
	"os"
	"syscall"

	"github.com/prootgo/prootgo/pkg/errno"
)

// PageSize is the host page size assumed for segment alignment.
const PageSize = 4096

// Mapping is one memory region the loader must establish for an ELF
// object (spec.md §3).
type Mapping struct {
	Addr        uint64
	Length      uint64
	ClearLength uint64
	Prot        uint32
	Flags       uint32
	Fd          int32 // -1 means "fd opened by the loader"
	Offset      uint64
}

// FileMapFd is the sentinel Fd value for a file-backed mapping, meaning
// "use the file descriptor the loader opened for this object".
const FileMapFd = -1

// LoadInfo describes one ELF object (the executable, or its one level
// of interpreter) ready to be turned into load-script statements
// (spec.md §3).
type LoadInfo struct {
	HostPath       string
	UserPath       string
	RawUserPath    string
	Header         elf.FileHeader
	Phdrs          []elf.ProgHeader
	Phentsize      uint16
	Mappings       []Mapping
	NeedsExecStack bool
	EntryPoint     uint64
	PhdrAddr       uint64
	Interp         *LoadInfo
}

// LoaderBase picks the fixed PIE relocation base for this object
// (executable vs interpreter), per the arch profile (spec.md §4.3/§4.5).
type LoaderBase struct {
	Executable uint64
	Interp     uint64
}

// Load parses hostPath's ELF header and program headers and builds its
// Mappings, recursing one level into PT_INTERP if present.
func Load(hostPath, userPath, rawUserPath string, base LoaderBase, isInterp bool) (*LoadInfo, error) {
	f, err := os.Open(hostPath)
	if err != nil {
		return nil, translateOpenErr(err)
	}
	defer f.Close()

	ef, err := elf.NewFile(f)
	if err != nil {
		return nil, errno.New(syscall.ENOEXEC)
	}
	defer ef.Close()

	phoff, phentsize, _, err := readPhdrLayout(f, ef.Class, ef.ByteOrder)
	if err != nil {
		return nil, err
	}

	li := &LoadInfo{
		HostPath:    hostPath,
		UserPath:    userPath,
		RawUserPath: rawUserPath,
		Header:      ef.FileHeader,
		EntryPoint:  ef.Entry,
		Phentsize:   phentsize,
	}

	pie := ef.Type == elf.ET_DYN
	var fixedBase uint64
	if pie {
		if isInterp {
			fixedBase = base.Interp
		} else {
			fixedBase = base.Executable
		}
	}

	for _, prog := range ef.Progs {
		ph := prog.ProgHeader
		li.Phdrs = append(li.Phdrs, ph)

		switch ph.Type {
		case elf.PT_LOAD:
			mappings := buildLoadMappings(ph, fixedBase)
			li.Mappings = append(li.Mappings, mappings...)

		case elf.PT_INTERP:
			if isInterp {
				// An interpreter must not itself require an
				// interpreter (spec.md §3 LoadInfo, depth 1 only).
				continue
			}
			interpPath, ierr := readInterpPath(hostPath, ph)
			if ierr != nil {
				return nil, ierr
			}
			interp, ierr := Load(interpPath, interpPath, interpPath, base, true)
			if ierr != nil {
				return nil, ierr
			}
			li.Interp = interp

		case elf.PT_GNU_STACK:
			if ph.Flags&elf.PF_X != 0 {
				li.NeedsExecStack = true
			}
		}
	}

	li.EntryPoint += fixedBase
	// AT_PHDR is the ELF header's own e_phoff, relocated the same way
	// as everything else in a PIE (spec.md §4.5 AT_PHDR).
	li.PhdrAddr = phoff + fixedBase

	return li, nil
}

// readPhdrLayout reads e_phoff/e_phnum/e_phentsize straight out of the
// raw ELF header: debug/elf's high-level File doesn't surface these
// once it has parsed Progs, but the loader's auxv needs the offset
// verbatim (spec.md §6 AT_PHDR/AT_PHENT/AT_PHNUM).
func readPhdrLayout(f *os.File, class elf.Class, order binary.ByteOrder) (phoff uint64, phentsize, phnum uint16, err error) {
	var hdr [64]byte
	if _, err = f.ReadAt(hdr[:], 0); err != nil {
		return 0, 0, 0, translateOpenErr(err)
	}

	if class == elf.ELFCLASS32 {
		phoff = uint64(order.Uint32(hdr[28:32]))
		phentsize = order.Uint16(hdr[42:44])
		phnum = order.Uint16(hdr[44:46])
	} else {
		phoff = order.Uint64(hdr[32:40])
		phentsize = order.Uint16(hdr[54:56])
		phnum = order.Uint16(hdr[56:58])
	}
	return phoff, phentsize, phnum, nil
}

// buildLoadMappings turns one PT_LOAD program header into one
// file-backed Mapping, plus an anonymous tail Mapping when memsz
// exceeds filesz (the BSS case), per spec.md §4.5.
func buildLoadMappings(ph elf.ProgHeader, fixedBase uint64) []Mapping {
	vaddr := ph.Vaddr + fixedBase
	addr := vaddr &^ (PageSize - 1)
	fileEnd := (vaddr + ph.Filesz + PageSize - 1) &^ (PageSize - 1)

	prot := progFlagsToProt(ph.Flags)

	file := Mapping{
		Addr:   addr,
		Length: fileEnd - addr,
		Prot:   prot,
		Flags:  mapPrivate | mapFixed,
		Fd:     FileMapFd,
		Offset: ph.Off &^ (PageSize - 1),
	}

	if ph.Memsz <= ph.Filesz {
		return []Mapping{file}
	}

	// BSS: zero-fill tail beyond the file portion. clear_length is the
	// residual bytes inside the last file-mapped page; anything past
	// the page boundary becomes a second anonymous mapping.
	fileMappedEnd := addr + file.Length
	bssEnd := (vaddr + ph.Memsz + PageSize - 1) &^ (PageSize - 1)

	lastPageFileBytes := (vaddr + ph.Filesz) - (fileMappedEnd - PageSize)
	if fileMappedEnd > vaddr+ph.Filesz {
		file.ClearLength = PageSize - lastPageFileBytes
	}

	if bssEnd <= fileMappedEnd {
		return []Mapping{file}
	}

	anon := Mapping{
		Addr:   fileMappedEnd,
		Length: bssEnd - fileMappedEnd,
		Prot:   prot,
		Flags:  mapPrivate | mapAnonymous | mapFixed,
		Fd:     -1,
		Offset: 0,
	}
	return []Mapping{file, anon}
}

const (
	mapPrivate   = 0x02
	mapFixed     = 0x10
	mapAnonymous = 0x20
)

func progFlagsToProt(flags elf.ProgFlag) uint32 {
	var prot uint32
	if flags&elf.PF_R != 0 {
		prot |= 0x1
	}
	if flags&elf.PF_W != 0 {
		prot |= 0x2
	}
	if flags&elf.PF_X != 0 {
		prot |= 0x4
	}
	return prot
}

func readInterpPath(hostPath string, ph elf.ProgHeader) (string, error) {
	f, err := os.Open(hostPath)
	if err != nil {
		return "", translateOpenErr(err)
	}
	defer f.Close()

	buf := make([]byte, ph.Filesz)
	if _, err := f.ReadAt(buf, int64(ph.Off)); err != nil {
		return "", translateOpenErr(err)
	}
	n := len(buf)
	for i, b := range buf {
		if b == 0 {
			n = i
			break
		}
	}
	return string(buf[:n]), nil
}

func translateOpenErr(err error) error {
	if pe, ok := err.(*os.PathError); ok {
		if e, ok := pe.Err.(syscall.Errno); ok {
			return errno.New(e)
		}
	}
	return errno.New(syscall.ENOENT)
}
