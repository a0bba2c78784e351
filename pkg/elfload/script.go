package elfload

import (
	"encoding/binary"

	"github.com/prootgo/prootgo/pkg/arch"
)

// Action is a load-script opcode (spec.md §6, bit-exact tracer-loader ABI).
type Action uint64

const (
	OpenNext Action = iota
	Open
	MmapFile
	MmapAnon
	MakeStackExec
	StartTraced
	Start
)

// AuxvEntry is a packed (type, value) pair terminated by AT_NULL,
// synthesized both into the load script's START statement and into the
// /proc/<pid>/auxv file (spec.md §6).
type AuxvEntry struct {
	Type  uint64
	Value uint64
}

const (
	atPhdr   = 3
	atPhent  = 4
	atPhnum  = 5
	atBase   = 7
	atEntry  = 9
	atExecfn = 31
	atNull   = 0
)

// Script builds a load-script buffer for one ABI profile.
type Script struct {
	Profile *arch.Profile
}

// NewScript starts an empty script for the given ABI profile.
func NewScript(profile *arch.Profile) *Script {
	return &Script{Profile: profile}
}

type pendingStringRef struct {
	wordIndex int
	strIndex  int
}

// BuildResult is the packed load-script buffer plus everything the
// caller needs to finish placing it in tracee memory.
type BuildResult struct {
	Buffer      []byte
	Auxv        []AuxvEntry
	// RelocWords holds the word indices of every address computed
	// relative to the buffer's start; Relocate adds the buffer's
	// eventual tracee base address to each before it is written.
	RelocWords []int
}

// Build lays out the full executable (and optional interpreter) into a
// StartTraced/Start statement sequence, per spec.md §4.5/§6, and
// returns the packed byte buffer plus the AT_PHDR/AT_ENTRY/etc auxv
// entries recorded for /proc/<pid>/auxv synthesis.
func (s *Script) Build(exe, interp *LoadInfo, traced bool, sp uint64) (*BuildResult, error) {
	wordSize := s.Profile.WordSize

	var words []uint64
	var refs []pendingStringRef
	var strOrder []string

	// addString registers str in the trailing string area without
	// touching the opcode stream, returning its index.
	addString := func(str string) int {
		strOrder = append(strOrder, str)
		return len(strOrder) - 1
	}

	// emitString registers str AND appends a placeholder word to the
	// opcode stream, for opcodes whose payload is a string address
	// (OPEN/OPEN_NEXT).
	emitString := func(str string) {
		refs = append(refs, pendingStringRef{wordIndex: len(words), strIndex: addString(str)})
		words = append(words, 0) // patched below
	}

	words = append(words, uint64(Open))
	emitString(exe.UserPath)

	for _, m := range exe.Mappings {
		words = append(words, mmapWords(m)...)
	}

	if interp != nil {
		words = append(words, uint64(OpenNext))
		emitString(interp.UserPath)
		for _, m := range interp.Mappings {
			words = append(words, mmapWords(m)...)
		}
	}

	needsExecStack := exe.NeedsExecStack || (interp != nil && interp.NeedsExecStack)
	if needsExecStack {
		stackPage := sp &^ (uint64(PageSize) - 1)
		words = append(words, uint64(MakeStackExec), stackPage)
	}

	entry := exe.EntryPoint
	var base uint64
	if interp != nil {
		entry = interp.EntryPoint
		base = interp.Mappings[0].Addr
	}

	rawArgv0 := exe.RawUserPath
	if rawArgv0 == "" {
		rawArgv0 = exe.UserPath
	}
	execfnIdx := addString(rawArgv0)

	startAction := Start
	if traced {
		startAction = StartTraced
	}
	words = append(words,
		uint64(startAction),
		sp,
		entry,
		exe.PhdrAddr,
		uint64(exe.Phentsize),
		uint64(len(exe.Phdrs)),
		exe.EntryPoint,
		0, // at_execfn word, patched below
	)
	execfnWordIdx := len(words) - 1
	refs = append(refs, pendingStringRef{wordIndex: execfnWordIdx, strIndex: execfnIdx})

	// Lay out strings right after the opcode words, word-aligned.
	stringAreaStart := len(words) * int(wordSize)
	offsets := make([]uint64, len(strOrder))
	cursor := stringAreaStart
	var strBytes []byte
	for i, str := range strOrder {
		offsets[i] = uint64(cursor)
		b := append([]byte(str), 0)
		strBytes = append(strBytes, b...)
		cursor += len(b)
	}

	// Patch string-address placeholders now that offsets are known.
	// Addresses are relative to the script buffer's eventual base;
	// callers translate these to absolute tracee addresses before
	// writing (Script.Relocate).
	for _, ref := range refs {
		words[ref.wordIndex] = offsets[ref.strIndex]
	}

	auxv := []AuxvEntry{
		{Type: atPhdr, Value: exe.PhdrAddr},
		{Type: atPhent, Value: uint64(exe.Phentsize)},
		{Type: atPhnum, Value: uint64(len(exe.Phdrs))},
		{Type: atEntry, Value: exe.EntryPoint},
		{Type: atExecfn, Value: offsets[execfnIdx]},
	}
	if base != 0 {
		auxv = append(auxv, AuxvEntry{Type: atBase, Value: base})
	}
	auxv = append(auxv, AuxvEntry{Type: atNull, Value: 0})

	buf := packWords(words, wordSize)
	buf = append(buf, strBytes...)

	align := uint64(s.Profile.StackAlignment)
	if align > 1 {
		pad := (align - uint64(len(buf))%align) % align
		buf = append(buf, make([]byte, pad)...)
	}

	wordIndices := make([]int, len(refs))
	for i, ref := range refs {
		wordIndices[i] = ref.wordIndex
	}

	return &BuildResult{Buffer: buf, Auxv: auxv, RelocWords: wordIndices}, nil
}

// Relocate adds base to every string-address word in buf (the script's
// eventual tracee memory location), given the word offsets recorded
// during Build. Called by the execve orchestrator once alloc_mem has
// picked the destination address.
func Relocate(buf []byte, wordSize int, base uint64, wordIndices []int) {
	for _, idx := range wordIndices {
		off := idx * wordSize
		if wordSize == 8 {
			v := binary.LittleEndian.Uint64(buf[off:]) + base
			binary.LittleEndian.PutUint64(buf[off:], v)
		} else {
			v := uint64(binary.LittleEndian.Uint32(buf[off:])) + base
			binary.LittleEndian.PutUint32(buf[off:], uint32(v))
		}
	}
}

func mmapWords(m Mapping) []uint64 {
	action := MmapFile
	if m.Fd == -1 && m.Flags&mapAnonymous != 0 {
		action = MmapAnon
	}
	return []uint64{
		uint64(action),
		m.Addr,
		m.Length,
		uint64(m.Prot),
		m.Offset,
		m.ClearLength,
	}
}

func packWords(words []uint64, wordSize int) []byte {
	buf := make([]byte, 0, len(words)*wordSize)
	for _, w := range words {
		if wordSize == 8 {
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], w)
			buf = append(buf, b[:]...)
		} else {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], uint32(w))
			buf = append(buf, b[:]...)
		}
	}
	return buf
}
