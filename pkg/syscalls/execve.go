package syscalls

import (
	"bufio"
	"os"
	"strings"
	"syscall"

	"github.com/prootgo/prootgo/pkg/arch"
	"github.com/prootgo/prootgo/pkg/elfload"
	"github.com/prootgo/prootgo/pkg/errno"
	"github.com/prootgo/prootgo/pkg/heap"
	"github.com/prootgo/prootgo/pkg/mem"
	"github.com/prootgo/prootgo/pkg/regs"
	"github.com/prootgo/prootgo/pkg/tracee"
)

// maxShebangDepth bounds #!-interpreter recursion, mirroring the
// kernel's own MAXSYMLINKS-derived limit on nested binfmt_script
// resolution (spec.md §4.5).
const maxShebangDepth = 4

// execState is the per-pid bookkeeping execve needs: bssEnd survives for
// the whole lifetime of the loaded image (brk emulation consults it on
// every brk(2) call), while exe/interp/hostPath are only valid between
// one execve's enter and exit stop.
type execState struct {
	bssEnd uint64

	exe      *elfload.LoadInfo
	interp   *elfload.LoadInfo
	hostPath string
	rawArgv0 string
}

// enterExecve resolves the guest path (shebang-expanding as needed),
// parses its ELF (and interpreter), and substitutes the loader binary as
// the syscall's actual target, per spec.md §4.5's enter stage.
func (e *Engine) enterExecve(tr *tracee.Tracee, sysnum arch.Sysnum) int64 {
	dirFdIdx, pathIdx, argvIdx, envpIdx := execveArgLayout(sysnum)
	dirFd := -1
	if dirFdIdx >= 0 {
		dirFd = int(int32(tr.Bank().Arg(regs.CURRENT, dirFdIdx)))
	}

	addr := tr.Bank().Arg(regs.CURRENT, pathIdx)
	userPath, err := tr.MemIO().ReadPath(uintptr(addr))
	if err != nil {
		return cancel(err)
	}

	argv, err := e.readStringVector(tr, tr.Bank().Arg(regs.CURRENT, argvIdx))
	if err != nil {
		return cancel(err)
	}

	rawArgv0 := userPath
	if len(argv) > 0 {
		rawArgv0 = argv[0]
	}

	hostPath, guestPath, newArgv, err := e.resolveShebangChain(tr, dirFd, userPath, argv)
	if err != nil {
		return cancel(err)
	}

	profile := tr.Profile()
	base := elfload.LoaderBase{
		Executable: profile.LoaderBaseExecutable,
		Interp:     profile.LoaderBaseInterp,
	}
	exe, err := elfload.Load(hostPath, guestPath, rawArgv0, base, false)
	if err != nil {
		return cancel(err)
	}

	st := e.state(tr)
	st.exe = exe
	st.interp = exe.Interp
	st.hostPath = hostPath
	st.rawArgv0 = rawArgv0

	loaderPath := e.Config.LoaderPath
	if tr.Is32on64() {
		loaderPath = e.Config.Loader32Path
	}

	alloc := mem.Allocator{Bank: tr.Bank(), Profile: profile}
	loaderAddr := alloc.Alloc(uintptr(len(loaderPath) + 1))
	if err := tr.MemIO().WriteString(uintptr(loaderAddr), loaderPath); err != nil {
		return cancel(err)
	}
	tr.Bank().SetArg(regs.CURRENT, pathIdx, uint64(loaderAddr))

	if len(newArgv) != len(argv) || !sameStrings(newArgv, argv) {
		argvAddr, werr := e.writeStringVector(tr, newArgv)
		if werr != nil {
			return cancel(werr)
		}
		tr.Bank().SetArg(regs.CURRENT, argvIdx, argvAddr)
	}

	_ = envpIdx // envp is passed through unchanged; shebang expansion never touches it.

	return 0
}

// exitExecve stages the load script once the kernel has finished
// exec'ing the loader binary and established its stack (spec.md §4.5
// exit stage).
func (e *Engine) exitExecve(tr *tracee.Tracee, sysnum arch.Sysnum) {
	result := int64(tr.Bank().Peek(regs.CURRENT, arch.SYSARG_RESULT))
	if result < 0 {
		e.clearState(tr)
		return
	}

	st := e.state(tr)
	if st.exe == nil {
		return
	}
	exe, interp, hostPath := st.exe, st.interp, st.hostPath

	profile := tr.Profile()
	kernelSP := tr.Bank().Peek(regs.CURRENT, arch.STACK_POINTER)

	script := elfload.NewScript(profile)
	built, err := script.Build(exe, interp, true, kernelSP)
	if err != nil {
		st.exe, st.interp, st.hostPath, st.rawArgv0 = nil, nil, "", ""
		return
	}

	newSP := kernelSP - uint64(len(built.Buffer))
	elfload.Relocate(built.Buffer, profile.WordSize, newSP, built.RelocWords)

	if err := tr.WriteBytes(newSP, built.Buffer); err != nil {
		st.exe, st.interp, st.hostPath, st.rawArgv0 = nil, nil, "", ""
		return
	}

	tr.Bank().Poke(regs.CURRENT, arch.STACK_POINTER, newSP)
	tr.Bank().Poke(regs.CURRENT, arch.USERARG_1, newSP)

	tr.Exe = hostPath
	tr.Heap = &heap.Heap{}
	st.bssEnd = lastMappingEnd(exe)

	// Clear the transient fields; bssEnd stays for brk's benefit.
	st.exe, st.interp, st.hostPath, st.rawArgv0 = nil, nil, "", ""
}

func lastMappingEnd(li *elfload.LoadInfo) uint64 {
	if len(li.Mappings) == 0 {
		return 0
	}
	m := li.Mappings[len(li.Mappings)-1]
	return m.Addr + m.Length
}

// execveArgLayout returns the (dirfd, path, argv, envp) argument
// positions for execve vs execveat; execve has no dirfd argument so -1
// is reported in its place.
func execveArgLayout(sysnum arch.Sysnum) (dirFdIdx, pathIdx, argvIdx, envpIdx int) {
	if sysnum == arch.PR_execveat {
		return 0, 1, 2, 3
	}
	return -1, 0, 1, 2
}

// resolveShebangChain follows #!interpreter lines up to maxShebangDepth
// deep, translating the guest path at each step and rewriting argv as
// (interpreter, optional-arg, original-argv0, original-argv[1:]) per
// spec.md §4.5. It returns the final ELF's host and guest paths and the
// fully rewritten argv.
func (e *Engine) resolveShebangChain(tr *tracee.Tracee, dirFd int, userPath string, argv []string) (hostPath, guestPath string, newArgv []string, err error) {
	curPath := userPath
	curArgv := argv
	curDirFd := dirFd

	for depth := 0; ; depth++ {
		if depth > maxShebangDepth {
			return "", "", nil, errno.New(syscall.ELOOP)
		}

		fd := atFdcwd
		if curDirFd >= 0 && depth == 0 {
			fd = curDirFd
		}
		host, terr := e.translatePath(tr, int32(fd), curPath, true)
		if terr != nil {
			return "", "", nil, terr
		}

		interp, arg, ok := readShebang(host)
		if !ok {
			return host, curPath, curArgv, nil
		}

		rest := curArgv
		if len(rest) > 0 {
			rest = rest[1:]
		}
		rebuilt := []string{interp}
		if arg != "" {
			rebuilt = append(rebuilt, arg)
		}
		rebuilt = append(rebuilt, curPath)
		rebuilt = append(rebuilt, rest...)

		curPath = interp
		curArgv = rebuilt
		curDirFd = -1
	}
}

// readShebang inspects the first line of a host file for a "#!interp
// [arg]" directive. ok is false (not an error) for an ordinary ELF or
// any file that can't be opened/read.
func readShebang(hostPath string) (interp, arg string, ok bool) {
	f, err := os.Open(hostPath)
	if err != nil {
		return "", "", false
	}
	defer f.Close()

	var magic [2]byte
	if _, err := f.Read(magic[:]); err != nil || magic[0] != '#' || magic[1] != '!' {
		return "", "", false
	}

	if _, err := f.Seek(2, 0); err != nil {
		return "", "", false
	}
	line, _ := bufio.NewReader(f).ReadString('\n')
	line = strings.TrimRight(line, "\r\n")
	line = strings.TrimLeft(line, " \t")
	if line == "" {
		return "", "", false
	}

	fields := strings.SplitN(line, " ", 2)
	interp = fields[0]
	if len(fields) > 1 {
		arg = strings.TrimSpace(fields[1])
	}
	return interp, arg, true
}

// readStringVector reads a NULL-terminated argv/envp array of pointers
// out of tracee memory, then each pointed-to C string.
func (e *Engine) readStringVector(tr *tracee.Tracee, addr uint64) ([]string, error) {
	if addr == 0 {
		return nil, nil
	}
	wordSize := tr.Profile().WordSize
	var out []string
	for i := 0; ; i++ {
		wordAddr := addr + uint64(i*wordSize)
		word, err := tr.ReadWord(wordAddr)
		if err != nil {
			return nil, err
		}
		if word == 0 {
			break
		}
		s, err := tr.MemIO().ReadString(uintptr(word), mem.PathMax-1)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// writeStringVector stages a rewritten argv/envp vector (strings
// followed by the NULL-terminated pointer array) below the tracee's
// current stack pointer, returning the array's address.
func (e *Engine) writeStringVector(tr *tracee.Tracee, vec []string) (uint64, error) {
	alloc := mem.Allocator{Bank: tr.Bank(), Profile: tr.Profile()}
	wordSize := tr.Profile().WordSize

	ptrs := make([]uint64, len(vec))
	for i := len(vec) - 1; i >= 0; i-- {
		strAddr := alloc.Alloc(uintptr(len(vec[i]) + 1))
		if err := tr.MemIO().WriteString(strAddr, vec[i]); err != nil {
			return 0, err
		}
		ptrs[i] = uint64(strAddr)
	}

	arrAddr := alloc.Alloc(uintptr((len(ptrs) + 1) * wordSize))
	for i, p := range ptrs {
		if err := tr.WriteWord(uint64(arrAddr)+uint64(i*wordSize), p); err != nil {
			return 0, err
		}
	}
	if err := tr.WriteWord(uint64(arrAddr)+uint64(len(ptrs)*wordSize), 0); err != nil {
		return 0, err
	}
	return uint64(arrAddr), nil
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
