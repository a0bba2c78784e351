package syscalls

import (
	"encoding/binary"
	"os"
	"syscall"

	"github.com/prootgo/prootgo/pkg/arch"
	"github.com/prootgo/prootgo/pkg/errno"
	"github.com/prootgo/prootgo/pkg/mem"
	"github.com/prootgo/prootgo/pkg/pathengine"
	"github.com/prootgo/prootgo/pkg/regs"
	"github.com/prootgo/prootgo/pkg/tracee"
)

// struct sockaddr_un has an identical layout on every architecture
// prootgo targets: a 2-byte sa_family_t followed by a 108-byte path.
const (
	sunFamilyAF    = 1 // AF_UNIX
	sunPathOffset  = 2
	sunPathSize    = 108
	sizeofSockaddr = sunPathOffset + sunPathSize
)

// readSockaddrUn parses a struct sockaddr_un out of tr's memory at addr,
// returning ok=false (not an error) if it isn't a named AF_UNIX address
// (original_source/syscall/socket.c read_sockaddr_un).
func readSockaddrUn(tr *tracee.Tracee, addr uint64, size int) (path string, ok bool, err error) {
	if size <= sunPathOffset || size > sizeofSockaddr {
		return "", false, nil
	}
	buf, err := tr.ReadBytes(addr, size)
	if err != nil {
		return "", false, err
	}
	if binary.LittleEndian.Uint16(buf[:2]) != sunFamilyAF {
		return "", false, nil
	}
	pathBytes := buf[sunPathOffset:]
	end := 0
	for end < len(pathBytes) && pathBytes[end] != 0 {
		end++
	}
	if end == 0 {
		return "", false, nil
	}
	return string(pathBytes[:end]), true, nil
}

// enterSocketAddr translates the AF_UNIX pathname embedded in a
// bind(2)/connect(2) sockaddr, staging the rewritten struct on tr's
// stack and rewriting the address argument to point at it (spec.md
// §4.4, original_source/syscall/socket.c translate_socketcall_enter).
// addrIdx/sizeIdx are 0-based argument indices for (addr, addrlen).
func (e *Engine) enterSocketAddr(tr *tracee.Tracee, addrIdx, sizeIdx int) int64 {
	addr := tr.Bank().Arg(regs.CURRENT, addrIdx)
	if addr == 0 {
		return 0
	}
	size := int(tr.Bank().Arg(regs.CURRENT, sizeIdx))

	userPath, ok, err := readSockaddrUn(tr, addr, size)
	if err != nil {
		return cancel(err)
	}
	if !ok {
		return 0
	}

	hostPath, err := e.translatePath(tr, atFdcwd, userPath, true)
	if err != nil {
		return cancel(err)
	}

	if len(hostPath) > sunPathSize {
		shortened, serr := e.shortenSocketPath(tr, hostPath)
		if serr != nil {
			return cancel(serr)
		}
		hostPath = shortened
	}

	buf := make([]byte, size)
	copy(buf, []byte{sunFamilyAF, 0})
	copy(buf[sunPathOffset:], hostPath)

	alloc := mem.Allocator{Bank: tr.Bank(), Profile: tr.Profile()}
	newAddr := alloc.Alloc(uintptr(size))
	if err := tr.WriteBytes(uint64(newAddr), buf); err != nil {
		return cancel(err)
	}
	tr.Bank().SetArg(regs.CURRENT, addrIdx, uint64(newAddr))
	return 0
}

// shortenSocketPath creates an empty temp file and binds it to the
// guest path that would otherwise be too long to fit sun_path, the same
// workaround original_source/syscall/socket.c uses (mkstemp + an
// induced binding so later getsockname/getpeername can detranslate the
// shortened name back to what the guest actually asked for).
func (e *Engine) shortenSocketPath(tr *tracee.Tracee, hostPath string) (string, error) {
	f, err := os.CreateTemp(e.Config.TempDir, "prootgo-sock-")
	if err != nil {
		return "", errno.New(syscall.EINVAL)
	}
	shortPath := f.Name()
	f.Close()
	if len(shortPath) > sunPathSize {
		os.Remove(shortPath)
		return "", errno.New(syscall.EINVAL)
	}

	guestPath := hostPath
	if tr.NS != nil {
		guestPath = e.resolver(tr).Detranslate(hostPath)
		tr.NS.AddInduced(shortPath, guestPath)
	}
	return shortPath, nil
}

// exitSocketAddr detranslates the AF_UNIX pathname a just-completed
// accept(2)/accept4(2)/getsockname(2)/getpeername(2) wrote back into the
// tracee's buffer, and fixes up the in/out addrlen to match (spec.md
// §4.4, original_source/syscall/socket.c translate_socketcall_exit).
func (e *Engine) exitSocketAddr(tr *tracee.Tracee) {
	result := int64(tr.Bank().Peek(regs.CURRENT, arch.SYSARG_RESULT))
	if result < 0 {
		return
	}

	addr := tr.Bank().Arg(regs.ORIGINAL, 1)
	sizeAddr := tr.Bank().Arg(regs.ORIGINAL, 2)
	if addr == 0 || sizeAddr == 0 {
		return
	}

	sizeWord, err := tr.ReadWord(sizeAddr)
	if err != nil {
		return
	}
	size := int(int32(sizeWord))
	if size <= 0 {
		return
	}
	if size > sizeofSockaddr {
		size = sizeofSockaddr
	}

	userPath, ok, err := readSockaddrUn(tr, addr, size)
	if err != nil || !ok {
		return
	}

	guestPath := userPath
	if tr.NS != nil {
		guestPath = e.resolver(tr).Detranslate(userPath)
	}

	truncated := false
	newSize := sunPathOffset + len(guestPath) + 1
	if newSize > size {
		newSize = size
		truncated = true
	}

	buf := make([]byte, newSize)
	copy(buf, []byte{sunFamilyAF, 0})
	copy(buf[sunPathOffset:], guestPath)
	if err := tr.WriteBytes(addr, buf); err != nil {
		return
	}

	finalSize := newSize
	if truncated {
		finalSize = size + 1
	}
	_ = tr.WriteWord(sizeAddr, uint64(uint32(finalSize)))
}

// exitStatfs fakes /dev/shm as tmpfs for callers that key off f_type,
// the one statfs(2) quirk PRoot itself works around (spec.md §4.8,
// original_source/tracee/seccomp.c's "Fake /dev/shm being tmpfs").
func (e *Engine) exitStatfs(tr *tracee.Tracee) {
	const tmpfsMagic = 0x01021994

	result := int64(tr.Bank().Peek(regs.CURRENT, arch.SYSARG_RESULT))
	if result != 0 {
		return
	}

	pathAddr := tr.Bank().Arg(regs.ORIGINAL, 0)
	userPath, err := tr.MemIO().ReadPath(uintptr(pathAddr))
	if err != nil {
		return
	}
	if pathengine.ComparePaths("/dev/shm", userPath) != pathengine.Equal {
		return
	}

	bufAddr := tr.Bank().Arg(regs.ORIGINAL, 1)
	// f_type is the first 8-byte-aligned word of struct statfs.
	_ = tr.WriteWord(bufAddr, tmpfsMagic)
}
