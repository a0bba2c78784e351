package pathengine

import (
	"os"
	"strings"
	"syscall"

	"github.com/prootgo/prootgo/pkg/errno"
)

// MaxSymlinks bounds canonicalization recursion depth (spec.md §4.2).
const MaxSymlinks = 40

// NameMax bounds a single path component, mirroring Linux NAME_MAX.
const NameMax = 255

// Finality classifies how a path component ended (spec.md §4.2;
// original_source/path/canon.c next_component()).
type Finality int

const (
	NotFinal Finality = iota
	FinalNormal
	FinalSlash
	FinalDot
)

func (f Finality) isFinal() bool { return f != NotFinal }

// HostFS is the subset of filesystem access canonicalize needs. A real
// tracee satisfies it with plain os.Lstat/os.Readlink against the host
// filesystem; tests substitute an in-memory fake.
type HostFS interface {
	Lstat(hostPath string) (mode os.FileMode, err error)
	Readlink(hostPath string) (string, error)
}

// GlueBuilder materializes the glue filesystem (spec.md §4.2) when a
// binding's host side doesn't yet exist. Returns the synthesized mode,
// or an error if materialization isn't possible (no glue context).
type GlueBuilder interface {
	BuildGlue(guestPath, hostPath string, finality Finality) (os.FileMode, error)
}

// ProcResolver emulates /proc symlinks that the kernel itself would
// generate dynamically (spec.md §4.2 readlink_proc / readlink_proc2).
type ProcResolver interface {
	// ReadlinkProc resolves a /proc guest path. action is one of the
	// ProcAction constants below.
	ReadlinkProc(guestPath, component string, cmp Comparison) (result string, action ProcAction, err error)
}

// ProcAction mirrors the original's CANONICALIZE / DONT_CANONICALIZE
// dispatch result from readlink_proc.
type ProcAction int

const (
	ProcCanonicalize ProcAction = iota
	ProcDontCanonicalize
	ProcPassthrough
)

// Resolver bundles everything canonicalize needs beyond the binding
// namespace itself. A nil GlueBuilder/ProcResolver disables that
// feature (no glue synthesis, no /proc emulation) for simpler callers.
type Resolver struct {
	NS    *Namespace
	FS    HostFS
	Glue  GlueBuilder
	Proc  ProcResolver
}

// Canonicalize resolves userPath (absolute, or relative to the already
// partially-built guestPath accumulator) into a fully resolved guest
// path, per spec.md §4.2 / original_source/path/canon.c canonicalize().
func (r *Resolver) Canonicalize(userPath string, derefFinal bool, guestPath string, recursionLevel int) (string, error) {
	if recursionLevel > MaxSymlinks {
		return "", errno.New(syscall.ELOOP)
	}

	if len(userPath) > 0 && userPath[0] == '/' {
		guestPath = "/"
	} else if len(guestPath) == 0 || guestPath[0] != '/' {
		return "", errno.New(syscall.EINVAL)
	}

	if _, _, err := r.substituteBindingStat(NotFinal, guestPath); err != nil {
		return "", err
	}

	cursor := userPath
	finality := NotFinal

	for !finality.isFinal() {
		component, nextFinality, err := nextComponent(&cursor)
		if err != nil {
			return "", err
		}
		finality = nextFinality

		if component == "." {
			if finality.isFinal() {
				finality = FinalDot
			}
			continue
		}

		if component == ".." {
			guestPath = popComponent(guestPath)
			if finality.isFinal() {
				finality = FinalSlash
			}
			continue
		}

		scratchPath := Join(guestPath, component)

		hostStatus, hostPath, err := r.substituteBindingStat(finality, scratchPath)
		if err != nil {
			return "", err
		}

		if hostStatus <= 0 || (finality == FinalNormal && !derefFinal) {
			guestPath = Join(guestPath, component)
			continue
		}

		// It's a symlink that must be dereferenced and
		// re-canonicalized so we never escape the rootfs.
		var scratch string
		handled := false

		if r.Proc != nil {
			cmp := ComparePaths("/proc", guestPath)
			if cmp == Equal || cmp == Path1IsPrefix {
				result, action, perr := r.Proc.ReadlinkProc(scratchPath, component, cmp)
				if perr != nil {
					return "", perr
				}
				switch action {
				case ProcCanonicalize:
					scratch = result
					handled = true
				case ProcDontCanonicalize:
					if finality == FinalNormal {
						return scratchPath, nil
					}
					scratch = result
					handled = true
				}
			}
		}

		if !handled {
			target, rerr := r.FS.Readlink(hostPath)
			if rerr != nil {
				return "", translateFSErr(rerr)
			}
			scratch = r.detranslate(target)
		}

		newGuestPath, cerr := r.Canonicalize(scratch, true, guestPath, recursionLevel+1)
		if cerr != nil {
			return "", cerr
		}
		guestPath = newGuestPath

		if _, _, err := r.substituteBindingStat(finality, guestPath); err != nil {
			return "", err
		}
	}

	if recursionLevel == 0 {
		switch finality {
		case FinalNormal:
		case FinalSlash:
			guestPath = Join(guestPath, "")
		case FinalDot:
			guestPath = Join(guestPath, ".")
		}
	}

	return guestPath, nil
}

// substituteBindingStat resolves bindings for guestPath into a host
// path and lstats it, enforcing that a non-final component is a
// directory or a symlink. Returns 1 if it's a symlink, 0 otherwise.
func (r *Resolver) substituteBindingStat(finality Finality, guestPath string) (int, string, error) {
	hostPath, _, _ := r.NS.Substitute(Guest, guestPath)

	mode, err := r.FS.Lstat(hostPath)
	var statErr error
	if err != nil {
		statErr = err
		if r.Glue != nil {
			if m, gerr := r.Glue.BuildGlue(guestPath, hostPath, finality); gerr == nil {
				mode = m
				statErr = nil
			}
		}
	}

	isDir := mode&os.ModeDir != 0
	isLink := mode&os.ModeSymlink != 0

	if !finality.isFinal() && !isDir && !isLink {
		if statErr != nil {
			return 0, hostPath, errno.New(syscall.ENOENT)
		}
		return 0, hostPath, errno.New(syscall.ENOTDIR)
	}

	if isLink {
		return 1, hostPath, nil
	}
	return 0, hostPath, nil
}

// Detranslate is the exported form of detranslate, used by callers that
// need to turn an absolute host path (e.g. one read back from a
// /proc/<pid>/fd/<n> symlink) into its guest-side equivalent outside of
// a Canonicalize call.
func (r *Resolver) Detranslate(hostPath string) string {
	return r.detranslate(hostPath)
}

// detranslate strips the rootfs prefix from a host path and applies any
// binding's inverse substitution (spec.md §4.2 De-translation).
func (r *Resolver) detranslate(hostPath string) string {
	root := r.NS.Root()
	if root != "" && root != "/" && strings.HasPrefix(hostPath, root) {
		rest := strings.TrimPrefix(hostPath, root)
		if rest == "" {
			hostPath = "/"
		} else if strings.HasPrefix(rest, "/") {
			hostPath = rest
		} else {
			hostPath = "/" + rest
		}
	}
	if guest, matched, substituted := r.NS.Substitute(Host, hostPath); matched && substituted {
		return guest
	}
	return hostPath
}

// popComponent removes the last component from path, mirroring
// pop_component: never pops past "/".
func popComponent(path string) string {
	if path == "/" {
		return "/"
	}
	idx := strings.LastIndexByte(strings.TrimSuffix(path, "/"), '/')
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

// nextComponent extracts the next "/"-delimited component from *cursor,
// advancing it past any separators, and classifies the finality of the
// split exactly as original_source/path/canon.c next_component does.
func nextComponent(cursor *string) (string, Finality, error) {
	s := *cursor
	i := 0
	for i < len(s) && s[i] == '/' {
		i++
	}
	start := i
	for i < len(s) && s[i] != '/' {
		i++
	}
	component := s[start:i]
	if len(component) >= NameMax {
		return "", NotFinal, errno.New(syscall.ENAMETOOLONG)
	}

	wantDir := i < len(s) && s[i] == '/'
	for i < len(s) && s[i] == '/' {
		i++
	}
	*cursor = s[i:]

	if i >= len(s) {
		if wantDir {
			return component, FinalSlash, nil
		}
		return component, FinalNormal, nil
	}
	return component, NotFinal, nil
}

func translateFSErr(err error) error {
	if e, ok := err.(syscall.Errno); ok {
		return errno.New(e)
	}
	if os.IsNotExist(err) {
		return errno.New(syscall.ENOENT)
	}
	return errno.New(syscall.EIO)
}
