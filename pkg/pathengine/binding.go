package pathengine

import (
	"github.com/prootgo/prootgo/pkg/note"
)

// Binding is a (host_path, guest_path) pair. NeedSubstitution is true
// iff the two paths differ (an "asymmetric" binding); a symmetric
// binding only marks that a path is valid, no rewriting is performed.
type Binding struct {
	Host             Path
	Guest            Path
	NeedSubstitution bool
}

// Namespace holds the three binding lists (spec.md §3 FileSystemNameSpace):
// pending (as specified by the user, pre-canonicalization), and the
// guest- and host-ordered lists produced once bindings are initialized.
// A Namespace is shared across tracees under CLONE_FS.
type Namespace struct {
	Pending []*Binding
	Guest   []*Binding
	Host    []*Binding
	Cwd     string

	// Cache memoizes translatePath's full join+canonicalize+substitute
	// result, keyed by the caller (pkg/syscalls); never nil after
	// NewNamespace, so callers can use it unconditionally.
	Cache *Cache

	verbose              int
	ignoreMissingBindings bool
}

// NewNamespace returns an empty namespace; the caller must insert at
// least a "/" binding before canonicalization is meaningful.
func NewNamespace(verbose int, ignoreMissingBindings bool) *Namespace {
	return &Namespace{
		verbose:               verbose,
		ignoreMissingBindings: ignoreMissingBindings,
		Cache:                 NewCache(4096),
	}
}

// AddPending records a binding as the user specified it, before it has
// been canonicalized into the guest/host ordered lists.
func (ns *Namespace) AddPending(host, guest string, mustExist bool) *Binding {
	b := &Binding{
		Host:             Path{Value: host, Side: Host},
		Guest:            Path{Value: guest, Side: Guest},
		NeedSubstitution: host != guest,
	}
	ns.Pending = append(ns.Pending, b)
	return b
}

// Root returns the host path to the guest rootfs: the host side of the
// binding whose guest side is "/". It looks at bindings.guest once
// Initialize has run, falling back to the last pending entry before
// that (spec.md §4.2 get_root).
func (ns *Namespace) Root() string {
	if len(ns.Guest) > 0 {
		last := ns.Guest[len(ns.Guest)-1]
		return last.Host.Value
	}
	if len(ns.Pending) == 0 {
		return ""
	}
	last := ns.Pending[len(ns.Pending)-1]
	if ComparePaths(last.Guest.Value, "/") != Equal {
		return ""
	}
	return last.Host.Value
}

// BelongsToGuestfs reports whether hostPath lies under (or is) the
// guest rootfs, used to filter out false-positive HOST-side binding
// matches when a rootfs prefix was itself used as a binding source.
func (ns *Namespace) BelongsToGuestfs(hostPath string) bool {
	root := ns.Root()
	if root == "" {
		return false
	}
	cmp := ComparePaths(root, hostPath)
	return cmp == Equal || cmp == Path1IsPrefix
}

// GetBinding scans the side's ordered list and returns the first
// binding whose path on that side equals path or is a slash-terminated
// prefix of it (spec.md §4.2 get_binding). Because insort keeps longer
// paths first, "first match" already implements "deepest match wins".
func (ns *Namespace) GetBinding(side Side, path string) *Binding {
	list := ns.listFor(side)
	for _, b := range list {
		var ref Path
		switch side {
		case Guest:
			ref = b.Guest
		case Host:
			ref = b.Host
		default:
			continue
		}

		cmp := ComparePaths(ref.Value, path)
		if cmp != Equal && cmp != Path1IsPrefix {
			continue
		}

		if side == Host && ComparePaths(ns.Root(), "/") != Equal && ns.BelongsToGuestfs(path) {
			continue
		}
		return b
	}
	return nil
}

// Substitute rewrites path in place (returning the rewritten value) by
// substituting its matched binding's opposite-side prefix. It returns
// matched=false if no binding matches, and substituted=false when the
// matched binding needs no rewriting.
func (ns *Namespace) Substitute(side Side, path string) (result string, matched bool, substituted bool) {
	b := ns.GetBinding(side, path)
	if b == nil {
		return path, false, false
	}
	if !b.NeedSubstitution {
		return path, true, false
	}

	var from, to Path
	switch side {
	case Guest:
		from, to = b.Guest, b.Host
	case Host:
		from, to = b.Host, b.Guest
	}
	return substitutePrefix(path, from.Value, to.Value), true, true
}

func substitutePrefix(path, fromPrefix, toPrefix string) string {
	rest := path[len(fromPrefix):]
	if fromPrefix == "/" {
		// The root prefix has no separator of its own to strip: keep
		// path's leading slash.
		rest = path
		if path == "/" {
			rest = ""
		}
	}
	if rest == "" {
		return toPrefix
	}
	if toPrefix == "/" {
		return "/" + rest[1:]
	}
	return toPrefix + rest
}

func (ns *Namespace) listFor(side Side) []*Binding {
	switch side {
	case Pending:
		return ns.Pending
	case Guest:
		return ns.Guest
	case Host:
		return ns.Host
	}
	return nil
}

// RemoveFromAllLists unlinks b from pending/guest/host wherever present.
func (ns *Namespace) RemoveFromAllLists(b *Binding) {
	ns.Pending = removeBinding(ns.Pending, b)
	ns.Guest = removeBinding(ns.Guest, b)
	ns.Host = removeBinding(ns.Host, b)
}

func removeBinding(list []*Binding, target *Binding) []*Binding {
	for i, b := range list {
		if b == target {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// AddInduced registers a binding directly into the guest- and host-
// ordered lists, bypassing Pending. Used for bindings PRoot creates for
// itself at runtime rather than ones the user specified up front: the
// glue filesystem's placeholder files (spec.md §4.2) and a shortened
// AF_UNIX socket path (spec.md §4.4, original_source/syscall/socket.c
// insort_binding3).
func (ns *Namespace) AddInduced(host, guest string) *Binding {
	b := &Binding{
		Host:             Path{Value: host, Side: Host},
		Guest:            Path{Value: guest, Side: Guest},
		NeedSubstitution: host != guest,
	}
	ns.insort(Guest, b)
	ns.insort(Host, b)
	ns.Cache.Purge()
	return b
}

// Initialize canonicalizes every pending binding into the guest- and
// host-ordered lists, in insertion (sorted) order, and seeds Cwd to "/".
// Call after all pending bindings (including the mandatory "/") have
// been added.
func (ns *Namespace) Initialize() {
	for _, b := range ns.Pending {
		ns.insort(Guest, b)
		ns.insort(Host, b)
	}
	if ns.Cwd == "" {
		ns.Cwd = "/"
	}
}

// insort inserts b into the side's ordered list keeping the invariant
// that a binding containing another (a shorter prefix) sorts after it,
// so scanning front-to-back finds the deepest match first (spec.md §4.2
// insort_binding; asymmetric tie-break per original_source/path/binding.c).
func (ns *Namespace) insort(side Side, binding *Binding) {
	list := ns.listFor(side)

	previous := -1 // index of the deepest iterator binding contains
	next := -1     // index of the shallowest iterator that contains binding

	for i, iterator := range list {
		var bindingPath, iteratorPath string
		switch side {
		case Guest, Pending:
			bindingPath, iteratorPath = binding.Guest.Value, iterator.Guest.Value
		case Host:
			bindingPath, iteratorPath = binding.Host.Value, iterator.Host.Value
		}

		switch ComparePaths(bindingPath, iteratorPath) {
		case Equal:
			if side == Host {
				// HOST: later registration wins; the earlier
				// binding is unlinked entirely
				// (original_source/path/binding.c
				// remove_binding_from_all_lists), no warning
				// (that's a GUEST/PENDING-only diagnostic).
				ns.insertAfter(side, i, binding)
				ns.RemoveFromAllLists(iterator)
				return
			}
			// GUEST/PENDING: warn, keep the newest binding,
			// drop the older one from every list it's on.
			if ns.verbose > 0 && !ns.ignoreMissingBindings {
				note.Note(note.WARNING, note.USER,
					"both %q and %q are bound to %q, only the last binding is active",
					iterator.Host.Value, binding.Host.Value, binding.Guest.Value)
			}
			ns.insertAfter(side, i, binding)
			ns.RemoveFromAllLists(iterator)
			return

		case Path1IsPrefix:
			// binding's path is a prefix of the iterator's:
			// binding contains iterator, so binding sorts
			// after it (deeper entries come first).
			previous = i

		case Path2IsPrefix:
			// iterator's path is a prefix of binding's: the
			// iterator contains binding. The first such match
			// scanning from the head is the deepest container.
			if next == -1 {
				next = i
			}

		case NotComparable:
		}
	}

	switch {
	case previous >= 0:
		ns.insertAfter(side, previous, binding)
	case next >= 0:
		ns.insertBefore(side, next, binding)
	default:
		ns.prepend(side, binding)
	}
}

func (ns *Namespace) insertBefore(side Side, idx int, binding *Binding) {
	list := ns.listFor(side)
	newList := make([]*Binding, 0, len(list)+1)
	newList = append(newList, list[:idx]...)
	newList = append(newList, binding)
	newList = append(newList, list[idx:]...)
	ns.setList(side, newList)
}

func (ns *Namespace) insertAfter(side Side, idx int, binding *Binding) {
	list := ns.listFor(side)
	newList := make([]*Binding, 0, len(list)+1)
	newList = append(newList, list[:idx+1]...)
	newList = append(newList, binding)
	newList = append(newList, list[idx+1:]...)
	ns.setList(side, newList)
}

func (ns *Namespace) prepend(side Side, binding *Binding) {
	list := ns.listFor(side)
	newList := make([]*Binding, 0, len(list)+1)
	newList = append(newList, binding)
	newList = append(newList, list...)
	ns.setList(side, newList)
}

func (ns *Namespace) setList(side Side, list []*Binding) {
	switch side {
	case Pending:
		ns.Pending = list
	case Guest:
		ns.Guest = list
	case Host:
		ns.Host = list
	}
}
