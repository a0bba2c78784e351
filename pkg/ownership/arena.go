// Package ownership re-architects the original's talloc hierarchical
// allocator (spec.md §9) as an arena-with-ownership-tree: every allocation
// has a parent, an optional destructor, and may be weakly referenced by a
// second parent without actually moving there. Go's GC means we don't need
// talloc's free-on-last-reference bookkeeping for memory itself; what we do
// need, and what this package models, is the *destructor* and *lifetime*
// semantics the tracer depends on (close this fd when the tracee dies,
// remove this glue-filesystem sentinel when the tracer exits, don't drop a
// symlink target's namespace while a tracee two contexts away still needs
// it).
package ownership

import (
	"fmt"
	"io"
	"sync"
)

// Destructor is a cleanup callback run exactly once when its owning Node
// is released.
type Destructor func()

// Node is one entry in the ownership tree. The zero value is a usable root.
type Node struct {
	mu          sync.Mutex
	parent      *Node
	children    map[*Node]struct{}
	destructors []Destructor
	refcount    int // weak references requesting lifetime extension
	released    bool
}

// NewRoot creates a root arena, the analogue of talloc's NULL context.
// One root is created in main() and freed at process exit (spec.md §9
// "Process-wide state").
func NewRoot() *Node {
	return &Node{children: make(map[*Node]struct{})}
}

// NewChild creates a node parented to n — freed automatically when n is
// released, unless kept alive by a Reference.
func (n *Node) NewChild() *Node {
	child := &Node{parent: n, children: make(map[*Node]struct{})}
	n.mu.Lock()
	n.children[child] = struct{}{}
	n.mu.Unlock()
	return child
}

// OnRelease registers a destructor run when n is released (talloc_set_
// destructor). Destructors run in LIFO order, children before parent.
func (n *Node) OnRelease(d Destructor) {
	n.mu.Lock()
	n.destructors = append(n.destructors, d)
	n.mu.Unlock()
}

// Reference models talloc's multi-parent reference: it requests that n's
// lifetime be extended until the reference itself is dropped, without
// reparenting n. Used for symlink targets that must outlive two contexts
// (spec.md §9 "Multi-parent references").
type Reference struct {
	node *Node
}

// Reference bumps n's refcount and returns a token that must be Released.
func (n *Node) Reference() *Reference {
	n.mu.Lock()
	n.refcount++
	n.mu.Unlock()
	return &Reference{node: n}
}

// Release drops the reference. If the referenced node was already
// released by its real parent and this was the last outstanding
// reference, its destructors run now.
func (r *Reference) Release() {
	if r == nil || r.node == nil {
		return
	}
	n := r.node
	n.mu.Lock()
	n.refcount--
	shouldFinalize := n.released && n.refcount <= 0
	n.mu.Unlock()
	if shouldFinalize {
		n.finalize()
	}
	r.node = nil
}

// Free releases n: runs its children's destructors first (depth-first,
// LIFO within a node), then n's own, unless a live Reference is still
// holding it open — in which case finalize is deferred to the reference's
// own Release (CLONE_VM heap-sharing relies on exactly this: the old heap
// struct is released only when no sibling tracee still references it,
// spec.md §9 Open Questions).
func (n *Node) Free() {
	if n.parent != nil {
		n.parent.mu.Lock()
		delete(n.parent.children, n)
		n.parent.mu.Unlock()
	}

	n.mu.Lock()
	n.released = true
	deferred := n.refcount > 0
	n.mu.Unlock()

	if deferred {
		return
	}
	n.finalize()
}

// Dump writes n's subtree to w, one line per node, indented by depth and
// annotated with its live destructor/reference counts. This is
// print_talloc_hierarchy's replacement: invoked from the SIGUSR1/SIGUSR2
// handler (spec.md §4.10, §9 "Asynchronous delivery") so an operator can
// inspect what the allocator still owns without attaching a debugger.
func (n *Node) Dump(w io.Writer) {
	n.dump(w, 0)
}

func (n *Node) dump(w io.Writer, depth int) {
	n.mu.Lock()
	destructors := len(n.destructors)
	refcount := n.refcount
	children := make([]*Node, 0, len(n.children))
	for c := range n.children {
		children = append(children, c)
	}
	n.mu.Unlock()

	fmt.Fprintf(w, "%*snode %p (destructors=%d refs=%d)\n", depth*2, "", n, destructors, refcount)
	for _, c := range children {
		c.dump(w, depth+1)
	}
}

func (n *Node) finalize() {
	n.mu.Lock()
	children := make([]*Node, 0, len(n.children))
	for c := range n.children {
		children = append(children, c)
	}
	destructors := n.destructors
	n.destructors = nil
	n.mu.Unlock()

	for _, c := range children {
		c.mu.Lock()
		c.released = true
		held := c.refcount > 0
		c.mu.Unlock()
		if held {
			// A live Reference keeps c open; its last Release finalizes it.
			continue
		}
		c.finalize()
	}
	for i := len(destructors) - 1; i >= 0; i-- {
		destructors[i]()
	}
}
