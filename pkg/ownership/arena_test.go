package ownership

import (
	"strings"
	"testing"
)

func TestFreeRunsDestructorsLIFO(t *testing.T) {
	root := NewRoot()
	var order []string
	root.OnRelease(func() { order = append(order, "first") })
	root.OnRelease(func() { order = append(order, "second") })

	root.Free()

	want := []string{"second", "first"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestFreeRunsChildrenBeforeParent(t *testing.T) {
	root := NewRoot()
	child := root.NewChild()

	var order []string
	root.OnRelease(func() { order = append(order, "parent") })
	child.OnRelease(func() { order = append(order, "child") })

	root.Free()

	if len(order) != 2 || order[0] != "child" || order[1] != "parent" {
		t.Fatalf("order = %v, want [child parent]", order)
	}
}

func TestReferenceDefersFinalize(t *testing.T) {
	root := NewRoot()
	child := root.NewChild()

	ran := false
	child.OnRelease(func() { ran = true })

	ref := child.Reference()
	root.Free()
	if ran {
		t.Fatal("destructor ran while a Reference was still outstanding")
	}

	ref.Release()
	if !ran {
		t.Fatal("destructor never ran after the last Reference was released")
	}
}

func TestReferenceReleaseIsIdempotentOnNil(t *testing.T) {
	var ref *Reference
	ref.Release() // must not panic
}

func TestDump(t *testing.T) {
	root := NewRoot()
	child := root.NewChild()
	child.OnRelease(func() {})

	var sb strings.Builder
	root.Dump(&sb)

	out := sb.String()
	if !strings.Contains(out, "node ") {
		t.Fatalf("Dump output missing node lines: %q", out)
	}
	if strings.Count(out, "node ") != 2 {
		t.Fatalf("expected 2 node lines (root+child), got: %q", out)
	}
}
