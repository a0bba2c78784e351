package pathengine

import "testing"

// TestNamespaceInitializeOrdering checks insort's deepest-match-first
// invariant: GetBinding must find /usr/local before /usr before / even
// though they were added in shallow-to-deep order.
func TestNamespaceInitializeOrdering(t *testing.T) {
	ns := NewNamespace(0, false)
	ns.AddPending("/host-root", "/", true)
	ns.AddPending("/host-usr", "/usr", true)
	ns.AddPending("/host-usr-local", "/usr/local", true)
	ns.Initialize()

	got := ns.GetBinding(Guest, "/usr/local/bin/foo")
	if got == nil || got.Host.Value != "/host-usr-local" {
		t.Fatalf("expected deepest binding /host-usr-local, got %+v", got)
	}

	got = ns.GetBinding(Guest, "/usr/share")
	if got == nil || got.Host.Value != "/host-usr" {
		t.Fatalf("expected /host-usr binding, got %+v", got)
	}

	got = ns.GetBinding(Guest, "/etc/passwd")
	if got == nil || got.Host.Value != "/host-root" {
		t.Fatalf("expected root binding fallback, got %+v", got)
	}
}

func TestNamespaceSubstitute(t *testing.T) {
	ns := NewNamespace(0, false)
	ns.AddPending("/opt/rootfs", "/", true)
	ns.AddPending("/srv/data", "/mnt/data", true)
	ns.Initialize()

	host, matched, substituted := ns.Substitute(Guest, "/mnt/data/file.txt")
	if !matched || !substituted {
		t.Fatalf("expected match+substitution, got matched=%v substituted=%v", matched, substituted)
	}
	if host != "/srv/data/file.txt" {
		t.Fatalf("got %q, want /srv/data/file.txt", host)
	}

	// A path under the root binding that differs from its host prefix
	// ("/opt/rootfs" != "/") should also substitute.
	host, matched, substituted = ns.Substitute(Guest, "/etc/passwd")
	if !matched || !substituted {
		t.Fatalf("expected root binding match+substitution, got matched=%v substituted=%v", matched, substituted)
	}
	if host != "/opt/rootfs/etc/passwd" {
		t.Fatalf("got %q, want /opt/rootfs/etc/passwd", host)
	}
}

func TestNamespaceSubstituteNoMatch(t *testing.T) {
	ns := NewNamespace(0, false)
	ns.AddPending("/opt/rootfs", "/", true)
	ns.Initialize()

	_, matched, _ := ns.Substitute(Host, "/some/unrelated/host/path")
	if matched {
		t.Fatalf("expected no host-side match outside the guestfs root")
	}
}

// TestNamespaceInitializeDuplicateGuestBinding exercises insort's
// GUEST-side "warn, keep newest" tie-break: binding two different host
// paths to the same guest path should leave only the later one active.
func TestNamespaceInitializeDuplicateGuestBinding(t *testing.T) {
	ns := NewNamespace(0, true) // ignoreMissingBindings suppresses the warning note
	ns.AddPending("/opt/rootfs", "/", true)
	ns.AddPending("/host/first", "/mnt", true)
	ns.AddPending("/host/second", "/mnt", true)
	ns.Initialize()

	got := ns.GetBinding(Guest, "/mnt")
	if got == nil || got.Host.Value != "/host/second" {
		t.Fatalf("expected the later binding to win, got %+v", got)
	}

	if len(ns.Guest) != 2 {
		t.Fatalf("expected the superseded binding to be dropped, got %d guest bindings", len(ns.Guest))
	}
}

// TestNamespaceInitializeDuplicateHostBinding exercises insort's HOST-side
// "later registration wins" tie-break: binding two different guest paths
// to the same host path must unlink the superseded binding from every
// list, not just leave it shadowed (original_source/path/binding.c
// remove_binding_from_all_lists).
func TestNamespaceInitializeDuplicateHostBinding(t *testing.T) {
	ns := NewNamespace(0, true)
	ns.AddPending("/opt/rootfs", "/", true)
	ns.AddPending("/host/shared", "/first", true)
	ns.AddPending("/host/shared", "/second", true)
	ns.Initialize()

	got := ns.GetBinding(Host, "/host/shared")
	if got == nil || got.Guest.Value != "/second" {
		t.Fatalf("expected the later binding to win, got %+v", got)
	}

	if len(ns.Host) != 2 {
		t.Fatalf("expected the superseded binding to be unlinked, got %d host bindings", len(ns.Host))
	}
	for _, b := range ns.Host {
		if b.Guest.Value == "/first" {
			t.Fatalf("superseded binding /first still present in host list: %+v", ns.Host)
		}
	}
	if len(ns.Guest) != 2 {
		t.Fatalf("expected the superseded binding to be unlinked from the guest list too, got %d guest bindings", len(ns.Guest))
	}
	for _, b := range ns.Guest {
		if b.Guest.Value == "/first" {
			t.Fatalf("superseded binding /first still present in guest list: %+v", ns.Guest)
		}
	}
}

func TestNamespaceRoot(t *testing.T) {
	ns := NewNamespace(0, false)
	ns.AddPending("/opt/rootfs", "/", true)
	ns.Initialize()

	if got := ns.Root(); got != "/opt/rootfs" {
		t.Fatalf("Root() = %q, want /opt/rootfs", got)
	}
}
