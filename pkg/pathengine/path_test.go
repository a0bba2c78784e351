package pathengine

import "testing"

func TestComparePaths(t *testing.T) {
	tests := []struct {
		name string
		p1   string
		p2   string
		want Comparison
	}{
		{"equal", "/usr/bin", "/usr/bin", Equal},
		{"equal trailing slash", "/usr/bin/", "/usr/bin", Equal},
		{"p1 prefix of p2", "/usr", "/usr/bin", Path1IsPrefix},
		{"p2 prefix of p1", "/usr/bin", "/usr", Path2IsPrefix},
		{"root is prefix of everything", "/", "/usr/bin", Path1IsPrefix},
		{"not comparable, divergent", "/usr/bin", "/usr/local", NotComparable},
		{"not comparable, partial component match", "/us", "/usr", NotComparable},
		{"empty p1", "", "/usr", NotComparable},
		{"empty p2", "/usr", "", NotComparable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComparePaths(tt.p1, tt.p2); got != tt.want {
				t.Errorf("ComparePaths(%q, %q) = %v, want %v", tt.p1, tt.p2, got, tt.want)
			}
		})
	}
}

func TestJoin(t *testing.T) {
	tests := []struct {
		name string
		base string
		comp string
		want string
	}{
		{"root base", "/", "etc", "/etc"},
		{"plain base", "/home/user", "file.txt", "/home/user/file.txt"},
		{"trailing slash base", "/home/user/", "file.txt", "/home/user/file.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Join(tt.base, tt.comp); got != tt.want {
				t.Errorf("Join(%q, %q) = %q, want %q", tt.base, tt.comp, got, tt.want)
			}
		})
	}
}
