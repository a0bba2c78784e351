package errno

import (
	"fmt"
	"syscall"
	"testing"
)

func TestNew(t *testing.T) {
	if err := New(0); err != nil {
		t.Fatalf("New(0) = %v, want nil", err)
	}
	err := New(syscall.ENOENT)
	if err == nil {
		t.Fatal("New(ENOENT) = nil")
	}
	var ne *NegErrno
	if !as(err, &ne) {
		t.Fatalf("expected *NegErrno, got %T", err)
	}
	if ne.Errno != syscall.ENOENT {
		t.Fatalf("Errno = %v, want ENOENT", ne.Errno)
	}
}

func TestValue(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int64
	}{
		{"nil", nil, 0},
		{"neg errno", New(syscall.ENOENT), -int64(syscall.ENOENT)},
		{"plain errno", syscall.EACCES, -int64(syscall.EACCES)},
		{"wrapped neg errno", fmt.Errorf("opening file: %w", New(syscall.EISDIR)), -int64(syscall.EISDIR)},
		{"unrecognized error", fmt.Errorf("something else"), -int64(syscall.EIO)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Value(tt.err); got != tt.want {
				t.Errorf("Value(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestFromNeg(t *testing.T) {
	if err := FromNeg(0); err != nil {
		t.Fatalf("FromNeg(0) = %v, want nil", err)
	}
	if err := FromNeg(5); err != nil {
		t.Fatalf("FromNeg(5) = %v, want nil (non-negative)", err)
	}

	err := FromNeg(-int64(syscall.ENOSYS))
	var ne *NegErrno
	if !as(err, &ne) {
		t.Fatalf("expected *NegErrno, got %T", err)
	}
	if ne.Errno != syscall.ENOSYS {
		t.Fatalf("Errno = %v, want ENOSYS", ne.Errno)
	}
}
