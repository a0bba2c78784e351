package syscalls

import (
	"github.com/prootgo/prootgo/pkg/arch"
	"github.com/prootgo/prootgo/pkg/tracee"
)

// enterRlimit is a deliberate no-op: getrlimit(2)/setrlimit(2)/prlimit64(2)
// carry no guest path or guest memory layout that needs translating, so
// nothing here needs rewriting before the kernel runs the real syscall
// (original_source/syscall/rlimit.c's only rlimit-related behavior is an
// exit-stage workaround for a tracer/tracee stack-limit kernel bug,
// unrelated to path or register translation — see DESIGN.md for why
// that workaround itself is left unimplemented).
func (e *Engine) enterRlimit(tr *tracee.Tracee, sysnum arch.Sysnum) int64 {
	return 0
}
