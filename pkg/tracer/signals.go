package tracer

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/prootgo/prootgo/pkg/note"
)

// fatalSignals are delivered to the tracer's own process, not to any
// tracee (spec.md §4.10): receiving one means the tracer itself is in
// trouble, so every tracee is killed outright rather than left orphaned
// under a dead ptracer.
var fatalSignals = []os.Signal{
	syscall.SIGQUIT,
	syscall.SIGILL,
	syscall.SIGABRT,
	syscall.SIGFPE,
	syscall.SIGSEGV,
}

// WatchSignals starts the goroutine that listens for signals delivered
// to the tracer process itself, as opposed to the wait-status events
// Run's loop handles for its tracees. The goroutine runs for the life of
// the process; WatchSignals itself returns at once, and pkg/supervisor
// calls it before entering Run.
func (t *Tracer) WatchSignals() {
	ch := make(chan os.Signal, 4)
	watched := append(append([]os.Signal{}, fatalSignals...), syscall.SIGUSR1, syscall.SIGUSR2)
	signal.Notify(ch, watched...)

	go func() {
		for sig := range ch {
			switch sig {
			case syscall.SIGUSR1, syscall.SIGUSR2:
				t.arena.Dump(os.Stderr)
			default:
				note.Note(note.WARNING, note.INTERNAL, "fatal signal %v received, killing all tracees", sig)
				t.killAllTracees()
				signal.Stop(ch)
				os.Exit(128 + int(sig.(syscall.Signal)))
			}
		}
	}()
}

// killAllTracees sends SIGKILL to every tracee still in the table
// (spec.md §4.10's fatal-signal handler, and --kill-on-exit's early
// teardown once the initial command's own tracee has exited).
func (t *Tracer) killAllTracees() {
	for _, tr := range t.table.All() {
		_ = syscall.Kill(tr.Pid(), syscall.SIGKILL)
	}
}
