// Package supervisor is the entry/bootstrap component (spec.md §2
// "Entry/bootstrap", §4.10): it builds the initial FileSystemNameSpace
// from the resolved CLI bindings, forks the first tracee under
// PTRACE_TRACEME, and hands control to pkg/tracer's event loop.
package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/prootgo/prootgo/pkg/arch"
	"github.com/prootgo/prootgo/pkg/config"
	"github.com/prootgo/prootgo/pkg/note"
	"github.com/prootgo/prootgo/pkg/ownership"
	"github.com/prootgo/prootgo/pkg/pathengine"
	"github.com/prootgo/prootgo/pkg/syscalls"
	"github.com/prootgo/prootgo/pkg/tracee"
	"github.com/prootgo/prootgo/pkg/tracer"
)

// hostArchProfile picks the native arch.Profile for the host this binary
// was built for (spec.md §4.3). 32-on-64 compatibility mode is not
// auto-detected here: it is a per-exec decision the execve rewriter
// would need the loaded ELF's class to make, not something the initial
// bootstrap can know in advance.
func hostArchProfile() (*arch.Profile, error) {
	switch runtime.GOARCH {
	case "amd64":
		return arch.Amd64, nil
	case "arm64":
		return arch.Arm64, nil
	default:
		return nil, fmt.Errorf("unsupported host architecture %q", runtime.GOARCH)
	}
}

// Run builds the initial namespace and engine from cfg, forks the first
// tracee, and runs the event loop to completion, returning the process
// exit code spec.md §6 promises (the last terminated tracee's exit
// status, or EXIT_FAILURE on a startup error).
func Run(cfg config.Config) int {
	note.SetVerbosity(cfg.Verbose)

	if len(cfg.Command) == 0 {
		note.Note(note.ERROR, note.USER, "no command given")
		return 1
	}

	profile, err := hostArchProfile()
	if err != nil {
		note.Note(note.ERROR, note.USER, "%v", err)
		return 1
	}

	rootfs, err := filepath.Abs(cfg.Rootfs)
	if err != nil {
		note.Note(note.ERROR, note.USER, "resolving rootfs %q: %v", cfg.Rootfs, err)
		return 1
	}
	if fi, statErr := os.Stat(rootfs); statErr != nil || !fi.IsDir() {
		note.Note(note.ERROR, note.USER, "rootfs %q is not a directory", rootfs)
		return 1
	}

	ns := pathengine.NewNamespace(cfg.Verbose, cfg.IgnoreMissingBindings)
	for _, b := range cfg.Binds {
		host, err := filepath.Abs(b.Host)
		if err != nil {
			note.Note(note.WARNING, note.USER, "skipping binding %q: %v", b.Host, err)
			continue
		}
		guest := b.Guest
		if guest == "" {
			guest = host
		}
		ns.AddPending(host, guest, true)
	}
	// The "/" binding is mandatory and must sort last in both ordered
	// lists, which insort already guarantees since it's always the
	// shallowest path (spec.md §3 "The binding to / is mandatory").
	ns.AddPending(rootfs, "/", true)
	ns.Initialize()

	root := ownership.NewRoot()
	table := tracee.NewTable(root)

	engine := syscalls.NewEngine(syscalls.Config{
		LoaderPath:            cfg.LoaderPath,
		Loader32Path:          cfg.Loader32Path,
		TempDir:               cfg.TempDir,
		IgnoreMissingBindings: cfg.IgnoreMissingBindings,
		DontPolluteRootfs:     cfg.DontPolluteRootfs,
	}, table)
	engine.Glue.Attach(ns)
	defer engine.Glue.Cleanup()

	if cfg.Cwd != "" {
		canonical, err := engine.CanonicalizeGuestPath(ns, cfg.Cwd)
		if err != nil {
			note.Note(note.ERROR, note.USER, "resolving initial cwd %q: %v", cfg.Cwd, err)
			return 1
		}
		ns.Cwd = canonical
	}

	hostCmdPath, err := engine.ResolvePath(ns, cfg.Command[0], true)
	if err != nil {
		note.Note(note.ERROR, note.USER, "resolving %q: %v", cfg.Command[0], err)
		return 1
	}

	// ptrace requires every request against a tracee to come from the
	// thread that is its tracer; locking here for the remainder of the
	// process's life keeps Go's scheduler from migrating this goroutine
	// mid-trace (spec.md §5 "single-threaded and cooperative").
	runtime.LockOSThread()

	cmd := &os.ProcAttr{
		Files: []*os.File{os.Stdin, os.Stdout, os.Stderr},
		Sys: &syscall.SysProcAttr{
			Ptrace:    true,
			Pdeathsig: syscall.SIGKILL,
		},
	}
	argv := append([]string{cfg.Command[0]}, cfg.Command[1:]...)

	proc, err := os.StartProcess(hostCmdPath, argv, cmd)
	if err != nil {
		note.Note(note.ERROR, note.USER, "starting %q: %v", hostCmdPath, err)
		return 1
	}

	initial := tracee.New(proc.Pid, nil, profile, false, root.NewChild())
	initial.NS = ns
	initial.Exe = hostCmdPath
	table.Add(initial)

	t := tracer.New(tracer.Config{
		AssumeNewSeccomp: cfg.AssumeNewSeccomp,
		KillOnExit:       cfg.KillOnExit,
	}, table, engine, root, proc.Pid)

	t.WatchSignals()

	return t.Run()
}
