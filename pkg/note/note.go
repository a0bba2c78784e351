// Package note is the single diagnostic entry point (spec.md §7): every
// warning, error and informational message the tracer emits goes through
// Note, which knows how to stringify a Severity/Origin pair and, for
// SYSTEM origin, append the current errno.
package note

import (
	"fmt"
	"os"
	"syscall"

	"github.com/sirupsen/logrus"
)

// Severity mirrors the original's note(severity, origin, ...) contract.
type Severity int

const (
	INFO Severity = iota
	WARNING
	ERROR
)

// Origin distinguishes where a diagnostic came from.
type Origin int

const (
	SYSTEM Origin = iota
	INTERNAL
	USER
	ALLOCATOR
)

var log = logrus.New()

func init() {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
		DisableColors:    false,
	})
	log.SetLevel(logrus.WarnLevel)
}

// SetVerbosity maps the CLI/env verbosity level (spec.md §6 PROOT_VERBOSE,
// "-v") onto logrus levels: 0 warnings only, 1 info, >=2 debug/trace.
func SetVerbosity(level int) {
	switch {
	case level <= 0:
		log.SetLevel(logrus.WarnLevel)
	case level == 1:
		log.SetLevel(logrus.InfoLevel)
	case level == 2:
		log.SetLevel(logrus.DebugLevel)
	default:
		log.SetLevel(logrus.TraceLevel)
	}
}

func (o Origin) String() string {
	switch o {
	case SYSTEM:
		return "system"
	case INTERNAL:
		return "internal"
	case USER:
		return "user"
	case ALLOCATOR:
		return "allocator"
	default:
		return "unknown"
	}
}

// Note logs a single diagnostic. SYSTEM origin appends the current errno
// string, mirroring the original's note() which reads `errno` at the call
// site before anything else can clobber it.
func Note(severity Severity, origin Origin, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if origin == SYSTEM {
		msg = fmt.Sprintf("%s: %s", msg, syscall.Errno(errnoSnapshot).Error())
	}

	entry := log.WithField("origin", origin.String())
	switch severity {
	case ERROR:
		entry.Error(msg)
	case WARNING:
		entry.Warn(msg)
	default:
		entry.Info(msg)
	}
}

// errnoSnapshot lets SYSTEM-origin notes report the error that triggered
// them; callers set it right before calling Note (mirrors reading errno
// synchronously in C, since Go clears it immediately on any runtime call).
var errnoSnapshot syscall.Errno

// System logs a SYSTEM-origin note for the given errno, exactly as
// "note(tracee, severity, SYSTEM, ...)" does in the original after a
// failing libc call.
func System(severity Severity, err syscall.Errno, format string, args ...interface{}) {
	errnoSnapshot = err
	Note(severity, SYSTEM, format, args...)
}
