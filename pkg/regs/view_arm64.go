//go:build arm64

package regs

import (
	"syscall"

	"github.com/prootgo/prootgo/pkg/arch"
)

type arm64View struct {
	regs     *syscall.PtraceRegs
	is32on64 bool
}

func newArchView(r *syscall.PtraceRegs, is32on64 bool) ArchRegs {
	return &arm64View{regs: r, is32on64: is32on64}
}

// On AArch64, syscall number lives in x8, args in x0-x5, and the kernel
// keeps the pre-syscall x0 around for restart rather than a separate
// orig_x0 field, so SYSARG_1 and SYSARG_RESULT alias x0 exactly like the
// teacher's regs_arm64.go.
func (v *arm64View) Get(reg arch.Reg) uint64 {
	switch reg {
	case arch.SYSARG_NUM:
		return v.regs.Regs[8]
	case arch.SYSARG_1:
		return v.regs.Regs[0]
	case arch.SYSARG_2:
		return v.regs.Regs[1]
	case arch.SYSARG_3:
		return v.regs.Regs[2]
	case arch.SYSARG_4:
		return v.regs.Regs[3]
	case arch.SYSARG_5:
		return v.regs.Regs[4]
	case arch.SYSARG_6:
		return v.regs.Regs[5]
	case arch.SYSARG_RESULT:
		return v.regs.Regs[0]
	case arch.STACK_POINTER:
		return v.regs.Sp
	case arch.INSTR_POINTER:
		return v.regs.Pc
	case arch.RTLD_FINI:
		return v.regs.Regs[2]
	case arch.STATE_FLAGS:
		return v.regs.Pstate
	case arch.USERARG_1:
		return v.regs.Regs[0]
	default:
		return 0
	}
}

func (v *arm64View) Set(reg arch.Reg, value uint64) {
	switch reg {
	case arch.SYSARG_NUM:
		v.regs.Regs[8] = value
	case arch.SYSARG_1:
		v.regs.Regs[0] = value
	case arch.SYSARG_2:
		v.regs.Regs[1] = value
	case arch.SYSARG_3:
		v.regs.Regs[2] = value
	case arch.SYSARG_4:
		v.regs.Regs[3] = value
	case arch.SYSARG_5:
		v.regs.Regs[4] = value
	case arch.SYSARG_6:
		v.regs.Regs[5] = value
	case arch.SYSARG_RESULT:
		v.regs.Regs[0] = value
	case arch.STACK_POINTER:
		v.regs.Sp = value
	case arch.INSTR_POINTER:
		v.regs.Pc = value
	case arch.RTLD_FINI:
		v.regs.Regs[2] = value
	case arch.STATE_FLAGS:
		v.regs.Pstate = value
	case arch.USERARG_1:
		v.regs.Regs[0] = value
	}
}
