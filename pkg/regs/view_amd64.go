//go:build amd64

package regs

import (
	"syscall"

	"github.com/prootgo/prootgo/pkg/arch"
)

type amd64View struct {
	regs     *syscall.PtraceRegs
	is32on64 bool
}

func newArchView(r *syscall.PtraceRegs, is32on64 bool) ArchRegs {
	return &amd64View{regs: r, is32on64: is32on64}
}

func (v *amd64View) Get(reg arch.Reg) uint64 {
	switch reg {
	case arch.SYSARG_NUM:
		return v.regs.Orig_rax
	case arch.SYSARG_1:
		return v.regs.Rdi
	case arch.SYSARG_2:
		return v.regs.Rsi
	case arch.SYSARG_3:
		return v.regs.Rdx
	case arch.SYSARG_4:
		return v.regs.R10
	case arch.SYSARG_5:
		return v.regs.R8
	case arch.SYSARG_6:
		return v.regs.R9
	case arch.SYSARG_RESULT:
		return v.regs.Rax
	case arch.STACK_POINTER:
		return v.regs.Rsp
	case arch.INSTR_POINTER:
		return v.regs.Rip
	case arch.RTLD_FINI:
		return v.regs.Rdx
	case arch.STATE_FLAGS:
		return v.regs.Eflags
	case arch.USERARG_1:
		return v.regs.Rdi
	default:
		return 0
	}
}

func (v *amd64View) Set(reg arch.Reg, value uint64) {
	switch reg {
	case arch.SYSARG_NUM:
		v.regs.Orig_rax = value
	case arch.SYSARG_1:
		v.regs.Rdi = value
	case arch.SYSARG_2:
		v.regs.Rsi = value
	case arch.SYSARG_3:
		v.regs.Rdx = value
	case arch.SYSARG_4:
		v.regs.R10 = value
	case arch.SYSARG_5:
		v.regs.R8 = value
	case arch.SYSARG_6:
		v.regs.R9 = value
	case arch.SYSARG_RESULT:
		v.regs.Rax = value
	case arch.STACK_POINTER:
		v.regs.Rsp = value
	case arch.INSTR_POINTER:
		v.regs.Rip = value
	case arch.RTLD_FINI:
		v.regs.Rdx = value
	case arch.STATE_FLAGS:
		v.regs.Eflags = value
	case arch.USERARG_1:
		v.regs.Rdi = value
	}
}
