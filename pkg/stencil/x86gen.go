package stencil

import (
	"tracejit/pkg/abi"
	jiterr "tracejit/pkg/errors"
	"tracejit/pkg/uop"
	"tracejit/pkg/vm"
	"tracejit/pkg/x86"
)

// Build generates the x86-64 stencil table for a. The table is sealed: it
// is validated and carries its version.
func Build(a abi.ABI) (*Table, error) {
	if a.Arch() != "amd64" {
		return nil, jiterr.Newf(jiterr.Configuration, "no stencils for architecture %q", a.Arch())
	}
	if a.Convention != abi.ZeroLive && a.Convention != abi.Standard {
		return nil, jiterr.Newf(jiterr.Configuration, "no stencils for convention %s", a.Convention)
	}

	t := &Table{
		Arch:       a.Arch(),
		Convention: a.Convention,
		Ops:        make(map[uop.Op]Stencil),
	}
	t.Entry = generate(a, (*gen).entry)
	t.NormalExit = generate(a, (*gen).normalExit)
	t.SideExit = generate(a, (*gen).sideExit)
	for op, fn := range opGenerators {
		t.Ops[op] = generate(a, fn)
	}

	if err := t.Seal(); err != nil {
		return nil, jiterr.Wrap(jiterr.Configuration, err, "generated stencil table")
	}
	return t, nil
}

type gen struct {
	abi   abi.ABI
	as    *x86.Assembler
	holes []Hole
	tail  int
}

func generate(a abi.ABI, fn func(*gen)) Stencil {
	g := &gen{abi: a, as: x86.NewAssembler(), tail: -1}
	fn(g)
	code := append([]byte(nil), g.as.Bytes()...)
	tail := g.tail
	if tail < 0 {
		tail = len(code)
	}
	return Stencil{Code: code, Holes: g.holes, Tail: tail}
}

func (g *gen) hole(at int, kind HoleKind, width uint8, signed bool, value HoleValue, addend int64) {
	g.holes = append(g.holes, Hole{
		Offset: at,
		Kind:   kind,
		Width:  width,
		Signed: signed,
		Value:  value,
		Addend: addend,
	})
}

func (g *gen) scratch() (x86.Reg, x86.Reg, x86.Reg) {
	return g.abi.Scratch[0], g.abi.Scratch[1], g.abi.Scratch[2]
}

func (g *gen) push(r x86.Reg) {
	g.as.MovMemReg64(g.abi.Stack, 0, r)
	g.as.AddRegImm32(g.abi.Stack, 8)
}

func (g *gen) pop(r x86.Reg) {
	g.as.SubRegImm32(g.abi.Stack, 8)
	g.as.MovRegMem64(r, g.abi.Stack, 0)
}

// transfer jumps unconditionally to the address named by value.
func (g *gen) transfer(value HoleValue) {
	switch g.abi.Convention {
	case abi.ZeroLive:
		at := g.as.JmpRel32(0)
		g.hole(at, Relative, 4, true, value, -4)
	default:
		at := g.as.MovRegImm64(g.abi.Transfer, 0)
		g.hole(at, Absolute, 8, false, value, 0)
		g.as.JmpReg(g.abi.Transfer)
	}
}

// absTransferSize is movabs r11, imm64 plus jmp r11.
const absTransferSize = 13

// branch jumps to value when cond holds.
func (g *gen) branch(cond x86.Cond, value HoleValue) {
	switch g.abi.Convention {
	case abi.ZeroLive:
		at := g.as.JccNear(cond, 0)
		g.hole(at, Relative, 4, true, value, -4)
	default:
		g.as.Jcc8(cond.Invert(), absTransferSize)
		g.transfer(value)
	}
}

// next ends a non-terminating stencil with its fall-through transfer.
func (g *gen) next() {
	g.tail = g.as.Offset()
	g.transfer(Continue)
}

func (g *gen) entry() {
	switch g.abi.Convention {
	case abi.ZeroLive:
		g.as.MovRegReg(g.abi.Frame, x86.RDI)
		g.as.MovRegReg(g.abi.Stack, x86.RSI)
		g.as.MovRegReg(g.abi.State, x86.RDX)
	default:
		g.as.Push(x86.RBP)
		g.as.MovRegReg(x86.RBP, x86.RSP)
	}
}

// normalExit writes the stack depth back to the frame and returns the
// resume target.
func (g *gen) normalExit() {
	a, _, _ := g.scratch()
	g.as.MovRegReg(a, g.abi.Stack)
	g.as.SubRegMem64(a, g.abi.Frame, vm.FrameStackOffset)
	g.as.SarRegImm8(a, 3)
	g.as.MovMemReg64(g.abi.Frame, vm.FrameSPOffset, a)
	g.as.MovRegMem32(x86.RAX, g.abi.State, vm.StateTargetOffset)
	if g.abi.Convention == abi.Standard {
		g.as.Pop(x86.RBP)
	}
	g.as.Ret()
}

func (g *gen) sideExit() {
	g.as.MovMem32Imm32(g.abi.State, vm.StateReasonOffset, uint32(vm.ExitSide))
	at := g.as.MovMem32Imm32(g.abi.State, vm.StateExitIndexOffset, 0)
	g.hole(at, Immediate, 4, false, ExitIndex, 0)
	at = g.as.MovMem32Imm32(g.abi.State, vm.StateTargetOffset, 0)
	g.hole(at, Immediate, 4, false, Target, 0)
	g.transfer(NormalExit)
}

var opGenerators = map[uop.Op]func(*gen){
	uop.Nop:              (*gen).next,
	uop.LoadConst:        (*gen).loadConst,
	uop.LoadSmallInt:     (*gen).loadSmallInt,
	uop.LoadFast:         (*gen).loadFast,
	uop.StoreFast:        (*gen).storeFast,
	uop.PopTop:           (*gen).popTop,
	uop.DupTop:           (*gen).dupTop,
	uop.Swap:             (*gen).swap,
	uop.BinaryAdd:        binary((*x86.Assembler).AddRegReg),
	uop.BinarySubtract:   binary((*x86.Assembler).SubRegReg),
	uop.BinaryMultiply:   binary((*x86.Assembler).IMulRegReg),
	uop.BinaryAnd:        binary((*x86.Assembler).AndRegReg),
	uop.BinaryOr:         binary((*x86.Assembler).OrRegReg),
	uop.BinaryXor:        binary((*x86.Assembler).XorRegReg),
	uop.UnaryNegative:    unary((*x86.Assembler).NegReg),
	uop.UnaryInvert:      unary((*x86.Assembler).NotReg),
	uop.UnaryNot:         (*gen).unaryNot,
	uop.CompareLt:        compare(x86.CondL),
	uop.CompareLe:        compare(x86.CondLE),
	uop.CompareEq:        compare(x86.CondE),
	uop.CompareNe:        compare(x86.CondNE),
	uop.CompareGt:        compare(x86.CondG),
	uop.CompareGe:        compare(x86.CondGE),
	uop.GuardIsTrue:      guard(x86.CondE),
	uop.GuardIsFalse:     guard(x86.CondNE),
	uop.CheckEvalBreaker: (*gen).checkEvalBreaker,
	uop.PopJumpIfFalse:   popJump(x86.CondE),
	uop.PopJumpIfTrue:    popJump(x86.CondNE),
	uop.Jump:             func(g *gen) { g.transfer(JumpTarget) },
	uop.JumpToTop:        func(g *gen) { g.transfer(Top) },
	uop.ExitTrace:        (*gen).exitTrace,
	uop.ReturnValue:      (*gen).returnValue,
	uop.Deopt:            func(g *gen) { g.transfer(SideExit) },
}

func (g *gen) loadConst() {
	a, _, _ := g.scratch()
	at := g.as.MovRegImm64(a, 0)
	g.hole(at, Immediate, 8, true, Oparg, 0)
	g.push(a)
	g.next()
}

func (g *gen) loadSmallInt() {
	a, _, _ := g.scratch()
	at := g.as.MovRegImm32SignExt(a, 0)
	g.hole(at, Immediate, 4, true, Oparg, 0)
	g.push(a)
	g.next()
}

func (g *gen) loadFast() {
	a, b, _ := g.scratch()
	g.as.MovRegMem64(b, g.abi.Frame, vm.FrameLocalsOffset)
	at := g.as.MovRegMem64Disp32(a, b, 0)
	g.hole(at, Immediate, 4, true, OpargSlot, 0)
	g.push(a)
	g.next()
}

func (g *gen) storeFast() {
	a, b, _ := g.scratch()
	g.pop(a)
	g.as.MovRegMem64(b, g.abi.Frame, vm.FrameLocalsOffset)
	at := g.as.MovMemReg64Disp32(b, 0, a)
	g.hole(at, Immediate, 4, true, OpargSlot, 0)
	g.next()
}

func (g *gen) popTop() {
	g.as.SubRegImm32(g.abi.Stack, 8)
	g.next()
}

func (g *gen) dupTop() {
	a, _, _ := g.scratch()
	g.as.MovRegMem64(a, g.abi.Stack, -8)
	g.push(a)
	g.next()
}

func (g *gen) swap() {
	a, b, _ := g.scratch()
	g.as.MovRegMem64(a, g.abi.Stack, -8)
	g.as.MovRegMem64(b, g.abi.Stack, -16)
	g.as.MovMemReg64(g.abi.Stack, -8, b)
	g.as.MovMemReg64(g.abi.Stack, -16, a)
	g.next()
}

// binary computes second-from-top OP top into second-from-top.
func binary(op func(as *x86.Assembler, dst, src x86.Reg)) func(*gen) {
	return func(g *gen) {
		a, b, _ := g.scratch()
		g.as.MovRegMem64(b, g.abi.Stack, -8)
		g.as.MovRegMem64(a, g.abi.Stack, -16)
		op(g.as, a, b)
		g.as.MovMemReg64(g.abi.Stack, -16, a)
		g.as.SubRegImm32(g.abi.Stack, 8)
		g.next()
	}
}

func unary(op func(as *x86.Assembler, reg x86.Reg)) func(*gen) {
	return func(g *gen) {
		a, _, _ := g.scratch()
		g.as.MovRegMem64(a, g.abi.Stack, -8)
		op(g.as, a)
		g.as.MovMemReg64(g.abi.Stack, -8, a)
		g.next()
	}
}

func (g *gen) unaryNot() {
	a, _, c := g.scratch()
	g.as.MovRegMem64(a, g.abi.Stack, -8)
	g.as.XorRegReg(c, c)
	g.as.TestRegReg(a, a)
	g.as.Setcc(x86.CondE, c)
	g.as.MovMemReg64(g.abi.Stack, -8, c)
	g.next()
}

func compare(cond x86.Cond) func(*gen) {
	return func(g *gen) {
		a, b, c := g.scratch()
		g.as.MovRegMem64(b, g.abi.Stack, -8)
		g.as.MovRegMem64(a, g.abi.Stack, -16)
		// clear before cmp, xor clobbers flags
		g.as.XorRegReg(c, c)
		g.as.CmpRegReg(a, b)
		g.as.Setcc(cond, c)
		g.as.MovMemReg64(g.abi.Stack, -16, c)
		g.as.SubRegImm32(g.abi.Stack, 8)
		g.next()
	}
}

// guard pops the top and side-exits when exit holds for it.
func guard(exit x86.Cond) func(*gen) {
	return func(g *gen) {
		a, _, _ := g.scratch()
		g.pop(a)
		g.as.TestRegReg(a, a)
		g.branch(exit, SideExit)
		g.next()
	}
}

func (g *gen) checkEvalBreaker() {
	g.as.MovRegMem32(x86.RAX, g.abi.State, vm.StateEvalBreakerOffset)
	g.as.TestRegReg(x86.RAX, x86.RAX)
	g.branch(x86.CondNE, SideExit)
	g.next()
}

func popJump(taken x86.Cond) func(*gen) {
	return func(g *gen) {
		a, _, _ := g.scratch()
		g.pop(a)
		g.as.TestRegReg(a, a)
		g.branch(taken, JumpTarget)
		g.next()
	}
}

func (g *gen) exitTrace() {
	g.as.MovMem32Imm32(g.abi.State, vm.StateReasonOffset, uint32(vm.ExitTrace))
	at := g.as.MovMem32Imm32(g.abi.State, vm.StateTargetOffset, 0)
	g.hole(at, Immediate, 4, false, Target, 0)
	g.transfer(NormalExit)
}

func (g *gen) returnValue() {
	a, _, _ := g.scratch()
	g.pop(a)
	g.as.MovMemReg64(g.abi.State, vm.StateResultOffset, a)
	g.as.MovMem32Imm32(g.abi.State, vm.StateReasonOffset, uint32(vm.ExitReturn))
	at := g.as.MovMem32Imm32(g.abi.State, vm.StateTargetOffset, 0)
	g.hole(at, Immediate, 4, false, Target, 0)
	g.transfer(NormalExit)
}
