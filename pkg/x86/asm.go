// Package x86 is a small x86-64 assembler used to generate stencils.
package x86

import (
	"encoding/binary"
)

// Reg is an x86-64 general purpose register number.
type Reg byte

const (
	RAX Reg = 0
	RCX Reg = 1
	RDX Reg = 2
	RBX Reg = 3
	RSP Reg = 4
	RBP Reg = 5
	RSI Reg = 6
	RDI Reg = 7
	R8  Reg = 8
	R9  Reg = 9
	R10 Reg = 10
	R11 Reg = 11
	R12 Reg = 12
	R13 Reg = 13
	R14 Reg = 14
	R15 Reg = 15
)

var regNames = [16]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

func (r Reg) String() string {
	if int(r) < len(regNames) {
		return regNames[r]
	}
	return "r?"
}

// Cond is an x86 condition code, the low nibble of Jcc/SETcc opcodes.
type Cond byte

const (
	CondO  Cond = 0x0
	CondNO Cond = 0x1
	CondB  Cond = 0x2 // below (unsigned)
	CondAE Cond = 0x3
	CondE  Cond = 0x4 // equal / zero
	CondNE Cond = 0x5
	CondBE Cond = 0x6
	CondA  Cond = 0x7
	CondS  Cond = 0x8
	CondNS Cond = 0x9
	CondL  Cond = 0xC // less (signed)
	CondGE Cond = 0xD
	CondLE Cond = 0xE
	CondG  Cond = 0xF
)

// Invert returns the opposite condition.
func (c Cond) Invert() Cond {
	return c ^ 1
}

// Assembler appends x86-64 machine code to a growing buffer. Methods that
// emit an immediate or displacement field return its offset so callers can
// record it as a hole.
type Assembler struct {
	buf []byte
}

func NewAssembler() *Assembler {
	return &Assembler{}
}

// Offset returns current write position
func (a *Assembler) Offset() int {
	return len(a.buf)
}

// Bytes returns the assembled code
func (a *Assembler) Bytes() []byte {
	return a.buf
}

func (a *Assembler) emit(bytes ...byte) {
	a.buf = append(a.buf, bytes...)
}

func (a *Assembler) emitInt32(v int32) int {
	at := len(a.buf)
	a.buf = binary.LittleEndian.AppendUint32(a.buf, uint32(v))
	return at
}

func (a *Assembler) emitUint64(v uint64) int {
	at := len(a.buf)
	a.buf = binary.LittleEndian.AppendUint64(a.buf, v)
	return at
}

// rex builds REX prefix: 0100WRXB
func rex(w, r, x, b bool) byte {
	var prefix byte = 0x40
	if w {
		prefix |= 0x08
	}
	if r {
		prefix |= 0x04
	}
	if x {
		prefix |= 0x02
	}
	if b {
		prefix |= 0x01
	}
	return prefix
}

// rexW returns REX.W prefix for 64-bit operations
func rexW(reg, rm Reg) byte {
	return rex(true, reg >= 8, false, rm >= 8)
}

// modRM builds ModR/M byte: [mod:2][reg:3][rm:3]
// mod is pre-shifted: 0x00=no disp, 0x40=disp8, 0x80=disp32, 0xC0=register
func modRM(mod byte, reg, rm Reg) byte {
	return mod | ((byte(reg) & 7) << 3) | (byte(rm) & 7)
}

// emitMemOperand emits ModR/M and the shortest displacement for [base+disp].
// RSP/R12 need a SIB byte, RBP/R13 cannot use mod=00.
func (a *Assembler) emitMemOperand(reg, base Reg, disp int32) {
	if base == RSP || base == R12 {
		if disp == 0 {
			a.emit(modRM(0x00, reg, RSP), 0x24)
		} else if disp >= -128 && disp <= 127 {
			a.emit(modRM(0x40, reg, RSP), 0x24, byte(disp))
		} else {
			a.emit(modRM(0x80, reg, RSP), 0x24)
			a.emitInt32(disp)
		}
	} else if base == RBP || base == R13 {
		if disp >= -128 && disp <= 127 {
			a.emit(modRM(0x40, reg, base), byte(disp))
		} else {
			a.emit(modRM(0x80, reg, base))
			a.emitInt32(disp)
		}
	} else if disp == 0 {
		a.emit(modRM(0x00, reg, base))
	} else if disp >= -128 && disp <= 127 {
		a.emit(modRM(0x40, reg, base), byte(disp))
	} else {
		a.emit(modRM(0x80, reg, base))
		a.emitInt32(disp)
	}
}

// emitMemOperandDisp32 always encodes a 32-bit displacement and returns its
// offset, so the displacement can be patched later.
func (a *Assembler) emitMemOperandDisp32(reg, base Reg, disp int32) int {
	if base == RSP || base == R12 {
		a.emit(modRM(0x80, reg, RSP), 0x24)
	} else {
		a.emit(modRM(0x80, reg, base))
	}
	return a.emitInt32(disp)
}

// MovRegReg: mov dst, src (64-bit)
func (a *Assembler) MovRegReg(dst, src Reg) {
	a.emit(rexW(src, dst), 0x89, modRM(0xC0, src, dst))
}

// MovRegImm64: mov reg, imm64. Returns the offset of imm64.
func (a *Assembler) MovRegImm64(reg Reg, imm uint64) int {
	a.emit(rex(true, false, false, reg >= 8), 0xB8|byte(reg&7))
	return a.emitUint64(imm)
}

// MovRegImm32SignExt: mov reg, imm32 sign-extended to 64 bits. Returns the
// offset of imm32.
func (a *Assembler) MovRegImm32SignExt(reg Reg, imm int32) int {
	a.emit(rex(true, false, false, reg >= 8), 0xC7, modRM(0xC0, 0, reg))
	return a.emitInt32(imm)
}

// MovRegMem64: mov reg, [base + disp]
func (a *Assembler) MovRegMem64(reg, base Reg, disp int32) {
	a.emit(rexW(reg, base), 0x8B)
	a.emitMemOperand(reg, base, disp)
}

// MovMemReg64: mov [base + disp], reg
func (a *Assembler) MovMemReg64(base Reg, disp int32, reg Reg) {
	a.emit(rexW(reg, base), 0x89)
	a.emitMemOperand(reg, base, disp)
}

// MovRegMem64Disp32: mov reg, [base + disp32] with a patchable displacement.
func (a *Assembler) MovRegMem64Disp32(reg, base Reg, disp int32) int {
	a.emit(rexW(reg, base), 0x8B)
	return a.emitMemOperandDisp32(reg, base, disp)
}

// MovMemReg64Disp32: mov [base + disp32], reg with a patchable displacement.
func (a *Assembler) MovMemReg64Disp32(base Reg, disp int32, reg Reg) int {
	a.emit(rexW(reg, base), 0x89)
	return a.emitMemOperandDisp32(reg, base, disp)
}

// MovRegMem32: mov reg32, [base + disp] (zero-extends to 64-bit)
func (a *Assembler) MovRegMem32(reg, base Reg, disp int32) {
	if reg >= 8 || base >= 8 {
		a.emit(rex(false, reg >= 8, false, base >= 8))
	}
	a.emit(0x8B)
	a.emitMemOperand(reg, base, disp)
}

// MovMem32Imm32: mov dword [base + disp], imm32. Returns the offset of imm32.
func (a *Assembler) MovMem32Imm32(base Reg, disp int32, imm uint32) int {
	if base >= 8 {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0xC7)
	a.emitMemOperand(0, base, disp)
	return a.emitInt32(int32(imm))
}

// AddRegReg: add dst, src (64-bit)
func (a *Assembler) AddRegReg(dst, src Reg) {
	a.emit(rexW(src, dst), 0x01, modRM(0xC0, src, dst))
}

// AddRegImm32: add reg, imm32 (64-bit, sign-extended)
func (a *Assembler) AddRegImm32(reg Reg, imm int32) {
	a.aluImm(0, reg, imm)
}

// SubRegReg: sub dst, src (64-bit)
func (a *Assembler) SubRegReg(dst, src Reg) {
	a.emit(rexW(src, dst), 0x29, modRM(0xC0, src, dst))
}

// SubRegImm32: sub reg, imm32 (64-bit, sign-extended)
func (a *Assembler) SubRegImm32(reg Reg, imm int32) {
	a.aluImm(5, reg, imm)
}

// SubRegMem64: sub reg, [base + disp]
func (a *Assembler) SubRegMem64(reg, base Reg, disp int32) {
	a.emit(rexW(reg, base), 0x2B)
	a.emitMemOperand(reg, base, disp)
}

// aluImm emits the 0x83/0x81 group 1 form, picking imm8 when it fits.
func (a *Assembler) aluImm(ext byte, reg Reg, imm int32) {
	if imm >= -128 && imm <= 127 {
		a.emit(rexW(0, reg), 0x83, modRM(0xC0, Reg(ext), reg), byte(imm))
	} else {
		a.emit(rexW(0, reg), 0x81, modRM(0xC0, Reg(ext), reg))
		a.emitInt32(imm)
	}
}

// IMulRegReg: imul dst, src (64-bit signed multiply)
func (a *Assembler) IMulRegReg(dst, src Reg) {
	a.emit(rexW(dst, src), 0x0F, 0xAF, modRM(0xC0, dst, src))
}

// AndRegReg: and dst, src (64-bit)
func (a *Assembler) AndRegReg(dst, src Reg) {
	a.emit(rexW(src, dst), 0x21, modRM(0xC0, src, dst))
}

// OrRegReg: or dst, src (64-bit)
func (a *Assembler) OrRegReg(dst, src Reg) {
	a.emit(rexW(src, dst), 0x09, modRM(0xC0, src, dst))
}

// XorRegReg: xor dst, src (64-bit)
func (a *Assembler) XorRegReg(dst, src Reg) {
	a.emit(rexW(src, dst), 0x31, modRM(0xC0, src, dst))
}

// NotReg: not reg (64-bit)
func (a *Assembler) NotReg(reg Reg) {
	a.emit(rexW(0, reg), 0xF7, modRM(0xC0, 2, reg))
}

// NegReg: neg reg (64-bit)
func (a *Assembler) NegReg(reg Reg) {
	a.emit(rexW(0, reg), 0xF7, modRM(0xC0, 3, reg))
}

// SarRegImm8: sar reg, imm8 (64-bit arithmetic)
func (a *Assembler) SarRegImm8(reg Reg, imm byte) {
	if imm == 1 {
		a.emit(rexW(0, reg), 0xD1, modRM(0xC0, 7, reg))
	} else {
		a.emit(rexW(0, reg), 0xC1, modRM(0xC0, 7, reg), imm)
	}
}

// CmpRegReg: cmp left, right (64-bit)
func (a *Assembler) CmpRegReg(left, right Reg) {
	a.emit(rexW(right, left), 0x39, modRM(0xC0, right, left))
}

// TestRegReg: test left, right (64-bit)
func (a *Assembler) TestRegReg(left, right Reg) {
	a.emit(rexW(right, left), 0x85, modRM(0xC0, right, left))
}

// Setcc: set the low byte of reg to 1 if cond holds, else 0.
func (a *Assembler) Setcc(cond Cond, reg Reg) {
	// SPL/BPL/SIL/DIL are only reachable with a REX prefix
	if reg >= RSP {
		a.emit(rex(false, false, false, reg >= 8))
	}
	a.emit(0x0F, 0x90|byte(cond), modRM(0xC0, 0, reg))
}

// Jcc8: short conditional jump.
func (a *Assembler) Jcc8(cond Cond, rel8 int8) {
	a.emit(0x70|byte(cond), byte(rel8))
}

// JccNear: conditional jump with rel32. Returns the offset of rel32.
func (a *Assembler) JccNear(cond Cond, rel32 int32) int {
	a.emit(0x0F, 0x80|byte(cond))
	return a.emitInt32(rel32)
}

// JmpRel32: jmp rel32. Returns the offset of rel32.
func (a *Assembler) JmpRel32(rel32 int32) int {
	a.emit(0xE9)
	return a.emitInt32(rel32)
}

// JmpReg: jmp reg
func (a *Assembler) JmpReg(reg Reg) {
	if reg >= 8 {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0xFF, modRM(0xC0, 4, reg))
}

// Ret: ret
func (a *Assembler) Ret() {
	a.emit(0xC3)
}

// Push: push reg
func (a *Assembler) Push(reg Reg) {
	if reg >= 8 {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0x50 | byte(reg&7))
}

// Pop: pop reg
func (a *Assembler) Pop(reg Reg) {
	if reg >= 8 {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0x58 | byte(reg&7))
}

// Nop: nop
func (a *Assembler) Nop() {
	a.emit(0x90)
}

// Int3: int3 (breakpoint)
func (a *Assembler) Int3() {
	a.emit(0xCC)
}
