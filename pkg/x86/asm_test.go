package x86

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestEncodings(t *testing.T) {
	tests := []struct {
		name string
		emit func(a *Assembler)
		want []byte
	}{
		{"mov r12, rdi", func(a *Assembler) { a.MovRegReg(R12, RDI) }, []byte{0x49, 0x89, 0xFC}},
		{"mov rbp, rsp", func(a *Assembler) { a.MovRegReg(RBP, RSP) }, []byte{0x48, 0x89, 0xE5}},
		{"mov rax, [r13-8]", func(a *Assembler) { a.MovRegMem64(RAX, R13, -8) }, []byte{0x49, 0x8B, 0x45, 0xF8}},
		{"mov [r12], rax", func(a *Assembler) { a.MovMemReg64(R12, 0, RAX) }, []byte{0x49, 0x89, 0x04, 0x24}},
		{"mov [rsi], rax", func(a *Assembler) { a.MovMemReg64(RSI, 0, RAX) }, []byte{0x48, 0x89, 0x06}},
		{"mov eax, [r15+24]", func(a *Assembler) { a.MovRegMem32(RAX, R15, 24) }, []byte{0x41, 0x8B, 0x47, 0x18}},
		{"sub rax, [rdi+24]", func(a *Assembler) { a.SubRegMem64(RAX, RDI, 24) }, []byte{0x48, 0x2B, 0x47, 0x18}},
		{"add r13, 8", func(a *Assembler) { a.AddRegImm32(R13, 8) }, []byte{0x49, 0x83, 0xC5, 0x08}},
		{"sub rsi, 8", func(a *Assembler) { a.SubRegImm32(RSI, 8) }, []byte{0x48, 0x83, 0xEE, 0x08}},
		{"add rax, 0x1000", func(a *Assembler) { a.AddRegImm32(RAX, 0x1000) }, []byte{0x48, 0x81, 0xC0, 0x00, 0x10, 0x00, 0x00}},
		{"sar rax, 3", func(a *Assembler) { a.SarRegImm8(RAX, 3) }, []byte{0x48, 0xC1, 0xF8, 0x03}},
		{"imul rax, rcx", func(a *Assembler) { a.IMulRegReg(RAX, RCX) }, []byte{0x48, 0x0F, 0xAF, 0xC1}},
		{"xor r8, r8", func(a *Assembler) { a.XorRegReg(R8, R8) }, []byte{0x4D, 0x31, 0xC0}},
		{"cmp rax, rcx", func(a *Assembler) { a.CmpRegReg(RAX, RCX) }, []byte{0x48, 0x39, 0xC8}},
		{"test rax, rax", func(a *Assembler) { a.TestRegReg(RAX, RAX) }, []byte{0x48, 0x85, 0xC0}},
		{"neg rax", func(a *Assembler) { a.NegReg(RAX) }, []byte{0x48, 0xF7, 0xD8}},
		{"not rax", func(a *Assembler) { a.NotReg(RAX) }, []byte{0x48, 0xF7, 0xD0}},
		{"setl dl", func(a *Assembler) { a.Setcc(CondL, RDX) }, []byte{0x0F, 0x9C, 0xC2}},
		{"sete r8b", func(a *Assembler) { a.Setcc(CondE, R8) }, []byte{0x41, 0x0F, 0x94, 0xC0}},
		{"jne +13", func(a *Assembler) { a.Jcc8(CondNE, 13) }, []byte{0x75, 0x0D}},
		{"jmp r11", func(a *Assembler) { a.JmpReg(R11) }, []byte{0x41, 0xFF, 0xE3}},
		{"push rbp", func(a *Assembler) { a.Push(RBP) }, []byte{0x55}},
		{"pop rbp", func(a *Assembler) { a.Pop(RBP) }, []byte{0x5D}},
		{"ret", func(a *Assembler) { a.Ret() }, []byte{0xC3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAssembler()
			tt.emit(a)
			if diff := cmp.Diff(tt.want, a.Bytes()); diff != "" {
				t.Errorf("encoding mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPatchSiteOffsets(t *testing.T) {
	a := NewAssembler()
	a.Nop()

	at := a.MovRegImm64(R11, 0x1122334455667788)
	require.Equal(t, 3, at)
	require.Equal(t, []byte{0x49, 0xBB, 0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11}, a.Bytes()[1:])

	a = NewAssembler()
	require.Equal(t, 1, a.JmpRel32(0))
	require.Equal(t, 7, a.JccNear(CondE, -1))
	require.Equal(t, []byte{0xE9, 0, 0, 0, 0, 0x0F, 0x84, 0xFF, 0xFF, 0xFF, 0xFF}, a.Bytes())

	a = NewAssembler()
	require.Equal(t, 3, a.MovRegMem64Disp32(RAX, RCX, 0x10))
	require.Equal(t, []byte{0x48, 0x8B, 0x81, 0x10, 0, 0, 0}, a.Bytes())

	a = NewAssembler()
	require.Equal(t, 4, a.MovMemReg64Disp32(R12, 8, RAX))
	require.Equal(t, []byte{0x49, 0x89, 0x84, 0x24, 0x08, 0, 0, 0}, a.Bytes())

	a = NewAssembler()
	require.Equal(t, 4, a.MovMem32Imm32(R15, 8, 0xAABBCCDD))
	require.Equal(t, []byte{0x41, 0xC7, 0x47, 0x08, 0xDD, 0xCC, 0xBB, 0xAA}, a.Bytes())

	a = NewAssembler()
	require.Equal(t, 3, a.MovRegImm32SignExt(RAX, -1))
	require.Equal(t, []byte{0x48, 0xC7, 0xC0, 0xFF, 0xFF, 0xFF, 0xFF}, a.Bytes())
}

func TestCondInvert(t *testing.T) {
	require.Equal(t, CondNE, CondE.Invert())
	require.Equal(t, CondGE, CondL.Invert())
	require.Equal(t, CondG, CondLE.Invert())
}
