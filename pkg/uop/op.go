// Package uop defines the micro-op instruction set the tracing tier records
// and the compiler consumes.
package uop

import "fmt"

// Op identifies a micro-op kind. The zero value is not a valid op.
type Op uint8

const (
	Invalid Op = iota
	Nop
	LoadConst
	LoadSmallInt
	LoadFast
	StoreFast
	PopTop
	DupTop
	Swap
	BinaryAdd
	BinarySubtract
	BinaryMultiply
	BinaryAnd
	BinaryOr
	BinaryXor
	UnaryNegative
	UnaryInvert
	UnaryNot
	CompareLt
	CompareLe
	CompareEq
	CompareNe
	CompareGt
	CompareGe
	GuardIsTrue
	GuardIsFalse
	CheckEvalBreaker
	PopJumpIfFalse
	PopJumpIfTrue
	Jump
	JumpToTop
	ExitTrace
	ReturnValue
	Deopt

	numOps
)

// Flags describe how an op interacts with control flow and operands.
type Flags uint8

const (
	FlagSideExit   Flags = 1 << iota // may leave the trace through a side exit
	FlagTerminator                   // never falls through to the next record
	FlagJump                         // oparg is a trace position
	FlagLocal                        // oparg is a local slot
)

// OpInfo is the static description of an op.
type OpInfo struct {
	Name   string
	Pops   int
	Pushes int
	Flags  Flags
}

var opInfo = [numOps]OpInfo{
	Invalid:          {Name: "INVALID"},
	Nop:              {Name: "NOP"},
	LoadConst:        {Name: "LOAD_CONST", Pushes: 1},
	LoadSmallInt:     {Name: "LOAD_SMALL_INT", Pushes: 1},
	LoadFast:         {Name: "LOAD_FAST", Pushes: 1, Flags: FlagLocal},
	StoreFast:        {Name: "STORE_FAST", Pops: 1, Flags: FlagLocal},
	PopTop:           {Name: "POP_TOP", Pops: 1},
	DupTop:           {Name: "DUP_TOP", Pops: 1, Pushes: 2},
	Swap:             {Name: "SWAP", Pops: 2, Pushes: 2},
	BinaryAdd:        {Name: "BINARY_ADD", Pops: 2, Pushes: 1},
	BinarySubtract:   {Name: "BINARY_SUBTRACT", Pops: 2, Pushes: 1},
	BinaryMultiply:   {Name: "BINARY_MULTIPLY", Pops: 2, Pushes: 1},
	BinaryAnd:        {Name: "BINARY_AND", Pops: 2, Pushes: 1},
	BinaryOr:         {Name: "BINARY_OR", Pops: 2, Pushes: 1},
	BinaryXor:        {Name: "BINARY_XOR", Pops: 2, Pushes: 1},
	UnaryNegative:    {Name: "UNARY_NEGATIVE", Pops: 1, Pushes: 1},
	UnaryInvert:      {Name: "UNARY_INVERT", Pops: 1, Pushes: 1},
	UnaryNot:         {Name: "UNARY_NOT", Pops: 1, Pushes: 1},
	CompareLt:        {Name: "COMPARE_LT", Pops: 2, Pushes: 1},
	CompareLe:        {Name: "COMPARE_LE", Pops: 2, Pushes: 1},
	CompareEq:        {Name: "COMPARE_EQ", Pops: 2, Pushes: 1},
	CompareNe:        {Name: "COMPARE_NE", Pops: 2, Pushes: 1},
	CompareGt:        {Name: "COMPARE_GT", Pops: 2, Pushes: 1},
	CompareGe:        {Name: "COMPARE_GE", Pops: 2, Pushes: 1},
	GuardIsTrue:      {Name: "GUARD_IS_TRUE", Pops: 1, Flags: FlagSideExit},
	GuardIsFalse:     {Name: "GUARD_IS_FALSE", Pops: 1, Flags: FlagSideExit},
	CheckEvalBreaker: {Name: "CHECK_EVAL_BREAKER", Flags: FlagSideExit},
	PopJumpIfFalse:   {Name: "POP_JUMP_IF_FALSE", Pops: 1, Flags: FlagJump},
	PopJumpIfTrue:    {Name: "POP_JUMP_IF_TRUE", Pops: 1, Flags: FlagJump},
	Jump:             {Name: "JUMP", Flags: FlagJump | FlagTerminator},
	JumpToTop:        {Name: "JUMP_TO_TOP", Flags: FlagTerminator},
	ExitTrace:        {Name: "EXIT_TRACE", Flags: FlagTerminator},
	ReturnValue:      {Name: "RETURN_VALUE", Pops: 1, Flags: FlagTerminator},
	Deopt:            {Name: "DEOPT", Flags: FlagSideExit | FlagTerminator},
}

var opsByName = func() map[string]Op {
	m := make(map[string]Op, numOps)
	for op := Nop; op < numOps; op++ {
		m[opInfo[op].Name] = op
	}
	return m
}()

// Valid reports whether op is part of the instruction set.
func (op Op) Valid() bool {
	return op > Invalid && op < numOps
}

// Info returns the static description of op. Unknown ops get a zero
// stack effect and a synthetic name.
func (op Op) Info() OpInfo {
	if !op.Valid() {
		return OpInfo{Name: fmt.Sprintf("OP_%d", uint8(op))}
	}
	return opInfo[op]
}

func (op Op) String() string {
	return op.Info().Name
}

func (op Op) Has(f Flags) bool {
	return op.Info().Flags&f != 0
}

// Lookup resolves an op by its upper-case name.
func Lookup(name string) (Op, bool) {
	op, ok := opsByName[name]
	return op, ok
}

// Ops lists every valid op in numeric order.
func Ops() []Op {
	ops := make([]Op, 0, numOps-1)
	for op := Nop; op < numOps; op++ {
		ops = append(ops, op)
	}
	return ops
}
