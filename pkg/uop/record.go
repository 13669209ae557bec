package uop

import "fmt"

// Position locates the bytecode instruction a record was recorded from.
type Position struct {
	Offset uint32
	Line   int
}

func (p Position) String() string {
	if p.Line > 0 {
		return fmt.Sprintf("@%d (line %d)", p.Offset, p.Line)
	}
	return fmt.Sprintf("@%d", p.Offset)
}

// Record is one micro-op in a trace.
//
// Oparg carries the op's operand: a constant for LOAD_CONST and
// LOAD_SMALL_INT, a local slot for LOAD_FAST/STORE_FAST, a trace position
// for jumps. Target is where the interpreter resumes when the trace exits
// at this record.
type Record struct {
	Op     Op
	Oparg  int64
	Target uint32
	Pos    Position
}

func (r Record) String() string {
	switch {
	case r.Op.Has(FlagJump), r.Op.Has(FlagLocal), r.Op == LoadConst, r.Op == LoadSmallInt:
		return fmt.Sprintf("%s %d", r.Op, r.Oparg)
	case r.Op.Has(FlagSideExit), r.Op == ExitTrace:
		return fmt.Sprintf("%s ->%d", r.Op, r.Target)
	default:
		return r.Op.String()
	}
}

// Trace is an ordered, immutable sequence of records.
type Trace []Record
