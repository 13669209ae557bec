package jit

import (
	"sort"

	"tracejit/pkg/stencil"
	"tracejit/pkg/uop"
)

// UnitHole is a stencil hole translated to a unit offset.
type UnitHole struct {
	stencil.Hole
	// Pos is the trace position the hole takes its operands from. Holes in
	// a side-exit fragment belong to the record that exits there. -1 for
	// holes owned by no record.
	Pos int
}

// Unit is the output of the emit pass: every fragment copied, none patched.
//
// Layout: [entry][fragment 0 .. n-1][normal exit][side exit 0 .. k-1]
type Unit struct {
	Code       []byte
	Fragments  []int // start offset per trace position
	NormalExit int
	SideExits  []int // start offset per side-exit ordinal
	Holes      []UnitHole

	trace    uop.Trace
	analysis *uop.Analysis
}

// Top is the offset of fragment 0, where loops jump back to.
func (u *Unit) Top() int {
	return u.Fragments[0]
}

// Size is the unit length in bytes.
func (u *Unit) Size() int {
	return len(u.Code)
}

// isTarget reports whether off is a legal control target: a fragment start
// or a reserved exit fragment.
func (u *Unit) isTarget(off int) bool {
	if off == u.NormalExit {
		return true
	}
	i := sort.SearchInts(u.Fragments, off)
	if i < len(u.Fragments) && u.Fragments[i] == off {
		return true
	}
	i = sort.SearchInts(u.SideExits, off)
	return i < len(u.SideExits) && u.SideExits[i] == off
}
