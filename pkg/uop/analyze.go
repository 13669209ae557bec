package uop

import (
	jiterr "tracejit/pkg/errors"
)

// Analysis is the static shape of a trace: stack depths relative to the
// depth at entry, locals touched and the side exits it may take.
type Analysis struct {
	Depth    []int  // depth before each record
	Reached  []bool // false for records no path reaches
	MinDepth int    // lowest depth reached, <= 0
	MaxDepth int    // highest depth reached, >= 0
	MaxLocal int    // highest local slot referenced, -1 if none

	// SideExits lists the positions of side-exiting records. A record's
	// side-exit index is its position in this slice.
	SideExits []int

	exitIndex []int
}

// ExitIndex returns the side-exit index of the record at pos, or -1.
func (a *Analysis) ExitIndex(pos int) int {
	if pos < 0 || pos >= len(a.exitIndex) {
		return -1
	}
	return a.exitIndex[pos]
}

// Analyze validates trace and computes its Analysis. Loops must come back
// to the top at the entry depth, and every join must agree on depth, so
// the bounds hold for any number of iterations.
func Analyze(trace Trace) (*Analysis, error) {
	n := len(trace)
	if n == 0 {
		return nil, jiterr.Newf(jiterr.MalformedTrace, "empty trace")
	}

	a := &Analysis{
		Depth:     make([]int, n),
		Reached:   make([]bool, n),
		MaxLocal:  -1,
		exitIndex: make([]int, n),
	}

	for i, rec := range trace {
		a.exitIndex[i] = -1
		if !rec.Op.Valid() {
			return nil, jiterr.Newf(jiterr.Unsupported, "unknown micro-op").At(i, rec.Op.String())
		}
		if rec.Op.Has(FlagSideExit) {
			a.exitIndex[i] = len(a.SideExits)
			a.SideExits = append(a.SideExits, i)
		}
		if rec.Op.Has(FlagLocal) {
			if rec.Oparg < 0 {
				return nil, jiterr.Newf(jiterr.MalformedTrace, "negative local slot %d", rec.Oparg).At(i, rec.Op.String())
			}
			if rec.Oparg > int64(a.MaxLocal) {
				a.MaxLocal = int(rec.Oparg)
			}
		}
		if rec.Op.Has(FlagJump) && (rec.Oparg < 0 || rec.Oparg >= int64(n)) {
			return nil, jiterr.Newf(jiterr.DanglingTransfer,
				"jump target %d outside trace of length %d", rec.Oparg, n).At(i, rec.Op.String())
		}
	}

	if last := trace[n-1]; !last.Op.Has(FlagTerminator) {
		return nil, jiterr.Newf(jiterr.MalformedTrace, "trace ends without an unconditional transfer").At(n-1, last.Op.String())
	}

	a.Reached[0] = true
	work := []int{0}
	for len(work) > 0 {
		i := work[len(work)-1]
		work = work[:len(work)-1]

		rec := trace[i]
		info := rec.Op.Info()
		d := a.Depth[i] - info.Pops
		a.MinDepth = min(a.MinDepth, d)
		d += info.Pushes
		a.MaxDepth = max(a.MaxDepth, d)

		var succs [2]int
		ns := 0
		if info.Flags&FlagTerminator == 0 {
			succs[ns] = i + 1
			ns++
		}
		if info.Flags&FlagJump != 0 {
			succs[ns] = int(rec.Oparg)
			ns++
		} else if rec.Op == JumpToTop {
			succs[ns] = 0
			ns++
		}

		for _, s := range succs[:ns] {
			if !a.Reached[s] {
				a.Reached[s] = true
				a.Depth[s] = d
				work = append(work, s)
				continue
			}
			if a.Depth[s] != d {
				return nil, jiterr.Newf(jiterr.MalformedTrace,
					"stack depth %d flowing into trace[%d] disagrees with %d", d, s, a.Depth[s]).At(i, rec.Op.String())
			}
		}
	}

	return a, nil
}
