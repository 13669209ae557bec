package jit

import (
	"encoding/binary"
	"math"

	jiterr "tracejit/pkg/errors"
	"tracejit/pkg/stencil"
)

// Link is the patch pass. It copies the unit into mem, which will live at
// base, and resolves every hole. All fragment offsets are fixed by Emit, so
// forward and backward transfers resolve alike. It returns the number of
// holes resolved; callers compare it with len(u.Holes) before the memory
// is made executable.
func Link(u *Unit, mem []byte, base uintptr) (int, error) {
	if len(mem) < len(u.Code) {
		return 0, jiterr.Newf(jiterr.ResourceExhausted,
			"writable view of %d bytes cannot hold %d byte unit", len(mem), len(u.Code))
	}
	copy(mem, u.Code)

	resolved := 0
	for _, h := range u.Holes {
		if err := u.patch(mem, base, h); err != nil {
			if h.Pos >= 0 {
				return resolved, err.At(h.Pos, u.trace[h.Pos].Op.String())
			}
			return resolved, err
		}
		resolved++
	}
	return resolved, nil
}

func (u *Unit) patch(mem []byte, base uintptr, h UnitHole) *jiterr.CompileError {
	if h.Value.Control() {
		off, err := u.controlTarget(h)
		if err != nil {
			return err
		}
		if !u.isTarget(off) {
			return jiterr.Newf(jiterr.DanglingTransfer,
				"%s hole resolves to offset %d, not a fragment start", h.Value, off)
		}
		switch h.Kind {
		case stencil.Absolute:
			binary.LittleEndian.PutUint64(mem[h.Offset:], uint64(base)+uint64(off)+uint64(h.Addend))
		case stencil.Relative:
			// base cancels out: target - (base + offset) + addend
			rel := int64(off) - int64(h.Offset) + h.Addend
			if rel < math.MinInt32 || rel > math.MaxInt32 {
				return jiterr.Newf(jiterr.EncodingOverflow, "relative transfer %d does not fit rel32", rel)
			}
			binary.LittleEndian.PutUint32(mem[h.Offset:], uint32(int32(rel)))
		default:
			return jiterr.Newf(jiterr.DanglingTransfer, "%s hole has kind %s", h.Value, h.Kind)
		}
		return nil
	}

	v, err := u.operand(h)
	if err != nil {
		return err
	}
	v += h.Addend
	switch {
	case h.Width == 8:
		binary.LittleEndian.PutUint64(mem[h.Offset:], uint64(v))
	case h.Width == 4 && h.Signed:
		if v < math.MinInt32 || v > math.MaxInt32 {
			return jiterr.Newf(jiterr.EncodingOverflow, "%s %d does not fit a signed 32-bit hole", h.Value, v)
		}
		binary.LittleEndian.PutUint32(mem[h.Offset:], uint32(int32(v)))
	case h.Width == 4:
		if v < 0 || v > math.MaxUint32 {
			return jiterr.Newf(jiterr.EncodingOverflow, "%s %d does not fit an unsigned 32-bit hole", h.Value, v)
		}
		binary.LittleEndian.PutUint32(mem[h.Offset:], uint32(v))
	default:
		return jiterr.Newf(jiterr.EncodingOverflow, "%s hole has width %d", h.Value, h.Width)
	}
	return nil
}

// controlTarget resolves a control hole to a unit offset.
func (u *Unit) controlTarget(h UnitHole) (int, *jiterr.CompileError) {
	switch h.Value {
	case stencil.Top:
		return u.Top(), nil
	case stencil.NormalExit:
		return u.NormalExit, nil
	}

	if h.Pos < 0 {
		return 0, jiterr.Newf(jiterr.DanglingTransfer, "%s hole outside any fragment", h.Value)
	}
	switch h.Value {
	case stencil.Continue:
		if h.Pos+1 >= len(u.Fragments) {
			return 0, jiterr.Newf(jiterr.DanglingTransfer, "fall-through past the last fragment")
		}
		return u.Fragments[h.Pos+1], nil
	case stencil.JumpTarget:
		dest := u.trace[h.Pos].Oparg
		if dest < 0 || dest >= int64(len(u.Fragments)) {
			return 0, jiterr.Newf(jiterr.DanglingTransfer, "jump to trace position %d", dest)
		}
		return u.Fragments[dest], nil
	case stencil.SideExit:
		k := u.analysis.ExitIndex(h.Pos)
		if k < 0 || k >= len(u.SideExits) {
			return 0, jiterr.Newf(jiterr.DanglingTransfer, "record has no side-exit fragment")
		}
		return u.SideExits[k], nil
	default:
		return 0, jiterr.Newf(jiterr.DanglingTransfer, "unknown control value %s", h.Value)
	}
}

// operand resolves an immediate hole to its value before encoding.
func (u *Unit) operand(h UnitHole) (int64, *jiterr.CompileError) {
	if h.Pos < 0 {
		return 0, jiterr.Newf(jiterr.MalformedTrace, "%s hole outside any fragment", h.Value)
	}
	rec := u.trace[h.Pos]
	switch h.Value {
	case stencil.Oparg:
		return rec.Oparg, nil
	case stencil.OpargSlot:
		if rec.Oparg < 0 || rec.Oparg > math.MaxInt64/8 {
			return 0, jiterr.Newf(jiterr.EncodingOverflow, "local slot %d has no byte displacement", rec.Oparg)
		}
		return rec.Oparg * 8, nil
	case stencil.Target:
		return int64(rec.Target), nil
	case stencil.ExitIndex:
		k := u.analysis.ExitIndex(h.Pos)
		if k < 0 {
			return 0, jiterr.Newf(jiterr.MalformedTrace, "record has no side exit")
		}
		return int64(k), nil
	default:
		return 0, jiterr.Newf(jiterr.MalformedTrace, "unknown operand %s", h.Value)
	}
}
