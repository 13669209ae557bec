package jit

import (
	jiterr "tracejit/pkg/errors"
	"tracejit/pkg/stencil"
	"tracejit/pkg/uop"
)

// Compiler is the emit pass: it lays out one fragment per trace record
// by copying stencils verbatim and records where every hole landed.
// It holds no per-compile state and may be shared.
type Compiler struct {
	table            *stencil.Table
	maxSize          int
	elideFallthrough bool
}

// NewCompiler creates an emit pass over table. Units larger than maxSize
// bytes are rejected.
func NewCompiler(table *stencil.Table, maxSize int, elideFallthrough bool) *Compiler {
	return &Compiler{
		table:            table,
		maxSize:          maxSize,
		elideFallthrough: elideFallthrough,
	}
}

// Emit builds the unpatched unit for an analysed trace.
func (c *Compiler) Emit(trace uop.Trace, a *uop.Analysis) (*Unit, error) {
	if len(trace) == 0 {
		return nil, jiterr.Newf(jiterr.MalformedTrace, "empty trace")
	}

	// Look everything up first so a missing stencil fails before any
	// copying happens.
	stencils := make([]stencil.Stencil, len(trace))
	for i, rec := range trace {
		s, ok := c.table.Lookup(rec.Op)
		if !ok {
			return nil, jiterr.Newf(jiterr.Unsupported, "no stencil").At(i, rec.Op.String())
		}
		// The next fragment is always laid out right after this one, so
		// a trailing transfer to it is redundant.
		if c.elideFallthrough && i+1 < len(trace) {
			s = s.Trim()
		}
		stencils[i] = s
	}

	u := &Unit{
		Fragments: make([]int, len(trace)),
		SideExits: make([]int, len(a.SideExits)),
		trace:     trace,
		analysis:  a,
	}
	if err := c.copy(u, c.table.Entry, -1); err != nil {
		return nil, err
	}
	for i, s := range stencils {
		u.Fragments[i] = len(u.Code)
		if err := c.copy(u, s, i); err != nil {
			return nil, err.At(i, trace[i].Op.String())
		}
	}
	u.NormalExit = len(u.Code)
	if err := c.copy(u, c.table.NormalExit, -1); err != nil {
		return nil, err
	}
	for k, pos := range a.SideExits {
		u.SideExits[k] = len(u.Code)
		if err := c.copy(u, c.table.SideExit, pos); err != nil {
			return nil, err.At(pos, trace[pos].Op.String())
		}
	}
	return u, nil
}

func (c *Compiler) copy(u *Unit, s stencil.Stencil, pos int) *jiterr.CompileError {
	if len(u.Code)+len(s.Code) > c.maxSize {
		return jiterr.Newf(jiterr.ResourceExhausted,
			"unit exceeds maximum code size of %d bytes", c.maxSize)
	}
	start := len(u.Code)
	u.Code = append(u.Code, s.Code...)
	for _, h := range s.Holes {
		h.Offset += start
		u.Holes = append(u.Holes, UnitHole{Hole: h, Pos: pos})
	}
	return nil
}
