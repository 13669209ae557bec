// Package stencil holds the precomputed machine-code templates the trace
// compiler copies, one per micro-op plus the fixed entry and exit pieces.
package stencil

import "fmt"

// HoleKind says how a hole's resolved value is written into the code.
type HoleKind uint8

const (
	Absolute  HoleKind = iota + 1 // full address
	Relative                      // target - (base + offset) + addend
	Immediate                     // operand value
)

func (k HoleKind) String() string {
	switch k {
	case Absolute:
		return "abs"
	case Relative:
		return "rel"
	case Immediate:
		return "imm"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// HoleValue names what a hole is filled with.
type HoleValue uint8

const (
	Oparg      HoleValue = iota + 1 // the record's oparg
	OpargSlot                       // oparg * 8, a local slot displacement
	Target                          // the record's resume target
	ExitIndex                       // the side-exit ordinal
	Continue                        // next fragment
	JumpTarget                      // fragment named by oparg
	Top                             // fragment 0
	SideExit                        // this record's side-exit fragment
	NormalExit                      // the normal exit fragment
)

var holeValueNames = map[HoleValue]string{
	Oparg:      "oparg",
	OpargSlot:  "oparg-slot",
	Target:     "target",
	ExitIndex:  "exit-index",
	Continue:   "continue",
	JumpTarget: "jump-target",
	Top:        "top",
	SideExit:   "side-exit",
	NormalExit: "normal-exit",
}

func (v HoleValue) String() string {
	if name, ok := holeValueNames[v]; ok {
		return name
	}
	return fmt.Sprintf("value(%d)", uint8(v))
}

// Control reports whether the value is a code address.
func (v HoleValue) Control() bool {
	return v >= Continue && v <= NormalExit
}

// Hole is a patch site inside a stencil.
type Hole struct {
	Offset int       `cbor:"1,keyasint"`
	Kind   HoleKind  `cbor:"2,keyasint"`
	Width  uint8     `cbor:"3,keyasint"` // bytes, 4 or 8
	Signed bool      `cbor:"4,keyasint"`
	Value  HoleValue `cbor:"5,keyasint"`
	Addend int64     `cbor:"6,keyasint"`
}

func (h Hole) String() string {
	s := fmt.Sprintf("+%d %s%d %s", h.Offset, h.Kind, h.Width*8, h.Value)
	if h.Addend != 0 {
		s += fmt.Sprintf("%+d", h.Addend)
	}
	return s
}

// Stencil is a position independent code template.
type Stencil struct {
	Code  []byte `cbor:"1,keyasint"`
	Holes []Hole `cbor:"2,keyasint"`
	// Tail is where a trailing transfer to the next fragment starts, or
	// len(Code) if there is none. Code from Tail on may be dropped when
	// the next fragment is laid out directly after this one.
	Tail int `cbor:"3,keyasint"`
}

// Size is the stencil length when its tail is kept.
func (s Stencil) Size() int {
	return len(s.Code)
}

// Trim returns the stencil with its fall-through tail removed.
func (s Stencil) Trim() Stencil {
	if s.Tail >= len(s.Code) {
		return s
	}
	t := Stencil{Code: s.Code[:s.Tail:s.Tail], Tail: s.Tail}
	for _, h := range s.Holes {
		if h.Offset < s.Tail {
			t.Holes = append(t.Holes, h)
		}
	}
	return t
}
