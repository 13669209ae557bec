package stencil

import (
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/crypto/blake2b"

	"tracejit/pkg/abi"
	"tracejit/pkg/uop"
)

// Table is the versioned set of stencils for one architecture and calling
// convention. A table is immutable once built or decoded.
type Table struct {
	Arch       string             `cbor:"1,keyasint"`
	Convention abi.Convention     `cbor:"2,keyasint"`
	Version    string             `cbor:"3,keyasint"`
	Entry      Stencil            `cbor:"4,keyasint"`
	NormalExit Stencil            `cbor:"5,keyasint"`
	SideExit   Stencil            `cbor:"6,keyasint"`
	Ops        map[uop.Op]Stencil `cbor:"7,keyasint"`
}

// Lookup returns the stencil for op.
func (t *Table) Lookup(op uop.Op) (Stencil, bool) {
	s, ok := t.Ops[op]
	return s, ok
}

// SortedOps lists the ops the table covers in numeric order.
func (t *Table) SortedOps() []uop.Op {
	ops := make([]uop.Op, 0, len(t.Ops))
	for op := range t.Ops {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}

// Fingerprint is the blake2b-256 digest of the table's encoding with the
// version left empty.
func (t *Table) Fingerprint() (string, error) {
	c := *t
	c.Version = ""
	data, err := Encode(&c)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Seal validates the table and stamps its version.
func (t *Table) Seal() error {
	if err := t.Validate(); err != nil {
		return err
	}
	v, err := t.Fingerprint()
	if err != nil {
		return err
	}
	t.Version = v
	return nil
}

// Validate checks every stencil for well-formed holes and reports all
// problems at once.
func (t *Table) Validate() error {
	var result *multierror.Error
	if t.Arch == "" {
		result = multierror.Append(result, errors.New("table has no architecture"))
	}
	if t.Convention != abi.ZeroLive && t.Convention != abi.Standard {
		result = multierror.Append(result, errors.Newf("table has invalid convention %s", t.Convention))
	}

	check := func(name string, s Stencil, allowed func(HoleValue) bool) {
		for _, err := range validateStencil(s, allowed) {
			result = multierror.Append(result, errors.Wrapf(err, "stencil %s", name))
		}
	}

	check("entry", t.Entry, func(HoleValue) bool { return false })
	check("normal exit", t.NormalExit, func(HoleValue) bool { return false })
	check("side exit", t.SideExit, func(v HoleValue) bool {
		return v == ExitIndex || v == Target || v == NormalExit
	})

	for _, op := range t.SortedOps() {
		if !op.Valid() {
			result = multierror.Append(result, errors.Newf("stencil for invalid op %d", uint8(op)))
			continue
		}
		info := op.Info()
		check(op.String(), t.Ops[op], func(v HoleValue) bool {
			switch v {
			case Oparg, Target, Top, NormalExit:
				return true
			case OpargSlot:
				return info.Flags&uop.FlagLocal != 0
			case SideExit:
				return info.Flags&uop.FlagSideExit != 0
			case JumpTarget:
				return info.Flags&uop.FlagJump != 0
			case Continue:
				return info.Flags&uop.FlagTerminator == 0
			default:
				return false
			}
		})
	}
	return result.ErrorOrNil()
}

func validateStencil(s Stencil, allowed func(HoleValue) bool) []error {
	var errs []error
	if s.Tail < 0 || s.Tail > len(s.Code) {
		errs = append(errs, errors.Newf("tail %d outside code of %d bytes", s.Tail, len(s.Code)))
	}
	end := 0
	for i, h := range s.Holes {
		where := fmt.Sprintf("hole %d (%s)", i, h)
		switch {
		case h.Width != 4 && h.Width != 8:
			errs = append(errs, errors.Newf("%s: width %d", where, h.Width))
			continue
		case h.Offset < 0 || h.Offset+int(h.Width) > len(s.Code):
			errs = append(errs, errors.Newf("%s: outside code of %d bytes", where, len(s.Code)))
			continue
		case h.Offset < end:
			errs = append(errs, errors.Newf("%s: overlaps previous hole", where))
		}
		end = h.Offset + int(h.Width)

		if !allowed(h.Value) {
			errs = append(errs, errors.Newf("%s: value not allowed here", where))
		}
		switch h.Kind {
		case Absolute:
			if !h.Value.Control() || h.Width != 8 {
				errs = append(errs, errors.Newf("%s: absolute holes are 8-byte addresses", where))
			}
		case Relative:
			if !h.Value.Control() || h.Width != 4 {
				errs = append(errs, errors.Newf("%s: relative holes are 4-byte displacements", where))
			}
		case Immediate:
			if h.Value.Control() {
				errs = append(errs, errors.Newf("%s: control value in immediate hole", where))
			}
		default:
			errs = append(errs, errors.Newf("%s: unknown kind", where))
		}
		if h.Offset >= s.Tail && h.Value != Continue {
			errs = append(errs, errors.Newf("%s: only continue holes may sit in the tail", where))
		}
	}
	return errs
}
