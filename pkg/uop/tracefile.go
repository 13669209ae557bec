package uop

import (
	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
)

// TraceFile is the on-disk form of a recorded trace together with the
// frame it was recorded against.
//
//	name = "sum"
//	locals = [0, 10]
//	[[record]]
//	op = "LOAD_FAST"
//	oparg = 0
type TraceFile struct {
	Name    string        `toml:"name"`
	Locals  []int64       `toml:"locals"`
	Stack   []int64       `toml:"stack"`
	Records []RecordEntry `toml:"record"`
	Expect  *Expectation  `toml:"expect"`
}

type RecordEntry struct {
	Op     string `toml:"op"`
	Oparg  int64  `toml:"oparg"`
	Target uint32 `toml:"target"`
	Offset uint32 `toml:"offset"`
	Line   int    `toml:"line"`
}

// Expectation is the recorded outcome of running a trace file. Unset
// fields are not checked.
type Expectation struct {
	Reason    string  `toml:"reason"` // exit, return or side-exit
	Target    uint32  `toml:"target"`
	ExitIndex *uint32 `toml:"exit_index"`
	Result    *int64  `toml:"result"`
	Stack     []int64 `toml:"stack"`
	Locals    []int64 `toml:"locals"`
}

// LoadTraceFile reads a TOML trace file.
func LoadTraceFile(path string) (*TraceFile, error) {
	var f TraceFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, errors.Wrapf(err, "decode trace file %s", path)
	}
	return &f, nil
}

// ParseTraceFile decodes a TOML trace document.
func ParseTraceFile(doc string) (*TraceFile, error) {
	var f TraceFile
	if _, err := toml.Decode(doc, &f); err != nil {
		return nil, errors.Wrap(err, "decode trace document")
	}
	return &f, nil
}

// Trace converts the file's records, resolving op names.
func (f *TraceFile) Trace() (Trace, error) {
	trace := make(Trace, 0, len(f.Records))
	for i, e := range f.Records {
		op, ok := Lookup(e.Op)
		if !ok {
			return nil, errors.Newf("record %d: unknown op %q", i, e.Op)
		}
		trace = append(trace, Record{
			Op:     op,
			Oparg:  e.Oparg,
			Target: e.Target,
			Pos:    Position{Offset: e.Offset, Line: e.Line},
		})
	}
	return trace, nil
}
