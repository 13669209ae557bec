// Package jit compiles micro-op traces to native code by copying and
// patching precomputed stencils.
package jit

import (
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"tracejit/pkg/abi"
	jiterr "tracejit/pkg/errors"
	"tracejit/pkg/executor"
	"tracejit/pkg/stencil"
	"tracejit/pkg/uop"
)

const DefaultMaxCodeSize = 1 << 20

// Config is everything a JIT instance is set up with.
type Config struct {
	// MaxCodeSize bounds the size of one compiled unit in bytes.
	MaxCodeSize int
	// ElideFallthrough drops a fragment's trailing transfer to the next
	// fragment.
	ElideFallthrough bool
	// Convention is "auto", "zero-live" or "standard".
	Convention string
	// Target defaults to the host.
	Target *abi.Target
}

func DefaultConfig() Config {
	return Config{
		MaxCodeSize:      DefaultMaxCodeSize,
		ElideFallthrough: true,
		Convention:       "auto",
	}
}

type Option func(*JIT)

// WithTable injects a prebuilt stencil table instead of generating one.
func WithTable(t *stencil.Table) Option {
	return func(j *JIT) { j.table = t }
}

func WithLogger(log zerolog.Logger) Option {
	return func(j *JIT) { j.log = log }
}

// WithAllocator replaces the executable memory allocator.
func WithAllocator(a Allocator) Option {
	return func(j *JIT) { j.alloc = a }
}

func WithMetrics(m *Metrics) Option {
	return func(j *JIT) { j.metrics = m }
}

// JIT compiles traces for one target. It is safe for concurrent use as
// long as each executor is compiled by one goroutine at a time.
type JIT struct {
	abi      abi.ABI
	table    *stencil.Table
	compiler *Compiler
	alloc    Allocator
	log      zerolog.Logger
	metrics  *Metrics
}

// New configures a JIT. Targets without a stencil table, or tables that
// do not match the selected ABI, are rejected here and never at Compile.
func New(cfg Config, opts ...Option) (*JIT, error) {
	target := abi.Host()
	if cfg.Target != nil {
		target = *cfg.Target
	}
	a, err := abi.Resolve(target, cfg.Convention)
	if err != nil {
		return nil, jiterr.Wrap(jiterr.Configuration, err, "select calling convention")
	}
	if cfg.MaxCodeSize <= 0 {
		return nil, jiterr.Newf(jiterr.Configuration, "max code size must be positive, got %d", cfg.MaxCodeSize)
	}

	j := &JIT{
		abi:   a,
		alloc: DefaultAllocator(),
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.metrics == nil {
		j.metrics = NewMetrics(nil)
	}

	if j.table == nil {
		t, err := stencil.Build(a)
		if err != nil {
			return nil, err
		}
		j.table = t
	}
	if j.table.Arch != a.Arch() || j.table.Convention != a.Convention {
		return nil, jiterr.Newf(jiterr.Configuration, "stencil table %s/%s does not match ABI %s",
			j.table.Arch, j.table.Convention, a)
	}

	j.compiler = NewCompiler(j.table, cfg.MaxCodeSize, cfg.ElideFallthrough)
	j.log.Debug().
		Str("abi", a.String()).
		Str("stencils", j.table.Version).
		Int("max_code_size", cfg.MaxCodeSize).
		Msg("jit configured")
	return j, nil
}

func (j *JIT) ABI() abi.ABI {
	return j.abi
}

func (j *JIT) Table() *stencil.Table {
	return j.table
}

// Compile translates trace into native code and attaches it to ex. On any
// failure nothing is attached and ex keeps running in the interpreter.
func (j *JIT) Compile(ex *executor.Executor, trace uop.Trace) error {
	code, holes, err := j.compile(ex, trace)
	if err != nil {
		j.metrics.failed(err)
		ev := j.log.Debug().Err(err).Str("executor", ex.ID.String()).Int("ops", len(trace))
		if kind, ok := jiterr.KindOf(err); ok {
			ev = ev.Stringer("kind", kind)
		}
		ev.Msg("trace not compiled")
		return err
	}
	if err := ex.Attach(code); err != nil {
		if rerr := code.Release(); rerr != nil {
			j.log.Error().Err(rerr).Str("executor", ex.ID.String()).Msg("release unattached code")
		}
		j.metrics.failed(err)
		return err
	}
	j.metrics.compiled(code.Size(), holes)
	j.log.Debug().
		Str("executor", ex.ID.String()).
		Int("ops", len(trace)).
		Int("bytes", code.Size()).
		Int("holes", holes).
		Msg("trace compiled")
	return nil
}

func (j *JIT) compile(ex *executor.Executor, trace uop.Trace) (*Code, int, error) {
	// Checked before anything is allocated.
	if len(trace) == 0 {
		return nil, 0, jiterr.Newf(jiterr.MalformedTrace, "empty trace")
	}
	if ex.Compiled() {
		return nil, 0, executor.ErrAlreadyAttached
	}
	if !slices.Equal(trace, ex.Trace) {
		return nil, 0, jiterr.Newf(jiterr.MalformedTrace, "trace differs from the executor's trace")
	}

	unit, err := j.compiler.Emit(trace, ex.Analysis)
	if err != nil {
		return nil, 0, err
	}

	b, err := NewBuilder(j.alloc, unit.Size())
	if err != nil {
		return nil, 0, err
	}
	n, err := Link(unit, b.Bytes(), b.Base())
	if err != nil {
		b.Abort()
		return nil, 0, err
	}
	if n != len(unit.Holes) {
		b.Abort()
		return nil, 0, jiterr.Newf(jiterr.DanglingTransfer, "%d of %d holes left unresolved", len(unit.Holes)-n, len(unit.Holes))
	}
	code, err := b.Finalize()
	if err != nil {
		return nil, 0, err
	}
	return code, n, nil
}

// Free detaches and releases ex's code. Freeing an executor without code,
// or freeing twice, does nothing.
func (j *JIT) Free(ex *executor.Executor) {
	code, err := ex.Detach()
	if code == nil {
		return
	}
	if err != nil {
		j.log.Error().Err(errors.WithStack(err)).Str("executor", ex.ID.String()).Msg("release code")
	}
	j.metrics.freed(code.Size())
}
