package main

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/fatih/color"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"

	"tracejit/pkg/config"
	"tracejit/pkg/executor"
	"tracejit/pkg/jit"
	"tracejit/pkg/uop"
	"tracejit/pkg/vm"
)

func newRunCmd() *cobra.Command {
	var (
		interpret bool
		locals    int
		stackSize int
	)
	cmd := &cobra.Command{
		Use:   "run TRACE.toml",
		Short: "Compile and run a trace file, checking it against the interpreter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := uop.LoadTraceFile(args[0])
			if err != nil {
				return err
			}
			trace, err := file.Trace()
			if err != nil {
				return err
			}
			ex, err := executor.New(trace)
			if err != nil {
				return err
			}

			initial := file.Locals
			if locals > len(initial) {
				initial = append(append([]int64(nil), initial...), make([]int64, locals-len(initial))...)
			}
			frame := vm.NewFrameFrom(initial, file.Stack, stackSize)

			if !interpret && cfg.Mode() == config.ModeJIT {
				j, err := compile(ex)
				if err != nil {
					color.Yellow("not compiled: %v", err)
				} else {
					defer j.Free(ex)
				}
			}

			native := frame.Clone()
			var state vm.State
			mode := "interpreted"
			if ex.Native(native) {
				mode = "native"
			}
			if _, err := ex.Run(native, &state); err != nil {
				return err
			}
			got := vm.Capture(native, &state)

			reference := frame.Clone()
			var refState vm.State
			if _, err := vm.InterpretAnalyzed(ex.Trace, ex.Analysis, reference, &refState); err != nil {
				return err
			}
			want := vm.Capture(reference, &refState)

			name := file.Name
			if name == "" {
				name = args[0]
			}
			color.New(color.Bold).Printf("%s ", name)
			fmt.Printf("(%d ops, %s): %s\n", len(trace), mode, got)

			if diff := cmp.Diff(want, got); diff != "" {
				color.Red("native and interpreted runs disagree (-interpreted +%s):\n%s", mode, diff)
				return errors.New("outcome mismatch")
			}
			if err := got.Match(file.Expect); err != nil {
				color.Red("unexpected outcome: %v", err)
				return err
			}
			color.Green("ok")
			return nil
		},
	}
	cmd.Flags().BoolVar(&interpret, "interpret", false, "Skip compilation and interpret")
	cmd.Flags().IntVar(&locals, "locals", 0, "Minimum number of local slots")
	cmd.Flags().IntVar(&stackSize, "stack", 64, "Value stack capacity")
	return cmd
}

func compile(ex *executor.Executor) (*jit.JIT, error) {
	j, err := newJIT()
	if err != nil {
		return nil, err
	}
	if err := j.Compile(ex, ex.Trace); err != nil {
		return nil, err
	}
	logger.Info().Str("executor", ex.ID.String()).Int("bytes", ex.Code().Size()).Msg("compiled")
	return j, nil
}

func newJIT() (*jit.JIT, error) {
	a, err := hostABI("")
	if err != nil {
		return nil, err
	}
	t, err := loadTable(a)
	if err != nil {
		return nil, err
	}
	return jit.New(cfg.JITSettings(), jit.WithTable(t), jit.WithLogger(logger))
}
