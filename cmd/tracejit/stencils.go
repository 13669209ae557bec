package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"tracejit/pkg/abi"
	"tracejit/pkg/stencil"
	"tracejit/pkg/stencil/store"
	"tracejit/pkg/uop"
)

func newStencilsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stencils",
		Short: "Build and inspect stencil tables",
	}
	cmd.AddCommand(newStencilsBuildCmd(), newStencilsDumpCmd())
	return cmd
}

func newStencilsBuildCmd() *cobra.Command {
	var storePath string
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Generate the stencil tables for this host, optionally storing them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if storePath == "" {
				storePath = cfg.Stencils.StorePath
			}
			var s *store.Store
			if storePath != "" {
				var err error
				if s, err = store.Open(storePath); err != nil {
					return err
				}
				defer s.Close()
			}

			bold := color.New(color.Bold)
			for _, conv := range []abi.Convention{abi.ZeroLive, abi.Standard} {
				t, err := stencil.Build(abi.For(abi.Host(), conv))
				if err != nil {
					return err
				}
				if s != nil {
					if err := s.Put(t); err != nil {
						return err
					}
				}
				bold.Fprintf(os.Stdout, "%s/%s", t.Arch, t.Convention)
				fmt.Fprintf(os.Stdout, " %d ops, %d bytes, version %s\n", len(t.Ops), tableBytes(t), t.Version)
			}
			if s != nil {
				color.Green("stored in %s", storePath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&storePath, "store", "", "Pebble directory to store the tables in")
	return cmd
}

func newStencilsDumpCmd() *cobra.Command {
	var opName, convention string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print stencils with their holes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := hostABI(convention)
			if err != nil {
				return err
			}
			t, err := loadTable(a)
			if err != nil {
				return err
			}
			fmt.Printf("table %s/%s version %s\n", t.Arch, t.Convention, t.Version)

			if opName != "" {
				op, ok := uop.Lookup(opName)
				if !ok {
					return errors.Newf("unknown op %q", opName)
				}
				s, ok := t.Lookup(op)
				if !ok {
					return errors.Newf("no stencil for %s", op)
				}
				printStencil(op.String(), s)
				return nil
			}
			printStencil("ENTRY", t.Entry)
			for _, op := range t.SortedOps() {
				printStencil(op.String(), t.Ops[op])
			}
			printStencil("NORMAL_EXIT", t.NormalExit)
			printStencil("SIDE_EXIT", t.SideExit)
			return nil
		},
	}
	cmd.Flags().StringVar(&opName, "op", "", "Only dump the stencil for this op")
	cmd.Flags().StringVar(&convention, "convention", "", "zero-live or standard (default: configured)")
	return cmd
}

func printStencil(name string, s stencil.Stencil) {
	color.New(color.FgCyan, color.Bold).Printf("%-20s", name)
	fmt.Printf(" %3d bytes, tail %d\n", len(s.Code), s.Tail)
	fmt.Printf("  %s\n", hex.EncodeToString(s.Code))
	for _, h := range s.Holes {
		color.Yellow("  hole %s", h)
	}
}

func tableBytes(t *stencil.Table) int {
	n := len(t.Entry.Code) + len(t.NormalExit.Code) + len(t.SideExit.Code)
	for _, s := range t.Ops {
		n += len(s.Code)
	}
	return n
}
