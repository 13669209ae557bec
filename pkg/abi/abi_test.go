package abi

import (
	"testing"

	"github.com/stretchr/testify/require"

	"tracejit/pkg/x86"
)

func TestSelect(t *testing.T) {
	tests := []struct {
		target Target
		want   Convention
	}{
		{Target{GOOS: "linux", GOARCH: "amd64", PreserveNone: true}, ZeroLive},
		{Target{GOOS: "darwin", GOARCH: "amd64", PreserveNone: true}, ZeroLive},
		{Target{GOOS: "linux", GOARCH: "amd64"}, Standard},
		{Target{GOOS: "darwin", GOARCH: "arm64", PreserveNone: true}, Standard},
		{Target{GOOS: "linux", GOARCH: "arm64", PreserveNone: true}, ZeroLive},
	}
	for _, tt := range tests {
		t.Run(tt.target.String(), func(t *testing.T) {
			require.Equal(t, tt.want, Select(tt.target).Convention)
		})
	}
}

func TestRegisterAssignment(t *testing.T) {
	amd64 := Target{GOOS: "linux", GOARCH: "amd64", PreserveNone: true}

	z := For(amd64, ZeroLive)
	require.Equal(t, x86.R12, z.Frame)
	require.Equal(t, x86.R13, z.Stack)
	require.Equal(t, x86.R15, z.State)
	require.Equal(t, x86.R11, z.Transfer)

	s := For(amd64, Standard)
	require.Equal(t, x86.RDI, s.Frame)
	require.Equal(t, x86.RSI, s.Stack)
	require.Equal(t, x86.RDX, s.State)

	// trace and scratch registers never collide
	for _, a := range []ABI{z, s} {
		seen := map[x86.Reg]bool{a.Frame: true, a.Stack: true, a.State: true, a.Transfer: true}
		for _, r := range a.Scratch {
			require.False(t, seen[r], "%s reuses %s", a, r)
			seen[r] = true
		}
		require.False(t, seen[x86.RBP])
		require.False(t, seen[x86.R14])
	}
}

func TestResolve(t *testing.T) {
	amd64 := Target{GOOS: "linux", GOARCH: "amd64", PreserveNone: true}

	a, err := Resolve(amd64, "auto")
	require.NoError(t, err)
	require.Equal(t, ZeroLive, a.Convention)

	a, err = Resolve(amd64, "Standard")
	require.NoError(t, err)
	require.Equal(t, Standard, a.Convention)
	require.Equal(t, "linux/amd64/standard", a.String())
	require.Equal(t, "amd64", a.Arch())

	_, err = Resolve(amd64, "fastcall")
	require.Error(t, err)
}

func TestParseConvention(t *testing.T) {
	for in, want := range map[string]Convention{
		"":              0,
		"auto":          0,
		"zero-live":     ZeroLive,
		"preserve-none": ZeroLive,
		" standard ":    Standard,
	} {
		got, err := ParseConvention(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
}
