package errors

import (
	"io"
	"testing"

	cerrors "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestCompileErrorMessage(t *testing.T) {
	err := Newf(EncodingOverflow, "oparg %d does not fit", 1<<40).At(3, "LOAD_SMALL_INT")
	require.Equal(t, "encoding overflow: oparg 1099511627776 does not fit (LOAD_SMALL_INT at trace[3])", err.Error())

	plain := Newf(MalformedTrace, "empty trace")
	require.Equal(t, "malformed trace: empty trace", plain.Error())
}

func TestKindSentinels(t *testing.T) {
	err := Newf(Unsupported, "no stencil").At(0, "NOP")
	require.True(t, cerrors.Is(err, ErrUnsupported))
	require.False(t, cerrors.Is(err, ErrEncodingOverflow))

	wrapped := cerrors.Wrap(err, "compile")
	require.True(t, cerrors.Is(wrapped, ErrUnsupported))
	require.True(t, IsKind(wrapped, Unsupported))

	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	require.Equal(t, Unsupported, kind)

	_, ok = KindOf(io.EOF)
	require.False(t, ok)
}

func TestWrapKeepsCause(t *testing.T) {
	err := Wrap(ResourceExhausted, io.ErrShortBuffer, "map code memory")
	require.True(t, cerrors.Is(err, io.ErrShortBuffer))
	require.True(t, IsKind(err, ResourceExhausted))
	require.Contains(t, err.Error(), "resource exhaustion: map code memory: ")
}

func TestKindString(t *testing.T) {
	require.Equal(t, "dangling transfer", DanglingTransfer.String())
	require.Equal(t, "kind(42)", Kind(42).String())
}
