package uuid

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewIDIsVersion7(t *testing.T) {
	t.Parallel()

	gen := New()
	first, err := gen.NewID()
	require.NoError(t, err)
	second, err := gen.NewID()
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	parsed, err := uuid.Parse(first)
	require.NoError(t, err)
	require.Equal(t, uuid.Version(7), parsed.Version())
}

func TestNewIDUsesReader(t *testing.T) {
	t.Parallel()

	seed := bytes.Repeat([]byte{0xab}, 64)
	id, err := NewWithReader(bytes.NewReader(seed)).NewID()
	require.NoError(t, err)
	// The final group is copied straight from the reader.
	require.Contains(t, id, "abababababab")
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestNewIDReaderError(t *testing.T) {
	t.Parallel()

	_, err := NewWithReader(failingReader{}).NewID()
	require.ErrorContains(t, err, "generate uuid7")
}

func TestKey(t *testing.T) {
	t.Parallel()

	const runID = "01890a5d-ac96-774b-bcce-b302099a8057"
	require.Equal(t, [16]byte(uuid.MustParse(runID)), Key(runID))

	custom := Key("nightly-pricing")
	require.Equal(t, custom, Key("nightly-pricing"))
	require.NotEqual(t, [16]byte{}, custom)
	require.NotEqual(t, custom, Key("nightly-docs"))
}
