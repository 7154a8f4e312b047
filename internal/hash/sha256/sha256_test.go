package sha256

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

const helloWorldDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, helloWorldDigest, got)

	again, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, got, again)
}

func TestDigestMatchesHasher(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	d := NewDigest()
	w := d.TeeWriter(&buf)
	_, err := w.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = w.Write([]byte("world"))
	require.NoError(t, err)

	require.Equal(t, helloWorldDigest, d.Sum())
	require.EqualValues(t, 11, d.Size())
	require.Equal(t, "hello world", buf.String())
}
