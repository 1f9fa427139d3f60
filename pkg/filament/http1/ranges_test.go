package http1

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRangesForms(t *testing.T) {
	r, err := ParseRanges("bytes=0-99, 200-, -50")
	require.NoError(t, err)
	assert.Equal(t, "bytes", r.Unit)
	require.Len(t, r.Specs, 3)

	assert.Equal(t, ByteRange{Start: 0, End: 99, HasStart: true, HasEnd: true}, r.Specs[0])
	assert.Equal(t, ByteRange{Start: 200, HasStart: true}, r.Specs[1])
	assert.Equal(t, ByteRange{End: 50, HasEnd: true}, r.Specs[2])
}

func TestParseRangesRejects(t *testing.T) {
	for _, v := range []string{
		"",
		"bytes",
		"items=0-5",
		"bytes=",
		"bytes=-",
		"bytes=abc-def",
		"bytes=5-2",
	} {
		_, err := ParseRanges(v)
		assert.Error(t, err, "value %q", v)
	}
}

func TestByteRangeResolve(t *testing.T) {
	size := int64(100)

	t.Run("first-last", func(t *testing.T) {
		off, n, ok := ByteRange{Start: 10, End: 19, HasStart: true, HasEnd: true}.Resolve(size)
		require.True(t, ok)
		assert.Equal(t, int64(10), off)
		assert.Equal(t, int64(10), n)
	})
	t.Run("last clamped to size", func(t *testing.T) {
		off, n, ok := ByteRange{Start: 90, End: 500, HasStart: true, HasEnd: true}.Resolve(size)
		require.True(t, ok)
		assert.Equal(t, int64(90), off)
		assert.Equal(t, int64(10), n)
	})
	t.Run("open ended", func(t *testing.T) {
		off, n, ok := ByteRange{Start: 40, HasStart: true}.Resolve(size)
		require.True(t, ok)
		assert.Equal(t, int64(40), off)
		assert.Equal(t, int64(60), n)
	})
	t.Run("suffix", func(t *testing.T) {
		off, n, ok := ByteRange{End: 25, HasEnd: true}.Resolve(size)
		require.True(t, ok)
		assert.Equal(t, int64(75), off)
		assert.Equal(t, int64(25), n)
	})
	t.Run("start past end unsatisfiable", func(t *testing.T) {
		_, _, ok := ByteRange{Start: 100, HasStart: true}.Resolve(size)
		assert.False(t, ok)
	})
}
