package http1

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadersCaseInsensitiveGet(t *testing.T) {
	var h Headers
	h.Add("Content-Type", "text/plain")

	for _, name := range []string{"Content-Type", "content-type", "CONTENT-TYPE", "cOnTeNt-TyPe"} {
		v, ok := h.Get(name)
		require.True(t, ok, "lookup %q", name)
		assert.Equal(t, "text/plain", v)
	}
}

func TestHeadersPreserveWireForm(t *testing.T) {
	var h Headers
	h.Add("x-CUSTOM-header", "v")
	assert.Equal(t, "x-CUSTOM-header", h.All()[0].Name)
}

func TestHeadersDuplicatesAndOrder(t *testing.T) {
	var h Headers
	h.Add("Set-Cookie", "a=1")
	h.Add("Accept", "*/*")
	h.Add("set-cookie", "b=2")

	assert.Equal(t, []string{"a=1", "b=2"}, h.Values("Set-Cookie"))
	assert.Equal(t, 3, h.Len())
	assert.Equal(t, "Set-Cookie", h.All()[0].Name)
	assert.Equal(t, "Accept", h.All()[1].Name)
}

func TestHeadersSetReplacesAllOccurrences(t *testing.T) {
	var h Headers
	h.Add("X-N", "1")
	h.Add("Other", "o")
	h.Add("x-n", "2")

	h.Set("X-N", "3")
	assert.Equal(t, []string{"3"}, h.Values("X-N"))
	assert.Equal(t, 2, h.Len())
	// Position of the first occurrence is kept.
	assert.Equal(t, "X-N", h.All()[0].Name)
}

func TestHeadersSetAppendsWhenAbsent(t *testing.T) {
	var h Headers
	h.Set("X-New", "v")
	v, ok := h.Get("x-new")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestHeadersDel(t *testing.T) {
	var h Headers
	h.Add("A", "1")
	h.Add("B", "2")
	h.Add("a", "3")
	h.Del("A")
	assert.Equal(t, 1, h.Len())
	assert.False(t, h.Has("A"))
	assert.True(t, h.Has("B"))
}

func TestHeadersVisitStops(t *testing.T) {
	var h Headers
	h.Add("A", "1")
	h.Add("B", "2")
	h.Add("C", "3")
	seen := 0
	h.Visit(func(name, value string) bool {
		seen++
		return seen < 2
	})
	assert.Equal(t, 2, seen)
}

func TestHeadersEqual(t *testing.T) {
	var a, b Headers
	a.Add("Host", "x")
	a.Add("Accept", "*/*")
	b.Add("host", "x")
	b.Add("ACCEPT", "*/*")
	assert.True(t, a.Equal(&b))

	b.Add("Extra", "1")
	assert.False(t, a.Equal(&b))
}

func TestHeadersCloneIsIndependent(t *testing.T) {
	var h Headers
	h.Add("A", "1")
	c := h.Clone()
	c.Set("A", "2")
	v, _ := h.Get("A")
	assert.Equal(t, "1", v)
}
