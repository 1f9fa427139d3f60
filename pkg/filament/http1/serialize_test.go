package http1

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/bytebufferpool"

	"github.com/yourusername/filament/pkg/filament/buffer"
)

func TestAppendRequestHead(t *testing.T) {
	var hs Headers
	hs.Add("Host", "x")
	hs.Add("Accept", "*/*")

	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	AppendRequestHead(bb, "GET", "/a?b=1", Version11, &hs)

	assert.Equal(t,
		"GET /a?b=1 HTTP/1.1\r\nHost: x\r\nAccept: */*\r\n\r\n",
		bb.String())
}

func TestAppendResponseHeadDefaultReason(t *testing.T) {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	AppendResponseHead(bb, Version11, 404, "", nil)
	assert.Equal(t, "HTTP/1.1 404 Not Found\r\n\r\n", bb.String())
}

// reparse runs a serialized message back through a fresh parser.
func reparse(t *testing.T, kind Kind, wire []byte) *Message {
	t.Helper()
	p := NewParser(kind, Config{})
	buf := buffer.New()
	buf.Append(wire)
	if kind == KindResponse {
		p.SetEOF()
	}
	require.Equal(t, Complete, p.Parse(buf), "reparse of %q", wire)
	return p.TakeMessage()
}

// assertSemanticallyEqual compares the fields round-tripping must preserve:
// start line, headers (names case-insensitive, order kept) and body.
func assertSemanticallyEqual(t *testing.T, want, got *Message) {
	t.Helper()
	assert.Equal(t, want.Kind, got.Kind)
	assert.Equal(t, want.Version, got.Version)
	assert.Equal(t, want.Method, got.Method)
	assert.Equal(t, want.RawURI, got.RawURI)
	assert.Equal(t, want.StatusCode, got.StatusCode)
	assert.True(t, want.Headers.Equal(&got.Headers), "headers differ")
	assert.Equal(t, want.Body, got.Body)
	assert.Equal(t, want.Chunked, got.Chunked)
}

func TestParseSerializeParseRoundTrip(t *testing.T) {
	wires := []struct {
		name string
		kind Kind
		wire string
	}{
		{"simple GET", KindRequest, "GET /hello HTTP/1.1\r\nHost: x\r\n\r\n"},
		{"POST with body", KindRequest,
			"POST /u HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\n\r\nhello"},
		{"duplicate headers", KindRequest,
			"GET / HTTP/1.1\r\nHost: x\r\nX-T: 1\r\nX-T: 2\r\n\r\n"},
		{"chunked with trailer", KindRequest,
			"POST /u HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n" +
				"b\r\nhello world\r\n0\r\nX-Sum: abc\r\n\r\n"},
		{"response", KindResponse,
			"HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi"},
		{"http10 request", KindRequest, "GET /old HTTP/1.0\r\n\r\n"},
	}
	for _, tc := range wires {
		t.Run(tc.name, func(t *testing.T) {
			first := reparse(t, tc.kind, []byte(tc.wire))

			wire2, err := Serialize(first)
			require.NoError(t, err)
			second := reparse(t, tc.kind, wire2)

			assertSemanticallyEqual(t, first, second)

			// Idempotence: serializing the reparse gives identical bytes.
			wire3, err := Serialize(second)
			require.NoError(t, err)
			assert.Equal(t, wire2, wire3)
		})
	}
}

func TestSerializeIncompleteFails(t *testing.T) {
	m := NewRequest("GET", "/")
	_, err := Serialize(m)
	assert.ErrorIs(t, err, ErrMessageNotComplete)
}

func TestReasonPhraseExtensions(t *testing.T) {
	// RFC 4918 and RFC 6585 additions are part of the table.
	assert.Equal(t, "Unprocessable Entity", ReasonPhrase(422))
	assert.Equal(t, "Locked", ReasonPhrase(423))
	assert.Equal(t, "Too Many Requests", ReasonPhrase(429))
	assert.Equal(t, "Request Header Fields Too Large", ReasonPhrase(431))
	assert.Equal(t, "Insufficient Storage", ReasonPhrase(507))
	assert.Equal(t, "Network Authentication Required", ReasonPhrase(511))
	assert.Equal(t, "Status 299", ReasonPhrase(299))
}
