package http1

import (
	"strconv"

	"github.com/valyala/bytebufferpool"
)

// AppendRequestHead writes "METHOD SP target SP version CRLF headers CRLF"
// into bb.
func AppendRequestHead(bb *bytebufferpool.ByteBuffer, method, target string, v Version, headers *Headers) {
	bb.WriteString(method)
	bb.WriteByte(' ')
	bb.WriteString(target)
	bb.WriteByte(' ')
	bb.WriteString(v.String())
	bb.Write(crlfBytes)
	appendHeaders(bb, headers)
	bb.Write(crlfBytes)
}

// AppendResponseHead writes "version SP status SP reason CRLF headers CRLF"
// into bb. An empty reason falls back to the standard phrase.
func AppendResponseHead(bb *bytebufferpool.ByteBuffer, v Version, status int, reason string, headers *Headers) {
	if reason == "" {
		reason = ReasonPhrase(status)
	}
	bb.WriteString(v.String())
	bb.WriteByte(' ')
	bb.WriteString(strconv.Itoa(status))
	bb.WriteByte(' ')
	bb.WriteString(reason)
	bb.Write(crlfBytes)
	appendHeaders(bb, headers)
	bb.Write(crlfBytes)
}

func appendHeaders(bb *bytebufferpool.ByteBuffer, headers *Headers) {
	if headers == nil {
		return
	}
	headers.Visit(func(name, value string) bool {
		bb.WriteString(name)
		bb.Write(colonSpace)
		bb.WriteString(value)
		bb.Write(crlfBytes)
		return true
	})
}

// Serialize renders a complete parsed message back to wire form. Chunked
// messages come back as a single data chunk plus the zero-chunk terminator
// and any trailers, so re-parsing yields a semantically equal message.
// Serialization of an incomplete message fails.
func Serialize(m *Message) ([]byte, error) {
	if !m.Complete {
		return nil, ErrMessageNotComplete
	}
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)

	if m.IsRequest() {
		AppendRequestHead(bb, m.Method, m.RawURI, m.Version, &m.Headers)
	} else {
		AppendResponseHead(bb, m.Version, m.StatusCode, m.ReasonPhrase, &m.Headers)
	}

	if m.Chunked {
		if len(m.Body) > 0 {
			bb.WriteString(strconv.FormatInt(int64(len(m.Body)), 16))
			bb.Write(crlfBytes)
			bb.Write(m.Body)
			bb.Write(crlfBytes)
		}
		bb.WriteString("0")
		bb.Write(crlfBytes)
		appendHeaders(bb, &m.Trailers)
		bb.Write(crlfBytes)
	} else {
		bb.Write(m.Body)
	}

	out := make([]byte, bb.Len())
	copy(out, bb.B)
	return out, nil
}
